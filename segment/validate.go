package segment

import (
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/internal/fs"
)

// Validate structurally checks every component of one column index: header
// magic, version and footer magic. The completion marker and the opaque
// graph component are exempt; a present missing-values component is
// included. Any failure means the column index must be rebuilt.
func Validate(fsys fs.FileSystem, d Descriptor, index string, kind Kind) error {
	return validateColumn(fsys, d, index, kind, false)
}

// ValidateChecksum checks structure and additionally recomputes every
// component's checksum against its footer.
func ValidateChecksum(fsys fs.FileSystem, d Descriptor, index string, kind Kind) error {
	return validateColumn(fsys, d, index, kind, true)
}

func validateColumn(fsys fs.FileSystem, d Descriptor, index string, kind Kind, checksum bool) error {
	comps := ColumnComponents(kind)
	if comps == nil {
		return fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	for _, ck := range comps {
		if ck == ColumnCompletionMarker || ck == VectorGraph {
			continue
		}
		if err := validateFile(fsys, d.FileForIndex(ck, index), ck, checksum); err != nil {
			return err
		}
	}

	// Optional component, validated only when the flush produced one.
	path := d.FileForIndex(MissingValues, index)
	if _, err := fsys.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &CorruptError{Path: path, Kind: MissingValues, Err: err}
	}
	return validateFile(fsys, path, MissingValues, checksum)
}

func validateFile(fsys fs.FileSystem, path string, kind ComponentKind, checksum bool) error {
	data, err := readComponent(fsys, path)
	if err != nil {
		return &CorruptError{Path: path, Kind: kind, Err: err}
	}
	return CheckComponent(data, path, kind, checksum)
}

// CheckComponent validates the framing of a loaded component image: header
// magic and version, footer magic and, with checksum set, the recomputed
// file checksum. Failures are reported as a CorruptError carrying path and
// kind.
func CheckComponent(data []byte, path string, kind ComponentKind, checksum bool) error {
	if err := diskio.CheckHeader(data, componentMagic, componentVersion); err != nil {
		return &CorruptError{Path: path, Kind: kind, Err: err}
	}
	if err := diskio.CheckFooter(data); err != nil {
		return &CorruptError{Path: path, Kind: kind, Err: err}
	}
	if checksum {
		if err := diskio.VerifyChecksum(data); err != nil {
			return &CorruptError{Path: path, Kind: kind, Err: err}
		}
	}
	return nil
}

func readComponent(fsys fs.FileSystem, path string) ([]byte, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
