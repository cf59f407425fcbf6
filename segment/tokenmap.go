package segment

import (
	"fmt"

	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/internal/mmap"
	"github.com/hupe1980/sstindex/pk"
)

// TokenMap is the read-only view of a group's token-values component
// through the primary-key map interface. It holds the mapping open for its
// own lifetime.
type TokenMap struct {
	*pk.DiskMap
	mapping *mmap.Mapping
}

// OpenTokenMap maps the token-values component of a table segment. The
// framing is always checked; with checksum set the full file checksum is
// recomputed as well.
func OpenTokenMap(d Descriptor, checksum bool) (*TokenMap, error) {
	path := d.FileFor(TokenValues)
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map token values: %w", err)
	}

	data := m.Bytes()
	if err := CheckComponent(data, path, TokenValues, checksum); err != nil {
		m.Close()
		return nil, err
	}

	dm, err := pk.OpenDisk(data, diskio.HeaderSize, int64(len(data))-diskio.HeaderSize-diskio.FooterSize)
	if err != nil {
		m.Close()
		return nil, &CorruptError{Path: path, Kind: TokenValues, Err: err}
	}
	return &TokenMap{DiskMap: dm, mapping: m}, nil
}

// Close unmaps the component. The map must not be used afterwards.
func (t *TokenMap) Close() error {
	return t.mapping.Close()
}
