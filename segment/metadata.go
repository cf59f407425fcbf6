package segment

import (
	"fmt"
	"sort"

	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/keys"
	"github.com/hupe1980/sstindex/rangeiter"
)

// Decode guards against corrupt counts turning into allocation storms.
const (
	maxSegments          = 1 << 20
	maxComponentsPerSeg  = 32
	maxAttrsPerComponent = 256
)

// ComponentRef locates one index segment's slice of a component file and
// carries the attributes its writer recorded.
type ComponentRef struct {
	Offset     int64
	Length     int64
	Root       int64
	Attributes map[string]string
}

// Metadata describes one index segment of one column index. Immutable once
// written; the meta component holds the ordered list of all segments.
//
// Row ids are table-segment-local; posting payloads store them rebased by
// RowIDOffset. MinKey and MaxKey are the token bounds of the covered rows.
type Metadata struct {
	RowIDOffset int64
	NumRows     int64
	MinRowID    int64
	MaxRowID    int64
	MinKey      rangeiter.Token
	MaxKey      rangeiter.Token
	MinTerm     []byte
	MaxTerm     []byte
	Components  map[ComponentKind]ComponentRef
}

// WriteMetadata writes the ordered segment list as the meta component
// payload. Framing around it belongs to the caller.
func WriteMetadata(out *diskio.Output, metas []Metadata) error {
	if err := out.WriteUvarint(uint64(len(metas))); err != nil {
		return err
	}
	for i := range metas {
		if err := writeOneMetadata(out, &metas[i]); err != nil {
			return fmt.Errorf("failed to write segment metadata %d: %w", i, err)
		}
	}
	return nil
}

func writeOneMetadata(out *diskio.Output, m *Metadata) error {
	if m.MinRowID > m.MaxRowID {
		return fmt.Errorf("min row id %d above max %d", m.MinRowID, m.MaxRowID)
	}

	for _, v := range []int64{m.RowIDOffset, m.NumRows, m.MinRowID, m.MaxRowID} {
		if err := out.WriteUvarint(uint64(v)); err != nil {
			return err
		}
	}
	if err := out.WriteBlob(keys.AppendInt64(nil, int64(m.MinKey))); err != nil {
		return err
	}
	if err := out.WriteBlob(keys.AppendInt64(nil, int64(m.MaxKey))); err != nil {
		return err
	}
	if err := out.WriteBlob(m.MinTerm); err != nil {
		return err
	}
	if err := out.WriteBlob(m.MaxTerm); err != nil {
		return err
	}

	kinds := make([]ComponentKind, 0, len(m.Components))
	for kind := range m.Components {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	if err := out.WriteUvarint(uint64(len(kinds))); err != nil {
		return err
	}
	for _, kind := range kinds {
		ref := m.Components[kind]
		if err := out.WriteUvarint(uint64(kind)); err != nil {
			return err
		}
		for _, v := range []int64{ref.Offset, ref.Length, ref.Root} {
			if err := out.WriteUvarint(uint64(v)); err != nil {
				return err
			}
		}

		attrs := make([]string, 0, len(ref.Attributes))
		for k := range ref.Attributes {
			attrs = append(attrs, k)
		}
		sort.Strings(attrs)
		if err := out.WriteUvarint(uint64(len(attrs))); err != nil {
			return err
		}
		for _, k := range attrs {
			if err := out.WriteBlob([]byte(k)); err != nil {
				return err
			}
			if err := out.WriteBlob([]byte(ref.Attributes[k])); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadMetadata reads the segment list written by WriteMetadata.
func ReadMetadata(in *diskio.Input) ([]Metadata, error) {
	count := in.Uvarint()
	if err := in.Err(); err != nil {
		return nil, err
	}
	if count > maxSegments {
		return nil, fmt.Errorf("implausible segment count %d", count)
	}

	metas := make([]Metadata, 0, count)
	for i := uint64(0); i < count; i++ {
		m, err := readOneMetadata(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read segment metadata %d: %w", i, err)
		}
		metas = append(metas, m)
	}
	return metas, nil
}

func readOneMetadata(in *diskio.Input) (Metadata, error) {
	var m Metadata
	m.RowIDOffset = int64(in.Uvarint())
	m.NumRows = int64(in.Uvarint())
	m.MinRowID = int64(in.Uvarint())
	m.MaxRowID = int64(in.Uvarint())

	minKey := in.Blob()
	maxKey := in.Blob()
	m.MinTerm = in.Blob()
	m.MaxTerm = in.Blob()

	compCount := in.Uvarint()
	if err := in.Err(); err != nil {
		return Metadata{}, err
	}
	if len(minKey) != keys.Int64Width || len(maxKey) != keys.Int64Width {
		return Metadata{}, fmt.Errorf("bad key blob widths %d/%d", len(minKey), len(maxKey))
	}
	m.MinKey = rangeiter.Token(keys.DecodeInt64(minKey))
	m.MaxKey = rangeiter.Token(keys.DecodeInt64(maxKey))
	if m.MinRowID > m.MaxRowID {
		return Metadata{}, fmt.Errorf("min row id %d above max %d", m.MinRowID, m.MaxRowID)
	}
	if compCount > maxComponentsPerSeg {
		return Metadata{}, fmt.Errorf("implausible component count %d", compCount)
	}

	m.Components = make(map[ComponentKind]ComponentRef, compCount)
	for i := uint64(0); i < compCount; i++ {
		kind := ComponentKind(in.Uvarint())
		var ref ComponentRef
		ref.Offset = int64(in.Uvarint())
		ref.Length = int64(in.Uvarint())
		ref.Root = int64(in.Uvarint())
		attrCount := in.Uvarint()
		if err := in.Err(); err != nil {
			return Metadata{}, err
		}
		if kind < GroupCompletionMarker || kind > MissingValues {
			return Metadata{}, fmt.Errorf("unknown component kind %d", kind)
		}
		if attrCount > maxAttrsPerComponent {
			return Metadata{}, fmt.Errorf("implausible attribute count %d", attrCount)
		}
		if attrCount > 0 {
			ref.Attributes = make(map[string]string, attrCount)
			for j := uint64(0); j < attrCount; j++ {
				k := string(in.Blob())
				v := string(in.Blob())
				ref.Attributes[k] = v
			}
		}
		m.Components[kind] = ref
	}
	if err := in.Err(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}
