package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sstindex/internal/diskio"
)

// Ordinal is a dense id internal to a similarity graph, distinct from the
// sparse external row id.
type Ordinal int32

// NotFound is returned by OrdinalForRow for rows without a vector. Rows
// legitimately lack vectors, so absence is not an error.
const NotFound Ordinal = -1

var (
	ErrRowOrder   = errors.New("rows per ordinal must be ascending")
	ErrNoOrdinals = errors.New("no ordinals added")
)

// Builder accumulates ordinal to row associations and tombstones for one
// segment's map. Ordinals must end up dense: every ordinal in [0, max] needs
// at least one row by the time Write is called.
type Builder struct {
	rows    [][]int64
	deleted *roaring.Bitmap
	count   int64
}

func NewBuilder() *Builder {
	return &Builder{deleted: roaring.New()}
}

// Add associates rowID with ord. Rows of one ordinal must arrive ascending.
func (b *Builder) Add(ord Ordinal, rowID int64) error {
	for int(ord) >= len(b.rows) {
		b.rows = append(b.rows, nil)
	}
	rows := b.rows[ord]
	if len(rows) > 0 && rowID <= rows[len(rows)-1] {
		return fmt.Errorf("%w: %d after %d", ErrRowOrder, rowID, rows[len(rows)-1])
	}
	b.rows[ord] = append(rows, rowID)
	b.count++
	return nil
}

// Delete tombstones an ordinal. Its rows stay in the map but approximate
// search will never surface them.
func (b *Builder) Delete(ord Ordinal) {
	b.deleted.Add(uint32(ord))
}

// NumOrdinals returns how many ordinals have been seen so far.
func (b *Builder) NumOrdinals() int { return len(b.rows) }

// NumRows returns how many row associations have been added.
func (b *Builder) NumRows() int64 { return b.count }

// RowBounds returns the smallest and largest row id added; ok is false while
// the builder is empty.
func (b *Builder) RowBounds() (min, max int64, ok bool) {
	for _, rows := range b.rows {
		if len(rows) == 0 {
			continue
		}
		lo, hi := rows[0], rows[len(rows)-1]
		if !ok {
			min, max, ok = lo, hi, true
			continue
		}
		if lo < min {
			min = lo
		}
		if hi > max {
			max = hi
		}
	}
	return min, max, ok
}

// Result reports the extent of a written map.
type Result struct {
	Off      int64
	Len      int64
	Ordinals int
	RowCount int64
}

// Write lays the map out at out's current position: the tombstone header,
// the ordinal slot array with its row-id blocks, the row-to-ordinal section
// sorted by row id, and the trailer holding that section's offset.
func (b *Builder) Write(out *diskio.Output) (*Result, error) {
	if len(b.rows) == 0 {
		return nil, ErrNoOrdinals
	}
	for ord, rows := range b.rows {
		if len(rows) == 0 {
			return nil, fmt.Errorf("ordinal %d has no rows", ord)
		}
	}

	start := out.Position()

	deleted := b.deleted.ToArray()
	if err := out.WriteUint32(uint32(len(deleted))); err != nil {
		return nil, err
	}
	for _, ord := range deleted {
		if err := out.WriteUint32(ord); err != nil {
			return nil, err
		}
	}

	// Slots hold absolute offsets of the row blocks that follow them, so
	// the blocks are encoded up front to know where each one lands.
	size := len(b.rows)
	blockOffs := make([]int64, size)
	var blocks []byte
	for ord, rows := range b.rows {
		blockOffs[ord] = int64(len(blocks))
		blocks = appendRowBlock(blocks, rows)
	}

	base := out.Position()
	if err := out.WriteUint32(uint32(size)); err != nil {
		return nil, err
	}
	blocksStart := base + 4 + int64(size)*8
	for _, rel := range blockOffs {
		if err := out.WriteUint64(uint64(blocksStart + rel)); err != nil {
			return nil, err
		}
	}
	if _, err := out.Write(blocks); err != nil {
		return nil, err
	}

	type rowOrd struct {
		row int64
		ord Ordinal
	}
	pairs := make([]rowOrd, 0, b.count)
	for ord, rows := range b.rows {
		for _, row := range rows {
			pairs = append(pairs, rowOrd{row: row, ord: Ordinal(ord)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].row < pairs[j].row })

	reverseOff := out.Position()
	for _, p := range pairs {
		if err := out.WriteUint64(uint64(p.row)); err != nil {
			return nil, err
		}
		if err := out.WriteUint64(uint64(p.ord)); err != nil {
			return nil, err
		}
	}
	if err := out.WriteUint64(uint64(reverseOff)); err != nil {
		return nil, err
	}

	return &Result{
		Off:      start,
		Len:      out.Position() - start,
		Ordinals: size,
		RowCount: b.count,
	}, nil
}

func appendRowBlock(dst []byte, rows []int64) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(rows)))
	dst = binary.AppendUvarint(dst, uint64(rows[0]))
	for i := 1; i < len(rows); i++ {
		dst = binary.AppendUvarint(dst, uint64(rows[i]-rows[i-1]))
	}
	return dst
}

// OrdinalMap is the read side. data is a view into the mapped component
// file; the map does not own it.
type OrdinalMap struct {
	data []byte

	base         int64
	size         int
	deleted      *roaring.Bitmap
	reverseOff   int64
	reverseCount int64
}

// OpenMap parses the map written at [off, off+length).
func OpenMap(data []byte, off, length int64) (*OrdinalMap, error) {
	if length < 16 {
		return nil, errors.New("ordinal map region too short")
	}
	end := off + length

	in := diskio.NewInputAt(data, off)
	deletedCount := int64(in.Uint32())
	deleted := roaring.New()
	for i := int64(0); i < deletedCount && in.Err() == nil; i++ {
		deleted.Add(in.Uint32())
	}
	base := in.Pos()
	size := int64(in.Uint32())
	if err := in.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ordinal map header: %w", err)
	}

	tr := diskio.NewInputAt(data, end-8)
	reverseOff := int64(tr.Uint64())
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ordinal map trailer: %w", err)
	}
	slotsEnd := base + 4 + size*8
	if size <= 0 || slotsEnd > end || reverseOff < slotsEnd || reverseOff > end-8 || (end-8-reverseOff)%16 != 0 {
		return nil, errors.New("invalid ordinal map layout")
	}

	return &OrdinalMap{
		data:         data,
		base:         base,
		size:         int(size),
		deleted:      deleted,
		reverseOff:   reverseOff,
		reverseCount: (end - 8 - reverseOff) / 16,
	}, nil
}

// Size returns the number of ordinals, tombstoned ones included.
func (m *OrdinalMap) Size() int { return m.size }

// RowCount returns the number of rows carrying a vector.
func (m *OrdinalMap) RowCount() int64 { return m.reverseCount }

func (m *OrdinalMap) DeletedCount() int { return int(m.deleted.GetCardinality()) }

func (m *OrdinalMap) IsDeleted(ord Ordinal) bool { return m.deleted.Contains(uint32(ord)) }

// RowsForOrdinal returns the ascending row ids sharing ord's vector value:
// one direct slot read, one block read.
func (m *OrdinalMap) RowsForOrdinal(ord Ordinal) ([]int64, error) {
	if ord < 0 || int(ord) >= m.size {
		return nil, fmt.Errorf("ordinal %d out of range", ord)
	}
	slot := diskio.NewInputAt(m.data, m.base+4+int64(ord)*8)
	blockOff := int64(slot.Uint64())
	if err := slot.Err(); err != nil {
		return nil, err
	}

	in := diskio.NewInputAt(m.data, blockOff)
	count := in.Uvarint()
	rows := make([]int64, 0, count)
	var row int64
	for i := uint64(0); i < count; i++ {
		row += int64(in.Uvarint())
		rows = append(rows, row)
	}
	if err := in.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows for ordinal %d: %w", ord, err)
	}
	return rows, nil
}

// OrdinalForRow binary-searches the row-sorted reverse section. Rows
// without a vector yield NotFound.
func (m *OrdinalMap) OrdinalForRow(rowID int64) (Ordinal, error) {
	entry := func(i int64) int64 {
		return int64(diskio.NewInputAt(m.data, m.reverseOff+i*16).Uint64())
	}
	i := int64(sort.Search(int(m.reverseCount), func(i int) bool {
		return entry(int64(i)) >= rowID
	}))
	if i == m.reverseCount || entry(i) != rowID {
		return NotFound, nil
	}
	in := diskio.NewInputAt(m.data, m.reverseOff+i*16+8)
	ord := Ordinal(in.Uint64())
	if err := in.Err(); err != nil {
		return NotFound, err
	}
	return ord, nil
}

// IgnoringDeleted wraps an acceptance test so that tombstoned ordinals are
// rejected without touching the graph. A nil accept admits everything else.
func (m *OrdinalMap) IgnoringDeleted(accept func(Ordinal) bool) func(Ordinal) bool {
	if m.deleted.IsEmpty() {
		if accept == nil {
			return func(Ordinal) bool { return true }
		}
		return accept
	}
	return func(ord Ordinal) bool {
		if m.deleted.Contains(uint32(ord)) {
			return false
		}
		return accept == nil || accept(ord)
	}
}
