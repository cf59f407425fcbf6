package postings

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
)

// DefaultBlockSize is the number of row ids per posting block.
const DefaultBlockSize = 128

// Writer encodes one posting list as delta blocks followed by a skip table.
//
// Layout per block:
//
//	[compress frame: uvarint count | uvarint firstRow | uvarint deltas...]
//
// Skip table at the root position:
//
//	uvarint blockCount | uvarint totalCount
//	blockCount x uvarint maxRow (delta-encoded, ascending)
//	blockCount x uvarint blockOffset (delta-encoded, ascending)
type Writer struct {
	out         *diskio.Output
	blockSize   int
	compression compress.Type

	rows        []int64
	blockMax    []int64
	blockOffset []int64
	count       int64
	lastRow     int64
	payload     []byte
}

// NewWriter creates a posting writer appending to out. blockSize <= 0 selects
// DefaultBlockSize.
func NewWriter(out *diskio.Output, blockSize int, compression compress.Type) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Writer{
		out:         out,
		blockSize:   blockSize,
		compression: compression,
		rows:        make([]int64, 0, blockSize),
		lastRow:     -1,
	}
}

// Count returns the number of row ids added so far.
func (w *Writer) Count() int64 { return w.count }

// Add appends a row id. Ids must be strictly ascending.
func (w *Writer) Add(rowID int64) error {
	if rowID <= w.lastRow {
		return fmt.Errorf("%w: %d after %d", ErrNonMonotonic, rowID, w.lastRow)
	}
	w.lastRow = rowID
	w.rows = append(w.rows, rowID)
	w.count++
	if len(w.rows) >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.rows) == 0 {
		return nil
	}

	w.payload = w.payload[:0]
	w.payload = binary.AppendUvarint(w.payload, uint64(len(w.rows)))
	w.payload = binary.AppendUvarint(w.payload, uint64(w.rows[0]))
	for i := 1; i < len(w.rows); i++ {
		w.payload = binary.AppendUvarint(w.payload, uint64(w.rows[i]-w.rows[i-1]))
	}

	block, err := compress.Compress(w.payload, w.compression)
	if err != nil {
		return err
	}

	w.blockOffset = append(w.blockOffset, w.out.Position())
	w.blockMax = append(w.blockMax, w.rows[len(w.rows)-1])
	w.rows = w.rows[:0]

	_, err = w.out.Write(block)
	return err
}

// Finish flushes the tail block and writes the skip table, returning its
// file position: the posting list's root. The writer must not be used after
// Finish.
func (w *Writer) Finish() (int64, error) {
	if err := w.flushBlock(); err != nil {
		return 0, err
	}

	root := w.out.Position()
	if err := w.out.WriteUvarint(uint64(len(w.blockMax))); err != nil {
		return 0, err
	}
	if err := w.out.WriteUvarint(uint64(w.count)); err != nil {
		return 0, err
	}

	prev := int64(0)
	for _, max := range w.blockMax {
		if err := w.out.WriteUvarint(uint64(max - prev)); err != nil {
			return 0, err
		}
		prev = max
	}
	prev = 0
	for _, off := range w.blockOffset {
		if err := w.out.WriteUvarint(uint64(off - prev)); err != nil {
			return 0, err
		}
		prev = off
	}

	return root, nil
}
