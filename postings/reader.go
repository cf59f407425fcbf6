package postings

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
)

// Reader streams a posting list written by Writer. It reads over the
// component's mapped bytes and owns no resources of its own; Close only
// marks it done.
type Reader struct {
	data        []byte
	compression compress.Type

	blockMax    []int64
	blockOffset []int64
	size        int64

	decoded int // index of the decoded block, -1 before the first
	cur     []int64
	curPos  int
	done    bool
	skipped int64
}

// OpenReader parses the skip table at root and returns a reader positioned
// before the first row id. data holds the full component bytes.
func OpenReader(data []byte, root int64, compression compress.Type) (*Reader, error) {
	in := diskio.NewInputAt(data, root)
	blockCount := in.Uvarint()
	total := in.Uvarint()

	maxes := make([]int64, blockCount)
	prev := int64(0)
	for i := range maxes {
		prev += int64(in.Uvarint())
		maxes[i] = prev
	}
	offsets := make([]int64, blockCount)
	prev = 0
	for i := range offsets {
		prev += int64(in.Uvarint())
		offsets[i] = prev
	}
	if err := in.Err(); err != nil {
		return nil, fmt.Errorf("posting skip table at %d: %w", root, err)
	}

	return &Reader{
		data:        data,
		compression: compression,
		blockMax:    maxes,
		blockOffset: offsets,
		size:        int64(total),
		decoded:     -1,
	}, nil
}

func (r *Reader) Size() int64 { return r.size }

// BlocksSkipped reports how many blocks Advance bypassed without decoding.
func (r *Reader) BlocksSkipped() int64 { return r.skipped }

func (r *Reader) decodeBlock(idx int) error {
	off := r.blockOffset[idx]
	if off < 0 || off >= int64(len(r.data)) {
		return fmt.Errorf("posting block %d offset %d out of range", idx, off)
	}
	payload, _, err := compress.Decompress(r.data[off:], r.compression)
	if err != nil {
		return fmt.Errorf("posting block %d: %w", idx, err)
	}

	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return fmt.Errorf("posting block %d: bad count", idx)
	}
	payload = payload[n:]

	if cap(r.cur) < int(count) {
		r.cur = make([]int64, count)
	}
	r.cur = r.cur[:count]

	row := int64(0)
	for i := range r.cur {
		delta, n := binary.Uvarint(payload)
		if n <= 0 {
			return fmt.Errorf("posting block %d: truncated at row %d", idx, i)
		}
		payload = payload[n:]
		row += int64(delta)
		r.cur[i] = row
	}

	r.decoded = idx
	r.curPos = 0
	return nil
}

func (r *Reader) Next() (int64, error) {
	for {
		if r.curPos < len(r.cur) {
			row := r.cur[r.curPos]
			r.curPos++
			return row, nil
		}
		next := r.decoded + 1
		if r.done || next >= len(r.blockOffset) {
			r.done = true
			return EndOfList, nil
		}
		if err := r.decodeBlock(next); err != nil {
			r.done = true
			return EndOfList, err
		}
	}
}

func (r *Reader) Advance(target int64) (int64, error) {
	if r.done {
		return EndOfList, nil
	}

	// First block whose max can hold target.
	idx := sort.Search(len(r.blockMax), func(i int) bool { return r.blockMax[i] >= target })
	if idx >= len(r.blockMax) {
		r.done = true
		r.curPos = len(r.cur)
		return EndOfList, nil
	}

	// Never rewind: stay on the decoded block when it already covers target.
	if idx > r.decoded {
		r.skipped += int64(idx - r.decoded - 1)
		if err := r.decodeBlock(idx); err != nil {
			r.done = true
			return EndOfList, err
		}
	}

	for r.curPos < len(r.cur) && r.cur[r.curPos] < target {
		r.curPos++
	}
	return r.Next()
}

func (r *Reader) Close() error {
	r.done = true
	return nil
}
