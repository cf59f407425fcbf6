package postings

import (
	"errors"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// EndOfList is returned by Next and Advance when a posting list is
// exhausted.
const EndOfList int64 = math.MaxInt64

// ErrNonMonotonic signals a row id added or requested out of order.
var ErrNonMonotonic = errors.New("postings: row ids must be ascending")

// PostingList is a single-pass ascending stream of row ids.
//
// Next returns the next row id; Advance returns the first row id at or above
// target, skipping everything below it. Both return EndOfList once the list
// is exhausted and keep returning it thereafter. Advance targets must not
// decrease. Close releases whatever the list wraps and must be called exactly
// once on every exit path.
type PostingList interface {
	Size() int64
	Next() (int64, error)
	Advance(target int64) (int64, error)
	Close() error
}

// Slice is an in-memory PostingList over a sorted row-id slice.
type Slice struct {
	rows []int64
	pos  int
}

// NewSlice creates a PostingList over rows, which must be sorted ascending.
func NewSlice(rows []int64) *Slice {
	return &Slice{rows: rows}
}

func (s *Slice) Size() int64 { return int64(len(s.rows)) }

func (s *Slice) Next() (int64, error) {
	if s.pos >= len(s.rows) {
		return EndOfList, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *Slice) Advance(target int64) (int64, error) {
	for s.pos < len(s.rows) && s.rows[s.pos] < target {
		s.pos++
	}
	return s.Next()
}

func (s *Slice) Close() error { return nil }

// Bitmap adapts a roaring bitmap of segment-local row ids to a PostingList.
type Bitmap struct {
	size int64
	it   roaring.IntPeekable
}

// NewBitmap creates a PostingList over the set bits of bm. The bitmap must
// not be mutated while the list is in use.
func NewBitmap(bm *roaring.Bitmap) *Bitmap {
	return &Bitmap{size: int64(bm.GetCardinality()), it: bm.Iterator()}
}

func (b *Bitmap) Size() int64 { return b.size }

func (b *Bitmap) Next() (int64, error) {
	if !b.it.HasNext() {
		return EndOfList, nil
	}
	return int64(b.it.Next()), nil
}

func (b *Bitmap) Advance(target int64) (int64, error) {
	if target > math.MaxUint32 {
		return EndOfList, nil
	}
	b.it.AdvanceIfNeeded(uint32(target))
	return b.Next()
}

func (b *Bitmap) Close() error { return nil }

// Peekable decorates a PostingList with one element of lookahead so merge
// heaps can order children by their next row id without consuming it.
type Peekable struct {
	PostingList

	head   int64
	loaded bool
}

// NewPeekable wraps pl. The wrapper owns pl's lifecycle.
func NewPeekable(pl PostingList) *Peekable {
	return &Peekable{PostingList: pl}
}

// Peek returns the next row id without consuming it.
func (p *Peekable) Peek() (int64, error) {
	if !p.loaded {
		v, err := p.PostingList.Next()
		if err != nil {
			return 0, err
		}
		p.head = v
		p.loaded = true
	}
	return p.head, nil
}

// Next consumes and returns the next row id.
func (p *Peekable) Next() (int64, error) {
	if p.loaded {
		p.loaded = false
		return p.head, nil
	}
	return p.PostingList.Next()
}

// Advance consumes and returns the first row id at or above target.
func (p *Peekable) Advance(target int64) (int64, error) {
	if p.loaded {
		p.loaded = false
		if p.head >= target {
			return p.head, nil
		}
	}
	return p.PostingList.Advance(target)
}

// AdvanceHead positions the lookahead at the first row id at or above target
// without consuming it.
func (p *Peekable) AdvanceHead(target int64) error {
	if p.loaded && p.head >= target {
		return nil
	}
	p.loaded = false
	v, err := p.PostingList.Advance(target)
	if err != nil {
		return err
	}
	p.head = v
	p.loaded = true
	return nil
}

// SkippedBlocks reports how many encoded blocks pl bypassed through skip
// tables without decoding, looking through merge and lookahead wrappers.
// Lists without a skip table report zero.
func SkippedBlocks(pl PostingList) int64 {
	switch v := pl.(type) {
	case *Reader:
		return v.BlocksSkipped()
	case *Peekable:
		return SkippedBlocks(v.PostingList)
	case *mergeList:
		var n int64
		for _, c := range v.children {
			n += SkippedBlocks(c)
		}
		return n
	default:
		return 0
	}
}
