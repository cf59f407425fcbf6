package pk

import (
	"fmt"
	"sort"

	"github.com/hupe1980/sstindex/rangeiter"
)

// MemoryMap is a Map over an in-memory token slice, used at memtable flush
// where the tokens are still resident.
type MemoryMap struct {
	tokens []rangeiter.Token
}

// NewMemoryMap wraps the given tokens, indexed by row id. The slice is not
// copied and must stay untouched for the lifetime of the map.
func NewMemoryMap(tokens []rangeiter.Token) (*MemoryMap, error) {
	for i := 1; i < len(tokens); i++ {
		if tokens[i] < tokens[i-1] {
			return nil, fmt.Errorf("%w: token %d at row %d after %d", ErrTokenOrder, tokens[i], i, tokens[i-1])
		}
	}
	return &MemoryMap{tokens: tokens}, nil
}

func (m *MemoryMap) TokenForRow(rowID int64) (rangeiter.Token, error) {
	if rowID < 0 || rowID >= int64(len(m.tokens)) {
		return 0, fmt.Errorf("%w: %d of %d", ErrRowRange, rowID, len(m.tokens))
	}
	return m.tokens[rowID], nil
}

func (m *MemoryMap) CeilingRow(target rangeiter.Token) (int64, error) {
	i := sort.Search(len(m.tokens), func(i int) bool { return m.tokens[i] >= target })
	if i == len(m.tokens) {
		return RowNotFound, nil
	}
	return int64(i), nil
}

func (m *MemoryMap) NumRows() int64 { return int64(len(m.tokens)) }
