package pk

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/rangeiter"
)

const tokenWidth = 8

// WriteTokens writes the token-values payload: one fixed-width token per row,
// indexed directly by row id. Framing around the payload belongs to the
// caller.
func WriteTokens(out *diskio.Output, tokens []rangeiter.Token) error {
	var last rangeiter.Token
	for i, t := range tokens {
		if i > 0 && t < last {
			return fmt.Errorf("%w: token %d at row %d after %d", ErrTokenOrder, t, i, last)
		}
		if err := out.WriteUint64(uint64(t)); err != nil {
			return fmt.Errorf("failed to write token %d: %w", i, err)
		}
		last = t
	}
	return nil
}

// DiskMap is a Map over the token-values component bytes, typically a
// read-only mapping of the file. Lookups decode fixed-width slots in place;
// nothing is copied at open.
type DiskMap struct {
	data []byte
	off  int64
	n    int64
}

// OpenDisk interprets length bytes at off as a payload written by
// WriteTokens.
func OpenDisk(data []byte, off, length int64) (*DiskMap, error) {
	if off < 0 || length < 0 || off+length > int64(len(data)) {
		return nil, fmt.Errorf("token extent [%d,%d) outside %d bytes", off, off+length, len(data))
	}
	if length%tokenWidth != 0 {
		return nil, fmt.Errorf("token payload length %d not a multiple of %d", length, tokenWidth)
	}
	return &DiskMap{data: data, off: off, n: length / tokenWidth}, nil
}

func (m *DiskMap) token(i int64) rangeiter.Token {
	return rangeiter.Token(binary.LittleEndian.Uint64(m.data[m.off+i*tokenWidth:]))
}

func (m *DiskMap) TokenForRow(rowID int64) (rangeiter.Token, error) {
	if rowID < 0 || rowID >= m.n {
		return 0, fmt.Errorf("%w: %d of %d", ErrRowRange, rowID, m.n)
	}
	return m.token(rowID), nil
}

func (m *DiskMap) CeilingRow(target rangeiter.Token) (int64, error) {
	i := sort.Search(int(m.n), func(i int) bool { return m.token(int64(i)) >= target })
	if int64(i) == m.n {
		return RowNotFound, nil
	}
	return int64(i), nil
}

func (m *DiskMap) NumRows() int64 { return m.n }

var (
	_ Map = (*MemoryMap)(nil)
	_ Map = (*DiskMap)(nil)
)
