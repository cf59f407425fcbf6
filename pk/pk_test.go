package pk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/internal/fs"
	"github.com/hupe1980/sstindex/rangeiter"
)

// fixture tokens: negative run, duplicates, a gap before the tail.
var fixtureTokens = []rangeiter.Token{-50, -50, -7, 0, 3, 3, 3, 9}

func buildDiskMap(t *testing.T, tokens []rangeiter.Token) *DiskMap {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.db")
	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	require.NoError(t, err)

	out := diskio.NewOutput(f)
	require.NoError(t, diskio.WriteHeader(out, 0x746b, 1))
	payloadOff := out.Position()
	require.NoError(t, WriteTokens(out, tokens))
	payloadLen := out.Position() - payloadOff
	require.NoError(t, diskio.WriteFooter(out))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := OpenDisk(data, payloadOff, payloadLen)
	require.NoError(t, err)
	return m
}

func checkMap(t *testing.T, m Map) {
	t.Helper()
	require.Equal(t, int64(len(fixtureTokens)), m.NumRows())

	for row, want := range fixtureTokens {
		got, err := m.TokenForRow(int64(row))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := m.TokenForRow(-1)
	assert.ErrorIs(t, err, ErrRowRange)
	_, err = m.TokenForRow(int64(len(fixtureTokens)))
	assert.ErrorIs(t, err, ErrRowRange)

	cases := []struct {
		target rangeiter.Token
		row    int64
	}{
		{target: -100, row: 0},
		{target: -50, row: 0},
		{target: -49, row: 2},
		{target: 0, row: 3},
		{target: 1, row: 4},
		{target: 3, row: 4},
		{target: 4, row: 7},
		{target: 9, row: 7},
		{target: 10, row: RowNotFound},
	}
	for _, tc := range cases {
		row, err := m.CeilingRow(tc.target)
		require.NoError(t, err)
		assert.Equal(t, tc.row, row, "ceiling of %d", tc.target)
	}
}

func TestMemoryMap(t *testing.T) {
	m, err := NewMemoryMap(fixtureTokens)
	require.NoError(t, err)
	checkMap(t, m)
}

func TestMemoryMapOrder(t *testing.T) {
	_, err := NewMemoryMap([]rangeiter.Token{1, 5, 4})
	require.ErrorIs(t, err, ErrTokenOrder)
}

func TestMemoryMapEmpty(t *testing.T) {
	m, err := NewMemoryMap(nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), m.NumRows())

	row, err := m.CeilingRow(0)
	require.NoError(t, err)
	assert.Equal(t, RowNotFound, row)

	_, err = m.TokenForRow(0)
	assert.ErrorIs(t, err, ErrRowRange)
}

func TestDiskMap(t *testing.T) {
	checkMap(t, buildDiskMap(t, fixtureTokens))
}

func TestWriteTokensOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	out := diskio.NewOutput(f)

	err = WriteTokens(out, []rangeiter.Token{7, 2})
	require.ErrorIs(t, err, ErrTokenOrder)
	require.NoError(t, out.Close())
}

func TestOpenDiskValidation(t *testing.T) {
	data := make([]byte, 32)

	_, err := OpenDisk(data, 8, 32)
	require.Error(t, err)

	_, err = OpenDisk(data, -1, 8)
	require.Error(t, err)

	_, err = OpenDisk(data, 0, 12)
	require.Error(t, err)

	m, err := OpenDisk(data, 8, 16)
	require.NoError(t, err)
	require.Equal(t, int64(2), m.NumRows())
}
