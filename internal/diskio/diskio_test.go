package diskio

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sstindex/internal/fs"
)

const (
	testMagic   = 0x54455354 // "TEST"
	testVersion = 1
)

func writeComponent(t *testing.T, body func(o *Output)) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "component.db")
	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	o := NewOutput(f)
	require.NoError(t, WriteHeader(o, testMagic, testVersion))
	body(o)
	require.NoError(t, WriteFooter(o))
	require.NoError(t, o.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestRoundTrip(t *testing.T) {
	data := writeComponent(t, func(o *Output) {
		require.NoError(t, o.WriteByte(0x7F))
		require.NoError(t, o.WriteUint16(513))
		require.NoError(t, o.WriteUint32(123456))
		require.NoError(t, o.WriteUint64(1<<40))
		require.NoError(t, o.WriteUvarint(300))
		require.NoError(t, o.WriteBlob([]byte("term")))
	})

	require.NoError(t, CheckHeader(data, testMagic, testVersion))
	require.NoError(t, VerifyChecksum(data))

	in := NewInputAt(data, HeaderSize)
	assert.Equal(t, byte(0x7F), in.Byte())
	assert.Equal(t, uint16(513), in.Uint16())
	assert.Equal(t, uint32(123456), in.Uint32())
	assert.Equal(t, uint64(1<<40), in.Uint64())
	assert.Equal(t, uint64(300), in.Uvarint())
	assert.Equal(t, []byte("term"), in.Blob())
	assert.NoError(t, in.Err())
	assert.Equal(t, int64(len(data))-FooterSize, in.Pos())
}

func TestOutputPosition(t *testing.T) {
	var positions []int64
	writeComponent(t, func(o *Output) {
		positions = append(positions, o.Position())
		require.NoError(t, o.WriteUint32(7))
		positions = append(positions, o.Position())
	})
	assert.Equal(t, []int64{HeaderSize, HeaderSize + 4}, positions)
}

func TestCheckHeaderMismatch(t *testing.T) {
	data := writeComponent(t, func(o *Output) {
		require.NoError(t, o.WriteUint32(1))
	})

	assert.ErrorIs(t, CheckHeader(data, 0xBADBAD, testVersion), ErrInvalidMagic)
	assert.ErrorIs(t, CheckHeader(data, testMagic, 99), ErrInvalidVersion)
	assert.ErrorIs(t, CheckHeader(data[:4], testMagic, testVersion), ErrTooShort)
}

func TestVerifyChecksumDetectsCorruption(t *testing.T) {
	data := writeComponent(t, func(o *Output) {
		require.NoError(t, o.WriteUint64(42))
	})
	require.NoError(t, VerifyChecksum(data))

	data[HeaderSize] ^= 0xFF
	assert.ErrorIs(t, VerifyChecksum(data), ErrChecksum)
}

func TestCheckFooterTruncated(t *testing.T) {
	data := writeComponent(t, func(o *Output) {
		require.NoError(t, o.WriteUint64(42))
	})
	assert.ErrorIs(t, CheckFooter(data[:len(data)-1]), ErrInvalidMagic)
	assert.ErrorIs(t, CheckFooter(data[:6]), ErrTooShort)
}

func TestInputLatchesError(t *testing.T) {
	in := NewInput([]byte{0x01, 0x02})

	assert.Equal(t, uint16(0x0201), in.Uint16())
	assert.NoError(t, in.Err())

	assert.Equal(t, uint32(0), in.Uint32())
	assert.ErrorIs(t, in.Err(), io.ErrUnexpectedEOF)

	// Latched: further reads stay no-ops.
	assert.Equal(t, byte(0), in.Byte())
	assert.Nil(t, in.Read(1))
	assert.ErrorIs(t, in.Err(), io.ErrUnexpectedEOF)
}

func TestInputSeek(t *testing.T) {
	in := NewInput([]byte{1, 2, 3, 4})
	in.SeekTo(2)
	assert.Equal(t, byte(3), in.Byte())

	in.SeekTo(99)
	assert.ErrorIs(t, in.Err(), io.ErrUnexpectedEOF)
}
