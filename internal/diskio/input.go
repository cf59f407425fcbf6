package diskio

import (
	"encoding/binary"
	"io"
)

// Input reads a component's bytes with an absolute position and a latched
// error: after the first failure every subsequent read is a no-op returning
// zero values, and Err reports the failure. This keeps decode sequences free
// of per-read error checks without losing the error.
type Input struct {
	data []byte
	pos  int64
	err  error
}

// NewInput creates an Input over the full component bytes, positioned at 0.
func NewInput(data []byte) *Input {
	return &Input{data: data}
}

// NewInputAt creates an Input positioned at pos.
func NewInputAt(data []byte, pos int64) *Input {
	in := &Input{data: data}
	in.SeekTo(pos)
	return in
}

// Err returns the first error encountered, if any.
func (in *Input) Err() error { return in.err }

// Pos returns the current absolute position.
func (in *Input) Pos() int64 { return in.pos }

// Len returns the total length of the underlying bytes.
func (in *Input) Len() int64 { return int64(len(in.data)) }

// SeekTo repositions the input to an absolute offset.
func (in *Input) SeekTo(pos int64) {
	if in.err != nil {
		return
	}
	if pos < 0 || pos > int64(len(in.data)) {
		in.err = io.ErrUnexpectedEOF
		return
	}
	in.pos = pos
}

// Skip advances the position by n bytes.
func (in *Input) Skip(n int64) {
	in.SeekTo(in.pos + n)
}

func (in *Input) take(n int64) []byte {
	if in.err != nil {
		return nil
	}
	if in.pos+n > int64(len(in.data)) {
		in.err = io.ErrUnexpectedEOF
		return nil
	}
	b := in.data[in.pos : in.pos+n]
	in.pos += n
	return b
}

// Byte reads one byte.
func (in *Input) Byte() byte {
	b := in.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads a little-endian uint16.
func (in *Input) Uint16() uint16 {
	b := in.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Uint32 reads a little-endian uint32.
func (in *Input) Uint32() uint32 {
	b := in.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Uint64 reads a little-endian uint64.
func (in *Input) Uint64() uint64 {
	b := in.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Uvarint reads an encoding/binary uvarint.
func (in *Input) Uvarint() uint64 {
	if in.err != nil {
		return 0
	}
	v, n := binary.Uvarint(in.data[in.pos:])
	if n <= 0 {
		in.err = io.ErrUnexpectedEOF
		return 0
	}
	in.pos += int64(n)
	return v
}

// Read returns the next n bytes as a subslice of the underlying data without
// copying. The slice is valid as long as the underlying mapping is.
func (in *Input) Read(n int64) []byte {
	return in.take(n)
}

// Blob reads a uvarint length prefix followed by that many bytes, returned
// as a no-copy subslice.
func (in *Input) Blob() []byte {
	n := in.Uvarint()
	return in.take(int64(n))
}
