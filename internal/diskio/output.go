package diskio

import (
	"bufio"
	"encoding/binary"
	"hash"
	"hash/crc32"

	"github.com/hupe1980/sstindex/internal/fs"
)

// Output is a buffered writer over a component file that tracks the write
// position and accumulates a running CRC32C over every byte written.
type Output struct {
	f       fs.File
	w       *bufio.Writer
	crc     hash.Hash32
	pos     int64
	scratch [binary.MaxVarintLen64]byte
}

// NewOutput wraps an open file for component writing.
func NewOutput(f fs.File) *Output {
	return &Output{
		f:   f,
		w:   bufio.NewWriterSize(f, 64*1024),
		crc: crc32.New(crc32cTable),
	}
}

// Position returns the number of bytes written so far, which equals the file
// offset the next write lands at.
func (o *Output) Position() int64 { return o.pos }

// Checksum returns the CRC32C over all bytes written so far.
func (o *Output) Checksum() uint32 { return o.crc.Sum32() }

func (o *Output) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	if n > 0 {
		o.crc.Write(p[:n])
		o.pos += int64(n)
	}
	return n, err
}

// WriteByte writes a single byte.
func (o *Output) WriteByte(b byte) error {
	o.scratch[0] = b
	_, err := o.Write(o.scratch[:1])
	return err
}

// WriteUint16 writes v little-endian.
func (o *Output) WriteUint16(v uint16) error {
	binary.LittleEndian.PutUint16(o.scratch[:2], v)
	_, err := o.Write(o.scratch[:2])
	return err
}

// WriteUint32 writes v little-endian.
func (o *Output) WriteUint32(v uint32) error {
	binary.LittleEndian.PutUint32(o.scratch[:4], v)
	_, err := o.Write(o.scratch[:4])
	return err
}

// WriteUint64 writes v little-endian.
func (o *Output) WriteUint64(v uint64) error {
	binary.LittleEndian.PutUint64(o.scratch[:8], v)
	_, err := o.Write(o.scratch[:8])
	return err
}

// WriteUvarint writes v in the encoding/binary uvarint format.
func (o *Output) WriteUvarint(v uint64) error {
	n := binary.PutUvarint(o.scratch[:], v)
	_, err := o.Write(o.scratch[:n])
	return err
}

// WriteBlob writes a uvarint length prefix followed by the bytes.
func (o *Output) WriteBlob(b []byte) error {
	if err := o.WriteUvarint(uint64(len(b))); err != nil {
		return err
	}
	_, err := o.Write(b)
	return err
}

// Flush drains the internal buffer to the file.
func (o *Output) Flush() error { return o.w.Flush() }

// Sync flushes and forces the file to stable storage.
func (o *Output) Sync() error {
	if err := o.w.Flush(); err != nil {
		return err
	}
	return o.f.Sync()
}

// Close flushes and closes the underlying file.
func (o *Output) Close() error {
	flushErr := o.w.Flush()
	closeErr := o.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
