// Package compress provides block compression for posting payloads.
//
// A compressed block is framed as
//
//	[UncompressedSize uint32][CompressedSize uint32][Data...]
//
// with CompressedSize == 0 meaning the data is stored raw. Compression is
// skipped when it would save less than 10% so incompressible blocks never pay
// a decode cost.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type selects the block compression algorithm.
type Type uint8

const (
	// None stores blocks raw.
	None Type = 0
	// LZ4 is fast with a modest ratio, the default for hot posting data.
	LZ4 Type = 1
	// ZSTD trades speed for a better ratio, for cold or archival segments.
	ZSTD Type = 2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const headerSize = 8

var (
	// ErrBlockTooSmall signals a block shorter than its frame header.
	ErrBlockTooSmall = errors.New("block too small for header")
	// ErrBlockTruncated signals a frame extending past the available bytes.
	ErrBlockTruncated = errors.New("block extends beyond data")
	// ErrSizeMismatch signals a decompressed length disagreeing with the frame.
	ErrSizeMismatch = errors.New("decompressed size mismatch")
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compress frames data as one block, compressing with t unless the result
// would save less than 10%.
func Compress(data []byte, t Type) ([]byte, error) {
	var compressed []byte
	var err error

	switch t {
	case None:
	case LZ4:
		compressed, err = compressLZ4(data)
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown compression type %d", t)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible.
		return nil, nil
	}
	return buf[:n], nil
}

// FrameSize returns the total on-disk size of the block starting at data[0]
// without decompressing it.
func FrameSize(data []byte) (int, error) {
	if len(data) < headerSize {
		return 0, ErrBlockTooSmall
	}
	uncompressed := binary.LittleEndian.Uint32(data[0:])
	compressed := binary.LittleEndian.Uint32(data[4:])
	stored := compressed
	if stored == 0 {
		stored = uncompressed
	}
	total := headerSize + int(stored)
	if total > len(data) {
		return 0, ErrBlockTruncated
	}
	return total, nil
}

// Decompress decodes the block starting at data[0] and returns the payload
// and the number of on-disk bytes the block occupied. Blocks stored raw are
// returned as a no-copy subslice.
func Decompress(data []byte, t Type) ([]byte, int, error) {
	total, err := FrameSize(data)
	if err != nil {
		return nil, 0, err
	}

	uncompressed := binary.LittleEndian.Uint32(data[0:])
	compressed := binary.LittleEndian.Uint32(data[4:])

	if compressed == 0 {
		return data[headerSize:total], total, nil
	}

	payload := data[headerSize:total]
	out := make([]byte, uncompressed)

	switch t {
	case ZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(payload, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, 0, err
		}
		if uint32(len(decoded)) != uncompressed {
			return nil, 0, ErrSizeMismatch
		}
		return decoded, total, nil
	case LZ4:
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, 0, err
		}
		if uint32(n) != uncompressed {
			return nil, 0, ErrSizeMismatch
		}
		return out, total, nil
	default:
		return nil, 0, fmt.Errorf("block compressed with unavailable type %d", t)
	}
}
