package keys

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Fixed widths of the scalar encodings in bytes.
const (
	Int64Width   = 8
	Float64Width = 8
)

// AppendInt64 appends the order-preserving encoding of v to dst and returns
// the extended slice. The sign bit is flipped so that negative values sort
// below positive ones under unsigned byte comparison.
func AppendInt64(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v)^(1<<63))
}

// EncodeInt64 returns the order-preserving encoding of v.
func EncodeInt64(v int64) []byte {
	return AppendInt64(make([]byte, 0, Int64Width), v)
}

// DecodeInt64 reverses EncodeInt64. The input must be at least Int64Width
// bytes.
func DecodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

// AppendFloat64 appends the order-preserving encoding of v to dst. Positive
// values have the sign bit set, negative values have all bits inverted, which
// maps IEEE 754 ordering onto unsigned byte ordering. NaN sorts above
// +Inf; -0 and +0 keep their IEEE order (-0 below +0).
func AppendFloat64(dst []byte, v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return binary.BigEndian.AppendUint64(dst, bits)
}

// EncodeFloat64 returns the order-preserving encoding of v.
func EncodeFloat64(v float64) []byte {
	return AppendFloat64(make([]byte, 0, Float64Width), v)
}

// DecodeFloat64 reverses EncodeFloat64. The input must be at least
// Float64Width bytes.
func DecodeFloat64(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// Compare orders two encoded keys. Raw byte terms are their own encoding, so
// this is plain unsigned lexicographic comparison.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Min returns the smaller of two encoded keys.
func Min(a, b []byte) []byte {
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of two encoded keys.
func Max(a, b []byte) []byte {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// PrefixEnd returns the smallest key greater than every key having the given
// prefix, for use as an exclusive upper bound in prefix scans. It returns nil
// when no such key exists (the prefix is empty or all 0xFF), meaning the scan
// is unbounded above.
func PrefixEnd(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			end := make([]byte, i+1)
			copy(end, prefix[:i+1])
			end[i]++
			return end
		}
	}
	return nil
}
