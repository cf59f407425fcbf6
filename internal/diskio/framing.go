package diskio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	// HeaderSize is the fixed size of a component header.
	HeaderSize = 8
	// FooterSize is the fixed size of a component footer.
	FooterSize = 8

	footerMagic = 0x49584654 // "IXFT"
)

// Component checksums use CRC32-Castagnoli, hardware-accelerated on x86 and
// ARM.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrInvalidMagic signals a header or footer magic mismatch.
	ErrInvalidMagic = errors.New("invalid magic number")
	// ErrInvalidVersion signals an unsupported format version.
	ErrInvalidVersion = errors.New("unsupported version")
	// ErrTooShort signals a file smaller than header plus footer.
	ErrTooShort = errors.New("component file too short")
	// ErrChecksum signals that the stored CRC32C does not match the bytes.
	ErrChecksum = errors.New("checksum mismatch")
)

// WriteHeader writes the component header. It must be the first write on the
// output.
func WriteHeader(o *Output, magic uint32, version uint16) error {
	if err := o.WriteUint32(magic); err != nil {
		return err
	}
	if err := o.WriteUint16(version); err != nil {
		return err
	}
	return o.WriteUint16(0)
}

// WriteFooter writes the footer magic and the CRC32C over everything written
// so far, footer magic included. It must be the last write on the output.
func WriteFooter(o *Output) error {
	if err := o.WriteUint32(footerMagic); err != nil {
		return err
	}
	return o.WriteUint32(o.Checksum())
}

// CheckHeader validates the magic and version of a component's bytes.
func CheckHeader(data []byte, magic uint32, version uint16) error {
	if len(data) < HeaderSize+FooterSize {
		return fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}
	if got := binary.LittleEndian.Uint32(data); got != magic {
		return fmt.Errorf("%w: got %#x, want %#x", ErrInvalidMagic, got, magic)
	}
	if got := binary.LittleEndian.Uint16(data[4:]); got != version {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, got)
	}
	return nil
}

// CheckFooter validates that the component's bytes end in a well-formed
// footer. It does not recompute the checksum; see VerifyChecksum.
func CheckFooter(data []byte) error {
	if len(data) < HeaderSize+FooterSize {
		return fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[len(data)-FooterSize:]); got != footerMagic {
		return fmt.Errorf("footer %w: got %#x", ErrInvalidMagic, got)
	}
	return nil
}

// VerifyChecksum recomputes the CRC32C over the component's bytes and
// compares it to the stored footer checksum.
func VerifyChecksum(data []byte) error {
	if err := CheckFooter(data); err != nil {
		return err
	}
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if got := crc32.Checksum(data[:len(data)-4], crc32cTable); got != want {
		return fmt.Errorf("%w: got %#x, want %#x", ErrChecksum, got, want)
	}
	return nil
}
