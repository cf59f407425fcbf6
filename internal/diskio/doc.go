// Package diskio provides the byte-level framing shared by every index
// component file.
//
// A component file is laid out as:
//
//	Header (8 bytes):  Magic (4) | Version (2) | Reserved (2)
//	Body:              component-specific bytes
//	Footer (8 bytes):  FooterMagic (4) | CRC32C (4)
//
// The checksum covers everything before it, header and footer magic
// included, and is validated when a component is opened. [Output] is the
// buffered, position-tracking, checksum-accumulating writer used by all
// component writers; [Input] is the error-latching reader used over a
// memory-mapped component.
//
// Integer fields are little-endian; variable-length integers use the
// encoding/binary uvarint format. Key and term bytes are opaque blobs here;
// their ordering semantics live in package keys.
package diskio
