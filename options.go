package sstindex

import (
	"fmt"
	"log/slog"

	"github.com/hupe1980/sstindex/bintree"
	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/postings"
	"github.com/hupe1980/sstindex/rangeiter"
	"github.com/hupe1980/sstindex/resource"
)

// Compression selects the block codec for posting and leaf data. The same
// codec must be used to open an index that was used to build it; block
// payloads do not self-describe.
type Compression int

const (
	// CompressionLZ4 is fast with a modest ratio, the default.
	CompressionLZ4 Compression = iota
	// CompressionNone stores blocks raw.
	CompressionNone
	// CompressionZSTD trades speed for a better ratio, for cold or
	// archival segments.
	CompressionZSTD
)

func (c Compression) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionNone:
		return "none"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// codec maps the public enum onto the internal block codec.
func (c Compression) codec() (compress.Type, error) {
	switch c {
	case CompressionLZ4:
		return compress.LZ4, nil
	case CompressionNone:
		return compress.None, nil
	case CompressionZSTD:
		return compress.ZSTD, nil
	default:
		return compress.None, &ErrInvalidCompression{Compression: c}
	}
}

// ReadMode selects how component files are brought into memory for search.
type ReadMode int

const (
	// ReadModeMmap maps components read-only, the default.
	ReadModeMmap ReadMode = iota
	// ReadModePread reads components into heap buffers, for filesystems
	// where mapping is unavailable or undesirable.
	ReadModePread
)

func (m ReadMode) String() string {
	switch m {
	case ReadModeMmap:
		return "mmap"
	case ReadModePread:
		return "pread"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

type options struct {
	logger         *slog.Logger
	intersectLimit int
	leafSize       int
	blockSize      int
	compression    Compression
	controller     *resource.Controller
	verifyChecksum bool
	readMode       ReadMode
}

// Option configures opening and building column indexes.
type Option func(*options)

func applyOptions(opts []Option) options {
	o := options{
		logger:         slog.Default(),
		intersectLimit: rangeiter.DefaultIntersectLimit,
		leafSize:       bintree.DefaultLeafSize,
		blockSize:      postings.DefaultBlockSize,
		compression:    CompressionLZ4,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger configures the structured logger. Builds log at Info with
// durations and row counts, searches at Debug; nothing logs per element.
//
// If nil is passed, slog.Default is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = slog.Default()
		}
		o.logger = l
	}
}

// WithIntersectLimit caps how many clause streams a compound search reads
// from, keeping the ones with the lowest cardinality. Values below one
// disable the cap.
//
// Defaults to rangeiter.DefaultIntersectLimit.
func WithIntersectLimit(n int) Option {
	return func(o *options) {
		o.intersectLimit = n
	}
}

// WithLeafSize configures how many values a numeric tree leaf holds.
// Non-positive values keep the default. Applies to builds only.
func WithLeafSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.leafSize = n
		}
	}
}

// WithPostingBlockSize configures how many row ids a posting block holds.
// Non-positive values keep the default. Applies to builds only.
func WithPostingBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithCompression configures the block codec for builds and searches. Both
// sides of one column index must agree.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithController gates rebuilds through the given resource controller:
// build slots bound concurrent rebuilds and build IO is throttled. A nil
// controller leaves rebuilds unbounded.
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithVerifyChecksum recomputes every component's checksum when an index is
// opened or validated, on top of the structural header and footer checks
// that always run.
func WithVerifyChecksum(verify bool) Option {
	return func(o *options) {
		o.verifyChecksum = verify
	}
}

// WithReadMode configures how searchable components are loaded.
//
// Defaults to ReadModeMmap.
func WithReadMode(m ReadMode) Option {
	return func(o *options) {
		o.readMode = m
	}
}
