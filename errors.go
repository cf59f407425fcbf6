package sstindex

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/sstindex/segment"
)

var (
	// ErrClosed is returned when an index or builder is used after Close or
	// Complete.
	ErrClosed = errors.New("index closed")
	// ErrNotFound is returned when a table segment or column index has no
	// complete build on disk, or a predicate names a column no open index
	// serves.
	ErrNotFound = errors.New("index not found")
	// ErrLimitExceeded is returned when an indexed term exceeds
	// MaxTermSize.
	ErrLimitExceeded = errors.New("size limit exceeded")

	// ErrCorrupted matches any component that failed validation. The
	// column index must be rebuilt, never served. The underlying
	// segment.CorruptError names the component and file.
	ErrCorrupted = segment.ErrCorrupted
	// ErrAborted matches use of a build that was aborted.
	ErrAborted = segment.ErrAborted
)

// ErrInvalidCompression indicates a compression codec outside the closed
// enum.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidCompression struct {
	Compression Compression
	cause       error
}

func (e *ErrInvalidCompression) Error() string {
	return fmt.Sprintf("invalid compression: %d", e.Compression)
}

func (e *ErrInvalidCompression) Unwrap() error { return e.cause }

// ErrInvalidReadMode indicates a read mode outside the closed enum.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidReadMode struct {
	Mode  ReadMode
	cause error
}

func (e *ErrInvalidReadMode) Error() string {
	return fmt.Sprintf("invalid read mode: %d", e.Mode)
}

func (e *ErrInvalidReadMode) Unwrap() error { return e.cause }

// translateError normalizes lower-layer errors into the package sentinels
// callers classify with errors.Is.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, segment.ErrBuildClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
