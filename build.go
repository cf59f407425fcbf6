package sstindex

import (
	"context"
	"fmt"

	"github.com/hupe1980/sstindex/internal/fs"
	"github.com/hupe1980/sstindex/pk"
	"github.com/hupe1980/sstindex/rangeiter"
	"github.com/hupe1980/sstindex/resource"
	"github.com/hupe1980/sstindex/segment"
)

// MaxTermSize bounds one indexed term, mirroring the storage engine's
// guardrail for unanalyzed values. Oversized terms fail the build with
// ErrLimitExceeded.
const MaxTermSize = 1024

// FlushInput carries one column's flushed content.
type FlushInput = segment.FlushInput

// VectorInput carries a vector column's flushed graph and ordinal map.
type VectorInput = segment.VectorInput

// TermRows pairs one term with its ascending row ids.
type TermRows = segment.TermRows

// SliceTerms adapts sorted in-memory pairs to the terms iterator flushes
// consume.
func SliceTerms(pairs []TermRows) segment.TermsIterator {
	return segment.SliceTerms(pairs)
}

func (o options) writerConfig() (segment.WriterConfig, error) {
	codec, err := o.compression.codec()
	if err != nil {
		return segment.WriterConfig{}, err
	}
	return segment.WriterConfig{
		LeafSize:    o.leafSize,
		BlockSize:   o.blockSize,
		Compression: codec,
		Logger:      o.logger,
	}, nil
}

// Flush writes one column index from memtable state: data components
// first, the completion marker last. Terms must arrive in ascending order,
// the way the memtable iterates them. An empty input still completes the
// column, with a marker alone; any failure removes every partial
// component.
func Flush(ctx context.Context, d Descriptor, name string, kind Kind, pkMap pk.Map, in FlushInput, opts ...Option) error {
	o := applyOptions(opts)
	cfg, err := o.writerConfig()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.Terms != nil {
		in.Terms = &boundedTerms{rest: in.Terms}
	}
	return segment.NewFlushWriter(fs.Default, d, name, kind, pkMap, cfg).Flush(in)
}

// WriteGroup writes the table segment's shared components: the token
// values backing the primary-key map and, last, the group completion
// marker. tokens[i] is the partition token of row i across the whole table
// segment. Column indexes answer searches only once their own marker and
// the group marker both exist.
func WriteGroup(ctx context.Context, d Descriptor, tokens []rangeiter.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return segment.WriteGroupComponents(fs.Default, d, tokens)
}

// boundedTerms enforces MaxTermSize on a term stream. A violation surfaces
// through Err, sending the flush down its abort path.
type boundedTerms struct {
	rest segment.TermsIterator
	err  error
}

func (b *boundedTerms) Next() ([]byte, []int64, bool) {
	if b.err != nil {
		return nil, nil, false
	}
	term, rows, ok := b.rest.Next()
	if !ok {
		return nil, nil, false
	}
	if len(term) > MaxTermSize {
		b.err = fmt.Errorf("term of %d bytes: %w", len(term), ErrLimitExceeded)
		return nil, nil, false
	}
	return term, rows, true
}

func (b *boundedTerms) Err() error {
	if b.err != nil {
		return b.err
	}
	return b.rest.Err()
}

// Builder accumulates one column's terms during a full rebuild, cutting
// index segments whenever the shared memory limiter says to. It wraps
// segment.Builder with the term-size guardrail, build-slot gating and this
// package's error vocabulary.
type Builder struct {
	inner *segment.Builder
	ctrl  *resource.Controller
	name  string
	done  bool
}

// NewBuilder starts a rebuild of one column index from rescanned table
// data. Vector columns are rejected: their graphs are built by the engine
// at flush time only. The limiter is shared by every concurrent rebuild;
// the controller from the options, when present, bounds build slots and
// throttles build IO. Blocks until a build slot is free or the context
// ends.
func NewBuilder(ctx context.Context, d Descriptor, name string, kind Kind, pkMap pk.Map, limiter *resource.Limiter, opts ...Option) (*Builder, error) {
	o := applyOptions(opts)
	cfg, err := o.writerConfig()
	if err != nil {
		return nil, err
	}
	if err := o.controller.AcquireBuild(ctx); err != nil {
		return nil, err
	}
	inner, err := segment.NewBuilder(ctx, fs.Default, d, name, kind, pkMap, limiter, o.controller, cfg)
	if err != nil {
		o.controller.ReleaseBuild()
		return nil, err
	}
	return &Builder{inner: inner, ctrl: o.controller, name: name}, nil
}

// Add buffers one term and row pairing. Terms may arrive in any order and
// rows within a term may repeat; the cut segment is sorted and
// deduplicated.
func (b *Builder) Add(term []byte, rowID int64) error {
	if len(term) > MaxTermSize {
		return fmt.Errorf("term of %d bytes on %q: %w", len(term), b.name, ErrLimitExceeded)
	}
	return translateError(b.inner.Add(term, rowID))
}

// BufferedBytes returns the accounted size of the buffered tail segment.
func (b *Builder) BufferedBytes() int64 { return b.inner.BufferedBytes() }

// SegmentsCut returns how many index segments the build has written so
// far.
func (b *Builder) SegmentsCut() int { return b.inner.SegmentsCut() }

// Complete cuts the buffered tail, writes the segment metadata list and,
// last, the completion marker, then releases the build slot. On error the
// build aborts and removes its components.
func (b *Builder) Complete() error {
	err := translateError(b.inner.Complete())
	b.release()
	return err
}

// Abort discards buffered state and deletes every partial component. Safe
// to call repeatedly and after Complete.
func (b *Builder) Abort() {
	b.inner.Abort()
	b.release()
}

func (b *Builder) release() {
	if b.done {
		return
	}
	b.done = true
	b.ctrl.ReleaseBuild()
}
