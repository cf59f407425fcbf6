package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/sstindex/internal/fs"
	"github.com/hupe1980/sstindex/pk"
	"github.com/hupe1980/sstindex/resource"
)

// ErrBuildClosed is returned by Add and Complete once a build has completed.
// Aborted builds answer with ErrAborted instead.
var ErrBuildClosed = errors.New("index build already closed")

// Cost estimates for the limiter accounting. Rows go into roaring
// containers, so the per-row charge is a rough amortized figure rather than
// a measured one.
const (
	termOverhead = 64
	rowCost      = 4
)

type builderState uint8

const (
	stateBuilding builderState = iota
	stateFinished
	stateAborted
)

// Builder rebuilds one column index by rescanning a table segment. Rows
// arrive in row id order with terms in arbitrary order, so terms are
// buffered sorted in memory; when the shared limiter says the buffer is
// large enough, a segment is cut early and the buffer drained. Vector
// columns are excluded: their graphs are built by the vector engine at
// flush, not by rescan.
type Builder struct {
	fsys    fs.FileSystem
	desc    Descriptor
	index   string
	kind    Kind
	pkMap   pk.Map
	cfg     WriterConfig
	limiter *resource.Limiter

	terms     map[string]*roaring64.Bitmap
	termBytes int64
	minRow    int64
	haveRows  bool

	files *componentFiles
	metas []Metadata
	rows  int64
	state builderState
}

// NewBuilder registers a rebuild of the column index named index with the
// shared limiter. ctx bounds the IO throttling of every write the build
// performs; ctrl may be nil for unthrottled writes. The caller must finish
// the build with exactly one Complete or Abort.
func NewBuilder(ctx context.Context, fsys fs.FileSystem, d Descriptor, index string, kind Kind, pkMap pk.Map, limiter *resource.Limiter, ctrl *resource.Controller, cfg WriterConfig) (*Builder, error) {
	if kind != Numeric && kind != Literal {
		return nil, fmt.Errorf("cannot rebuild %s index %q by rescan", kind, index)
	}
	b := &Builder{
		fsys:    fsys,
		desc:    d,
		index:   index,
		kind:    kind,
		pkMap:   pkMap,
		cfg:     cfg.withDefaults(),
		limiter: limiter,
		terms:   make(map[string]*roaring64.Bitmap),
	}
	b.files = newComponentFiles(fsys, d, index)
	b.files.wrap = func(f fs.File) fs.File {
		return ctrl.ThrottleFile(ctx, f)
	}
	b.limiter.Register()
	return b, nil
}

// Add indexes one cell. Duplicate rows per term collapse silently. When the
// buffered estimate crosses the limiter's flush threshold the current batch
// is cut as a segment before Add returns.
func (b *Builder) Add(term []byte, rowID int64) error {
	if err := b.usable(); err != nil {
		return err
	}
	if rowID < 0 {
		return fmt.Errorf("negative row id %d", rowID)
	}

	var delta int64
	bm, ok := b.terms[string(term)]
	if !ok {
		bm = roaring64.New()
		b.terms[string(term)] = bm
		delta += int64(len(term)) + termOverhead
	}
	if !bm.Contains(uint64(rowID)) {
		bm.Add(uint64(rowID))
		delta += rowCost
	}
	if delta > 0 {
		b.termBytes += delta
		b.limiter.Acquire(delta)
	}
	if !b.haveRows || rowID < b.minRow {
		b.minRow = rowID
		b.haveRows = true
	}

	if b.limiter.ShouldFlush(b.termBytes) {
		return b.cutSegment()
	}
	return nil
}

// usable distinguishes why a closed build rejects further calls.
func (b *Builder) usable() error {
	switch b.state {
	case stateBuilding:
		return nil
	case stateAborted:
		return ErrAborted
	default:
		return ErrBuildClosed
	}
}

// BufferedBytes reports the limiter charge of the current batch.
func (b *Builder) BufferedBytes() int64 { return b.termBytes }

// SegmentsCut reports how many segments have been written so far.
func (b *Builder) SegmentsCut() int { return len(b.metas) }

// cutSegment drains the buffered batch into one on-disk segment and
// releases its limiter charge. An empty batch is a no-op.
func (b *Builder) cutSegment() error {
	if len(b.terms) == 0 {
		return nil
	}

	keys := make([]string, 0, len(b.terms))
	for t := range b.terms {
		keys = append(keys, t)
	}
	sort.Strings(keys)

	it := &bufferedTerms{keys: keys, terms: b.terms}
	rowOffset := b.minRow

	var (
		meta Metadata
		err  error
	)
	switch b.kind {
	case Numeric:
		meta, err = writeTreeSegment(b.files, it, rowOffset, b.cfg)
	case Literal:
		meta, err = writeTrieSegment(b.files, it, rowOffset, b.cfg)
	}
	if err != nil {
		return err
	}
	if err := keyBounds(b.pkMap, &meta); err != nil {
		return err
	}
	b.metas = append(b.metas, meta)
	b.rows += meta.NumRows

	b.limiter.Release(b.termBytes)
	b.termBytes = 0
	b.terms = make(map[string]*roaring64.Bitmap)
	b.haveRows = false
	return nil
}

// Complete cuts the buffered tail, writes the segment metadata list and,
// last, the completion marker. A build that indexed nothing completes with
// the marker alone. On error the build aborts and removes its components.
func (b *Builder) Complete() (err error) {
	if err := b.usable(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		if err != nil {
			b.abort()
		}
	}()

	if err = b.cutSegment(); err != nil {
		return err
	}
	if len(b.metas) == 0 {
		if err = removeColumnData(b.fsys, b.desc, b.index); err != nil {
			return fmt.Errorf("failed to remove stale components: %w", err)
		}
		if err = writeMarker(b.fsys, b.desc.FileForIndex(ColumnCompletionMarker, b.index)); err != nil {
			return err
		}
		b.retire()
		b.cfg.Logger.Info("built empty column index",
			slog.String("index", b.index),
			slog.String("table", b.desc.Table),
			slog.Duration("took", time.Since(start)),
		)
		return nil
	}

	if err = writeMetaComponent(b.files, b.metas); err != nil {
		return err
	}
	if err = b.files.finish(); err != nil {
		return err
	}
	if err = writeMarker(b.fsys, b.desc.FileForIndex(ColumnCompletionMarker, b.index)); err != nil {
		return err
	}
	b.retire()

	b.cfg.Logger.Info("built column index",
		slog.String("index", b.index),
		slog.String("table", b.desc.Table),
		slog.String("kind", b.kind.String()),
		slog.Int("segments", len(b.metas)),
		slog.Int64("rows", b.rows),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// Abort discards the build, removing anything it wrote. Safe to call after
// a failed Add; a second call is a no-op.
func (b *Builder) Abort() {
	if b.state != stateBuilding {
		return
	}
	b.abort()
	b.cfg.Logger.Warn("aborted column index build",
		slog.String("index", b.index),
		slog.String("table", b.desc.Table),
	)
}

// retire hands the build's limiter registration back. Runs exactly once.
func (b *Builder) retire() {
	b.state = stateFinished
	b.limiter.Release(b.termBytes)
	b.termBytes = 0
	b.limiter.Unregister()
}

func (b *Builder) abort() {
	b.state = stateAborted
	b.limiter.Release(b.termBytes)
	b.termBytes = 0
	b.limiter.Unregister()
	b.files.abort()
}

// bufferedTerms drains a sorted batch of buffered terms.
type bufferedTerms struct {
	keys  []string
	terms map[string]*roaring64.Bitmap
	pos   int
}

func (s *bufferedTerms) Next() ([]byte, []int64, bool) {
	if s.pos >= len(s.keys) {
		return nil, nil, false
	}
	k := s.keys[s.pos]
	s.pos++
	bm := s.terms[k]
	rows := make([]int64, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		rows = append(rows, int64(it.Next()))
	}
	return []byte(k), rows, true
}

func (s *bufferedTerms) Err() error { return nil }
