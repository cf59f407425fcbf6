package sstindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"

	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/internal/fs"
	"github.com/hupe1980/sstindex/internal/mmap"
	"github.com/hupe1980/sstindex/pk"
	"github.com/hupe1980/sstindex/segment"
	"github.com/hupe1980/sstindex/vector"
)

// Descriptor identifies one table segment on disk.
type Descriptor = segment.Descriptor

// Kind classifies what a column index stores and which codec serves it.
type Kind = segment.Kind

const (
	// Numeric indexes byte-comparable fixed-width values in a balanced
	// range tree.
	Numeric = segment.Numeric
	// Literal indexes variable-length terms in a prefix trie.
	Literal = segment.Literal
	// Vector indexes embeddings through a similarity graph and an
	// ordinal map.
	Vector = segment.Vector
)

// ColumnSpec declares one column index of a table segment. Name doubles as
// the index name in component file names and as the column key predicates
// address it by.
type ColumnSpec struct {
	Name string
	Kind Kind

	// OpenGraph revives the similarity graph of a vector column from its
	// serialized component. Required for Vector, ignored otherwise.
	OpenGraph func(data []byte) (vector.Graph, error)
}

// Index is the read facade over the column indexes of one table segment.
// All searches share the loaded components and the group primary-key map.
// Close releases them; streams obtained from the index must be closed
// first.
type Index struct {
	desc    Descriptor
	opts    options
	logger  *slog.Logger
	pkMap   pk.Map
	columns map[string]*ColumnIndex
	closers []func() error
	closed  atomic.Bool
}

// ColumnIndex serves one column's predicates against every index segment
// built over the table segment.
type ColumnIndex struct {
	ix    *Index
	name  string
	kind  Kind
	res   *segment.Resources
	metas []segment.Metadata
}

// Open opens the column indexes of one table segment for search. The group
// and every named column must be completely built; each component's
// framing is validated, byte for byte with WithVerifyChecksum. The context
// is honored while components are loaded, not afterwards.
func Open(ctx context.Context, d Descriptor, columns []ColumnSpec, opts ...Option) (_ *Index, err error) {
	o := applyOptions(opts)
	codec, err := o.compression.codec()
	if err != nil {
		return nil, err
	}
	switch o.readMode {
	case ReadModeMmap, ReadModePread:
	default:
		return nil, &ErrInvalidReadMode{Mode: o.readMode}
	}

	if !segment.IsGroupBuildComplete(fs.Default, d) {
		return nil, fmt.Errorf("table segment %s-%d has no complete index group: %w", d.Table, d.Generation, ErrNotFound)
	}

	ix := &Index{
		desc:    d,
		opts:    o,
		logger:  o.logger.With(slog.String("table", d.Table), slog.Int64("generation", d.Generation)),
		columns: make(map[string]*ColumnIndex, len(columns)),
	}
	defer func() {
		if err != nil {
			ix.release()
		}
	}()

	tokensPath := d.FileFor(segment.TokenValues)
	tokens, err := ix.load(tokensPath, segment.TokenValues, true)
	if err != nil {
		return nil, err
	}
	pkMap, err := pk.OpenDisk(tokens, diskio.HeaderSize, int64(len(tokens))-diskio.HeaderSize-diskio.FooterSize)
	if err != nil {
		return nil, &segment.CorruptError{Path: tokensPath, Kind: segment.TokenValues, Err: err}
	}
	ix.pkMap = pkMap

	for _, spec := range columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := ix.columns[spec.Name]; ok {
			return nil, fmt.Errorf("duplicate column index %q", spec.Name)
		}
		ci, err := ix.openColumn(spec, codec)
		if err != nil {
			return nil, fmt.Errorf("failed to open column index %q: %w", spec.Name, err)
		}
		ix.columns[spec.Name] = ci
	}

	ix.logger.Debug("opened table segment indexes",
		slog.Int("columns", len(ix.columns)),
		slog.String("read_mode", o.readMode.String()),
	)
	return ix, nil
}

func (ix *Index) openColumn(spec ColumnSpec, codec compress.Type) (*ColumnIndex, error) {
	switch spec.Kind {
	case Numeric, Literal, Vector:
	default:
		return nil, fmt.Errorf("%w: %d", segment.ErrUnknownKind, spec.Kind)
	}
	d := ix.desc
	if !segment.IsColumnBuildComplete(fs.Default, d, spec.Name) {
		return nil, fmt.Errorf("not completely built: %w", ErrNotFound)
	}

	ci := &ColumnIndex{ix: ix, name: spec.Name, kind: spec.Kind}

	// A completed column with nothing indexed has a marker and no data.
	metaPath := d.FileForIndex(segment.Meta, spec.Name)
	if _, err := fs.Default.Stat(metaPath); err != nil {
		if os.IsNotExist(err) {
			return ci, nil
		}
		return nil, err
	}

	metaData, err := ix.load(metaPath, segment.Meta, true)
	if err != nil {
		return nil, err
	}
	metas, err := segment.ReadMetadata(diskio.NewInputAt(metaData, diskio.HeaderSize))
	if err != nil {
		return nil, &segment.CorruptError{Path: metaPath, Kind: segment.Meta, Err: err}
	}
	ci.metas = metas

	res := &segment.Resources{PKMap: ix.pkMap, Compression: codec}
	switch spec.Kind {
	case Numeric:
		if res.Tree, err = ix.loadColumn(spec.Name, segment.BalancedTree); err != nil {
			return nil, err
		}
		if res.TreePost, err = ix.loadColumn(spec.Name, segment.TreePostingLists); err != nil {
			return nil, err
		}
	case Literal:
		if res.Terms, err = ix.loadColumn(spec.Name, segment.TermsData); err != nil {
			return nil, err
		}
		if res.Postings, err = ix.loadColumn(spec.Name, segment.PostingLists); err != nil {
			return nil, err
		}
	case Vector:
		if res.Ordinals, err = ix.loadColumn(spec.Name, segment.OrdinalMap); err != nil {
			return nil, err
		}
		if spec.OpenGraph == nil {
			return nil, fmt.Errorf("vector column needs an OpenGraph hook")
		}
		// The graph component is opaque to the framing; its codec owns
		// the bytes end to end.
		graphData, err := ix.load(d.FileForIndex(segment.VectorGraph, spec.Name), segment.VectorGraph, false)
		if err != nil {
			return nil, err
		}
		if res.Graph, err = spec.OpenGraph(graphData); err != nil {
			return nil, fmt.Errorf("failed to open vector graph: %w", err)
		}
	}

	// Optional, present when some flush had value-less rows.
	missingPath := d.FileForIndex(segment.MissingValues, spec.Name)
	if _, err := fs.Default.Stat(missingPath); err == nil {
		if res.Missing, err = ix.loadColumn(spec.Name, segment.MissingValues); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	ci.res = res
	return ci, nil
}

func (ix *Index) loadColumn(index string, kind segment.ComponentKind) ([]byte, error) {
	return ix.load(ix.desc.FileForIndex(kind, index), kind, true)
}

// load brings one component file into memory per the read mode and checks
// its framing. The image stays pinned until the index is closed.
func (ix *Index) load(path string, kind segment.ComponentKind, framed bool) ([]byte, error) {
	var data []byte
	switch ix.opts.readMode {
	case ReadModePread:
		f, err := fs.Default.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, translateError(err)
		}
		data, err = io.ReadAll(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
	default:
		m, err := mmap.Open(path)
		if err != nil {
			return nil, translateError(err)
		}
		ix.closers = append(ix.closers, m.Close)
		data = m.Bytes()
	}
	if framed {
		if err := segment.CheckComponent(data, path, kind, ix.opts.verifyChecksum); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (ix *Index) release() error {
	var firstErr error
	for _, close := range ix.closers {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ix.closers = nil
	return firstErr
}

// Column returns the open index serving the named column.
func (ix *Index) Column(name string) (*ColumnIndex, error) {
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	ci, ok := ix.columns[name]
	if !ok {
		return nil, fmt.Errorf("no index on column %q: %w", name, ErrNotFound)
	}
	return ci, nil
}

// Columns lists the open column indexes in name order.
func (ix *Index) Columns() []string {
	names := make([]string, 0, len(ix.columns))
	for name := range ix.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the column the index serves.
func (ci *ColumnIndex) Name() string { return ci.name }

// Kind returns what the column index stores.
func (ci *ColumnIndex) Kind() Kind { return ci.kind }

// Segments returns how many index segments back the column.
func (ci *ColumnIndex) Segments() int { return len(ci.metas) }

// IsGroupComplete reports whether the table segment's shared components are
// fully built.
func IsGroupComplete(d Descriptor) bool {
	return segment.IsGroupBuildComplete(fs.Default, d)
}

// IsColumnComplete reports whether one column index is fully built. The
// group components are required too.
func IsColumnComplete(d Descriptor, name string) bool {
	return segment.IsColumnBuildComplete(fs.Default, d, name)
}

// RemoveColumn deletes every component of one column index, marker
// included. Removing an absent index is not an error.
func RemoveColumn(d Descriptor, name string) error {
	return segment.RemoveColumn(fs.Default, d, name)
}

// Validate checks the on-disk components of the given column indexes
// without opening them: completion markers, then structural framing of
// every component, with full checksums under WithVerifyChecksum. Columns
// that completed empty pass.
func Validate(d Descriptor, columns []ColumnSpec, opts ...Option) error {
	o := applyOptions(opts)

	if !segment.IsGroupBuildComplete(fs.Default, d) {
		return fmt.Errorf("table segment %s-%d has no complete index group: %w", d.Table, d.Generation, ErrNotFound)
	}
	tokensPath := d.FileFor(segment.TokenValues)
	f, err := fs.Default.OpenFile(tokensPath, os.O_RDONLY, 0)
	if err != nil {
		return &segment.CorruptError{Path: tokensPath, Kind: segment.TokenValues, Err: err}
	}
	data, err := io.ReadAll(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &segment.CorruptError{Path: tokensPath, Kind: segment.TokenValues, Err: err}
	}
	if err := segment.CheckComponent(data, tokensPath, segment.TokenValues, o.verifyChecksum); err != nil {
		return err
	}

	for _, spec := range columns {
		if !segment.IsColumnBuildComplete(fs.Default, d, spec.Name) {
			return fmt.Errorf("column index %q not completely built: %w", spec.Name, ErrNotFound)
		}
		if _, err := fs.Default.Stat(d.FileForIndex(segment.Meta, spec.Name)); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if o.verifyChecksum {
			err = segment.ValidateChecksum(fs.Default, d, spec.Name, spec.Kind)
		} else {
			err = segment.Validate(fs.Default, d, spec.Name, spec.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
