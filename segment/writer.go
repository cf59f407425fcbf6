package segment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/hupe1980/sstindex/bintree"
	"github.com/hupe1980/sstindex/internal/compress"
	"github.com/hupe1980/sstindex/internal/diskio"
	"github.com/hupe1980/sstindex/internal/fs"
	"github.com/hupe1980/sstindex/pk"
	"github.com/hupe1980/sstindex/postings"
	"github.com/hupe1980/sstindex/rangeiter"
	"github.com/hupe1980/sstindex/trie"
	"github.com/hupe1980/sstindex/vector"
)

// ErrNoTerms is returned when a segment write receives an iterator that
// yields nothing. Empty columns are legal but take the marker-only path.
var ErrNoTerms = errors.New("no terms to write")

// TermRows pairs one term with its matching row ids, ascending.
type TermRows struct {
	Term []byte
	Rows []int64
}

// TermsIterator streams one column's indexed content in ascending term
// order. Rows within a term are ascending table-segment-local row ids.
type TermsIterator interface {
	// Next returns the next term with its rows. ok is false once the
	// iterator is exhausted; Err reports what stopped it, if anything.
	Next() (term []byte, rows []int64, ok bool)
	Err() error
}

// SliceTerms adapts already-sorted in-memory pairs to a TermsIterator.
func SliceTerms(pairs []TermRows) TermsIterator {
	return &sliceTerms{pairs: pairs}
}

type sliceTerms struct {
	pairs []TermRows
	pos   int
}

func (s *sliceTerms) Next() ([]byte, []int64, bool) {
	if s.pos >= len(s.pairs) {
		return nil, nil, false
	}
	p := s.pairs[s.pos]
	s.pos++
	return p.Term, p.Rows, true
}

func (s *sliceTerms) Err() error { return nil }

// peekedTerms replays one pair pulled off the front of an iterator.
type peekedTerms struct {
	term []byte
	rows []int64
	used bool
	rest TermsIterator
}

func (p *peekedTerms) Next() ([]byte, []int64, bool) {
	if !p.used {
		p.used = true
		return p.term, p.rows, true
	}
	return p.rest.Next()
}

func (p *peekedTerms) Err() error { return p.rest.Err() }

// WriterConfig tunes the write paths. Zero fields take the codec defaults;
// the zero Compression value means uncompressed payloads.
type WriterConfig struct {
	LeafSize    int
	BlockSize   int
	Compression compress.Type
	Logger      *slog.Logger
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.LeafSize <= 0 {
		c.LeafSize = bintree.DefaultLeafSize
	}
	if c.BlockSize <= 0 {
		c.BlockSize = postings.DefaultBlockSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// componentFiles tracks the component outputs of one column build so they
// finish or abort together. Files carry the standard header and footer
// framing, except the opaque graph component which is written raw.
type componentFiles struct {
	fsys  fs.FileSystem
	desc  Descriptor
	index string
	wrap  func(fs.File) fs.File

	order    []ComponentKind
	outs     map[ComponentKind]*diskio.Output
	paths    map[ComponentKind]string
	finished bool
}

func newComponentFiles(fsys fs.FileSystem, d Descriptor, index string) *componentFiles {
	return &componentFiles{
		fsys:  fsys,
		desc:  d,
		index: index,
		outs:  make(map[ComponentKind]*diskio.Output),
		paths: make(map[ComponentKind]string),
	}
}

// open returns the output for kind, creating the file and writing its
// header on first use.
func (c *componentFiles) open(kind ComponentKind) (*diskio.Output, error) {
	if out, ok := c.outs[kind]; ok {
		return out, nil
	}
	path := c.desc.FileForIndex(kind, c.index)
	f, err := c.fsys.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s component: %w", kind, err)
	}
	if c.wrap != nil {
		f = c.wrap(f)
	}
	out := diskio.NewOutput(f)
	if kind != VectorGraph {
		if err := diskio.WriteHeader(out, componentMagic, componentVersion); err != nil {
			out.Close()
			c.fsys.Remove(path)
			return nil, fmt.Errorf("failed to write %s header: %w", kind, err)
		}
	}
	c.order = append(c.order, kind)
	c.outs[kind] = out
	c.paths[kind] = path
	return out, nil
}

// finish writes footers, syncs and closes every component in open order.
func (c *componentFiles) finish() error {
	for _, kind := range c.order {
		out := c.outs[kind]
		if kind != VectorGraph {
			if err := diskio.WriteFooter(out); err != nil {
				return fmt.Errorf("failed to write %s footer: %w", kind, err)
			}
		}
		if err := out.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s component: %w", kind, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("failed to close %s component: %w", kind, err)
		}
	}
	c.finished = true
	return nil
}

// abort closes whatever is still open and removes every file this build
// created. Best effort; errors on the way down are dropped.
func (c *componentFiles) abort() {
	if !c.finished {
		for _, kind := range c.order {
			c.outs[kind].Close()
		}
	}
	for _, kind := range c.order {
		c.fsys.Remove(c.paths[kind])
	}
}

// segmentStats folds per-term observations into segment bounds.
type segmentStats struct {
	rows     int64
	minRow   int64
	maxRow   int64
	haveRows bool
	minTerm  []byte
	maxTerm  []byte
}

func (s *segmentStats) observe(term []byte, rows []int64) {
	if len(rows) == 0 {
		return
	}
	s.rows += int64(len(rows))
	first, last := rows[0], rows[len(rows)-1]
	if !s.haveRows {
		s.minRow, s.maxRow = first, last
		s.haveRows = true
	} else {
		if first < s.minRow {
			s.minRow = first
		}
		if last > s.maxRow {
			s.maxRow = last
		}
	}
	if s.minTerm == nil {
		s.minTerm = bytes.Clone(term)
	}
	s.maxTerm = append(s.maxTerm[:0], term...)
}

func (s *segmentStats) metadata(rowOffset int64) Metadata {
	return Metadata{
		RowIDOffset: rowOffset,
		NumRows:     s.rows,
		MinRowID:    s.minRow,
		MaxRowID:    s.maxRow,
		MinTerm:     s.minTerm,
		MaxTerm:     s.maxTerm,
		Components:  make(map[ComponentKind]ComponentRef),
	}
}

// writeTreeSegment writes one numeric segment: leaf payloads with their
// postings into the tree posting component, then the packed tree into the
// tree component. Row ids are rebased onto rowOffset.
func writeTreeSegment(files *componentFiles, terms TermsIterator, rowOffset int64, cfg WriterConfig) (Metadata, error) {
	leafOut, err := files.open(TreePostingLists)
	if err != nil {
		return Metadata{}, err
	}
	treeOut, err := files.open(BalancedTree)
	if err != nil {
		return Metadata{}, err
	}
	leafStart, treeStart := leafOut.Position(), treeOut.Position()

	var (
		tw    *bintree.Writer
		stats segmentStats
	)
	for {
		term, rows, ok := terms.Next()
		if !ok {
			break
		}
		if tw == nil {
			tw = bintree.NewWriter(leafOut, len(term), cfg.LeafSize, cfg.Compression)
		}
		for _, row := range rows {
			if row < rowOffset {
				return Metadata{}, fmt.Errorf("row %d below segment offset %d", row, rowOffset)
			}
			if err := tw.Add(term, row-rowOffset); err != nil {
				return Metadata{}, fmt.Errorf("failed to add tree row: %w", err)
			}
		}
		stats.observe(term, rows)
	}
	if err := terms.Err(); err != nil {
		return Metadata{}, fmt.Errorf("failed to read terms: %w", err)
	}
	if tw == nil {
		return Metadata{}, ErrNoTerms
	}

	res, err := tw.Finish(treeOut)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to finish tree: %w", err)
	}

	meta := stats.metadata(rowOffset)
	meta.Components[TreePostingLists] = ComponentRef{
		Offset: leafStart,
		Length: leafOut.Position() - leafStart,
	}
	meta.Components[BalancedTree] = ComponentRef{
		Offset: treeStart,
		Length: treeOut.Position() - treeStart,
		Root:   res.Root,
		Attributes: map[string]string{
			"leaves": strconv.Itoa(res.NumLeaves),
		},
	}
	return meta, nil
}

// writeTrieSegment writes one literal segment: a posting list per term into
// the posting component, the term dictionary into the terms component. Row
// ids are rebased onto rowOffset.
func writeTrieSegment(files *componentFiles, terms TermsIterator, rowOffset int64, cfg WriterConfig) (Metadata, error) {
	termsOut, err := files.open(TermsData)
	if err != nil {
		return Metadata{}, err
	}
	postOut, err := files.open(PostingLists)
	if err != nil {
		return Metadata{}, err
	}
	termsStart, postStart := termsOut.Position(), postOut.Position()

	tw := trie.NewWriter(termsOut)
	var stats segmentStats
	for {
		term, rows, ok := terms.Next()
		if !ok {
			break
		}
		pw := postings.NewWriter(postOut, cfg.BlockSize, cfg.Compression)
		for _, row := range rows {
			if row < rowOffset {
				return Metadata{}, fmt.Errorf("row %d below segment offset %d", row, rowOffset)
			}
			if err := pw.Add(row - rowOffset); err != nil {
				return Metadata{}, fmt.Errorf("failed to add posting: %w", err)
			}
		}
		root, err := pw.Finish()
		if err != nil {
			return Metadata{}, fmt.Errorf("failed to finish postings for term: %w", err)
		}
		if err := tw.Add(term, root); err != nil {
			return Metadata{}, fmt.Errorf("failed to add term: %w", err)
		}
		stats.observe(term, rows)
	}
	if err := terms.Err(); err != nil {
		return Metadata{}, fmt.Errorf("failed to read terms: %w", err)
	}
	if tw.Count() == 0 {
		return Metadata{}, ErrNoTerms
	}

	root, err := tw.Finish()
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to finish term dictionary: %w", err)
	}

	meta := stats.metadata(rowOffset)
	meta.Components[TermsData] = ComponentRef{
		Offset: termsStart,
		Length: termsOut.Position() - termsStart,
		Root:   root,
		Attributes: map[string]string{
			"terms": strconv.FormatInt(tw.Count(), 10),
		},
	}
	meta.Components[PostingLists] = ComponentRef{
		Offset: postStart,
		Length: postOut.Position() - postStart,
	}
	return meta, nil
}

// VectorInput hands over one flushed vector index: the serialized graph and
// the filled ordinal map, rows already segment-local.
type VectorInput struct {
	Graph    io.WriterTo
	Ordinals *vector.Builder
}

// writeVectorSegment writes the opaque graph component and the ordinal map.
// The graph carries no framing; its bytes belong to the graph engine.
func writeVectorSegment(files *componentFiles, in *VectorInput, rowOffset int64) (Metadata, error) {
	graphOut, err := files.open(VectorGraph)
	if err != nil {
		return Metadata{}, err
	}
	graphStart := graphOut.Position()
	if _, err := in.Graph.WriteTo(graphOut); err != nil {
		return Metadata{}, fmt.Errorf("failed to write graph: %w", err)
	}

	omOut, err := files.open(OrdinalMap)
	if err != nil {
		return Metadata{}, err
	}
	res, err := in.Ordinals.Write(omOut)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to write ordinal map: %w", err)
	}
	minRow, maxRow, ok := in.Ordinals.RowBounds()
	if !ok {
		return Metadata{}, ErrNoTerms
	}

	meta := Metadata{
		RowIDOffset: rowOffset,
		NumRows:     res.RowCount,
		MinRowID:    rowOffset + minRow,
		MaxRowID:    rowOffset + maxRow,
		Components:  make(map[ComponentKind]ComponentRef),
	}
	meta.Components[VectorGraph] = ComponentRef{
		Offset: graphStart,
		Length: graphOut.Position() - graphStart,
	}
	meta.Components[OrdinalMap] = ComponentRef{
		Offset: res.Off,
		Length: res.Len,
		Attributes: map[string]string{
			"ordinals": strconv.Itoa(res.Ordinals),
			"rows":     strconv.FormatInt(res.RowCount, 10),
		},
	}
	return meta, nil
}

// writeMissingValues appends a posting list of rows that carry no indexed
// value for the column. Rows must be ascending; they are rebased like every
// other posting.
func writeMissingValues(files *componentFiles, rows []int64, rowOffset int64, cfg WriterConfig) (ComponentRef, error) {
	out, err := files.open(MissingValues)
	if err != nil {
		return ComponentRef{}, err
	}
	start := out.Position()
	pw := postings.NewWriter(out, cfg.BlockSize, cfg.Compression)
	for _, row := range rows {
		if row < rowOffset {
			return ComponentRef{}, fmt.Errorf("missing-value row %d below segment offset %d", row, rowOffset)
		}
		if err := pw.Add(row - rowOffset); err != nil {
			return ComponentRef{}, fmt.Errorf("failed to add missing-value row: %w", err)
		}
	}
	root, err := pw.Finish()
	if err != nil {
		return ComponentRef{}, fmt.Errorf("failed to finish missing-value postings: %w", err)
	}
	return ComponentRef{Offset: start, Length: out.Position() - start, Root: root}, nil
}

func writeMetaComponent(files *componentFiles, metas []Metadata) error {
	out, err := files.open(Meta)
	if err != nil {
		return err
	}
	return WriteMetadata(out, metas)
}

// keyBounds resolves the token bounds of a segment from its row bounds.
func keyBounds(pkMap pk.Map, meta *Metadata) error {
	minKey, err := pkMap.TokenForRow(meta.MinRowID)
	if err != nil {
		return fmt.Errorf("failed to resolve min key: %w", err)
	}
	maxKey, err := pkMap.TokenForRow(meta.MaxRowID)
	if err != nil {
		return fmt.Errorf("failed to resolve max key: %w", err)
	}
	meta.MinKey, meta.MaxKey = minKey, maxKey
	return nil
}

// FlushWriter writes one column index straight out of a memtable flush.
// The input arrives sorted, so nothing is buffered and no memory limiter
// applies; the whole column lands in a single segment.
type FlushWriter struct {
	fsys  fs.FileSystem
	desc  Descriptor
	index string
	kind  Kind
	pkMap pk.Map
	cfg   WriterConfig
}

// NewFlushWriter prepares a flush of the column index named index. pkMap
// must cover every row the input references.
func NewFlushWriter(fsys fs.FileSystem, d Descriptor, index string, kind Kind, pkMap pk.Map, cfg WriterConfig) *FlushWriter {
	return &FlushWriter{
		fsys:  fsys,
		desc:  d,
		index: index,
		kind:  kind,
		pkMap: pkMap,
		cfg:   cfg.withDefaults(),
	}
}

// FlushInput carries one column's flushed content. Terms feeds numeric and
// literal columns, Vector feeds vector columns. MissingRows lists rows with
// no indexed value. RowIDOffset rebases every row id written to disk.
type FlushInput struct {
	Terms       TermsIterator
	Vector      *VectorInput
	MissingRows []int64
	RowIDOffset int64
}

// Flush writes the column's components and, last of all, its completion
// marker. A column with nothing indexed still completes: stale data
// components are removed and only the marker is written. Any failure
// removes every partial component before returning.
func (w *FlushWriter) Flush(input FlushInput) (err error) {
	start := time.Now()
	logger := w.cfg.Logger.With(
		slog.String("index", w.index),
		slog.String("table", w.desc.Table),
	)

	terms, empty, err := w.prepare(input)
	if err != nil {
		return err
	}
	if empty {
		if err := removeColumnData(w.fsys, w.desc, w.index); err != nil {
			return fmt.Errorf("failed to remove stale components: %w", err)
		}
		if err := writeMarker(w.fsys, w.desc.FileForIndex(ColumnCompletionMarker, w.index)); err != nil {
			return err
		}
		logger.Info("flushed empty column index", slog.Duration("took", time.Since(start)))
		return nil
	}

	files := newComponentFiles(w.fsys, w.desc, w.index)
	defer func() {
		if err != nil {
			files.abort()
		}
	}()

	var meta Metadata
	switch w.kind {
	case Numeric:
		meta, err = writeTreeSegment(files, terms, input.RowIDOffset, w.cfg)
	case Literal:
		meta, err = writeTrieSegment(files, terms, input.RowIDOffset, w.cfg)
	case Vector:
		meta, err = writeVectorSegment(files, input.Vector, input.RowIDOffset)
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownKind, w.kind)
	}
	if err != nil {
		return err
	}

	if len(input.MissingRows) > 0 {
		ref, mvErr := writeMissingValues(files, input.MissingRows, input.RowIDOffset, w.cfg)
		if mvErr != nil {
			return mvErr
		}
		meta.Components[MissingValues] = ref
		// Value-less rows still belong to the segment's row and key range.
		for _, row := range input.MissingRows {
			if row < meta.MinRowID {
				meta.MinRowID = row
			}
			if row > meta.MaxRowID {
				meta.MaxRowID = row
			}
		}
	}

	if err = keyBounds(w.pkMap, &meta); err != nil {
		return err
	}
	if err = writeMetaComponent(files, []Metadata{meta}); err != nil {
		return err
	}
	if err = files.finish(); err != nil {
		return err
	}
	if err = writeMarker(w.fsys, w.desc.FileForIndex(ColumnCompletionMarker, w.index)); err != nil {
		return err
	}

	logger.Info("flushed column index",
		slog.String("kind", w.kind.String()),
		slog.Int64("rows", meta.NumRows),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// prepare decides between the data and marker-only paths. For term columns
// it pulls the first pair so emptiness is known before any file exists.
func (w *FlushWriter) prepare(input FlushInput) (TermsIterator, bool, error) {
	switch w.kind {
	case Numeric, Literal:
		if input.Terms == nil {
			return nil, true, nil
		}
		term, rows, ok := input.Terms.Next()
		if !ok {
			return nil, true, input.Terms.Err()
		}
		return &peekedTerms{term: term, rows: rows, rest: input.Terms}, false, nil
	case Vector:
		if input.Vector == nil || input.Vector.Ordinals == nil || input.Vector.Ordinals.NumRows() == 0 {
			return nil, true, nil
		}
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownKind, w.kind)
	}
}

// WriteGroupComponents writes the per-group token values and, last, the
// group completion marker. tokens[i] is the partition token of row i across
// the whole table segment.
func WriteGroupComponents(fsys fs.FileSystem, d Descriptor, tokens []rangeiter.Token) (err error) {
	path := d.FileFor(TokenValues)
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create token values: %w", err)
	}
	out := diskio.NewOutput(f)
	defer func() {
		if err != nil {
			out.Close()
			fsys.Remove(path)
		}
	}()

	if err = diskio.WriteHeader(out, componentMagic, componentVersion); err != nil {
		return err
	}
	if err = pk.WriteTokens(out, tokens); err != nil {
		return err
	}
	if err = diskio.WriteFooter(out); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("failed to sync token values: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("failed to close token values: %w", err)
	}
	return writeMarker(fsys, d.FileFor(GroupCompletionMarker))
}
