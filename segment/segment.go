// Package segment ties the index codecs to table segments on disk: component
// naming, segment metadata, completion markers, the two write paths (memtable
// flush and compaction rebuild), and per-column-kind searcher dispatch.
//
// One column index over one table segment is a set of component files. Data
// components carry the diskio header/footer framing and may hold several
// index segments back to back, each located by its metadata entry. Markers
// are zero-length files written last, so a half-finished build is never
// mistaken for a complete one.
package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/sstindex/internal/fs"
)

const (
	componentMagic   uint32 = 0x31584449 // "IDX1"
	componentVersion uint16 = 1
)

var (
	// ErrCorrupted signals a component that failed validation. The index
	// must be rebuilt, never served.
	ErrCorrupted = errors.New("index component corrupted")
	// ErrUnknownKind signals a column kind outside the closed enum.
	ErrUnknownKind = errors.New("unknown column kind")
	// ErrAborted is returned when an aborted build is used again.
	ErrAborted = errors.New("index build aborted")
)

// CorruptError reports which component is unusable and why. It matches
// ErrCorrupted, and carries what a rebuild decision needs.
type CorruptError struct {
	Path string
	Kind ComponentKind
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s component %s: %v", e.Kind, e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupted }

// Kind classifies what a column index stores and which codec serves it.
type Kind int

const (
	Numeric Kind = iota
	Literal
	Vector
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Literal:
		return "literal"
	case Vector:
		return "vector"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ComponentKind is the closed enum of on-disk component types.
type ComponentKind int

const (
	// GroupCompletionMarker marks the per-table-segment components complete.
	GroupCompletionMarker ComponentKind = iota
	// TokenValues holds one token per row id, backing the primary-key map.
	TokenValues
	// ColumnCompletionMarker marks one column index complete.
	ColumnCompletionMarker
	// Meta holds the ordered segment metadata list of one column index.
	Meta
	// TermsData holds the literal term dictionary.
	TermsData
	// PostingLists holds the literal per-term posting blocks.
	PostingLists
	// BalancedTree holds the numeric range-partitioning tree.
	BalancedTree
	// TreePostingLists holds the numeric leaf values and postings.
	TreePostingLists
	// OrdinalMap bridges vector graph ordinals and row ids.
	OrdinalMap
	// VectorGraph holds the opaque serialized similarity graph.
	VectorGraph
	// MissingValues holds row ids lacking an indexed value, optional for
	// any kind.
	MissingValues
)

func (k ComponentKind) String() string {
	switch k {
	case GroupCompletionMarker:
		return "group-completion"
	case TokenValues:
		return "token-values"
	case ColumnCompletionMarker:
		return "column-completion"
	case Meta:
		return "meta"
	case TermsData:
		return "terms-data"
	case PostingLists:
		return "posting-lists"
	case BalancedTree:
		return "balanced-tree"
	case TreePostingLists:
		return "tree-posting-lists"
	case OrdinalMap:
		return "ordinal-map"
	case VectorGraph:
		return "vector-graph"
	case MissingValues:
		return "missing-values"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// PerGroup reports whether the component belongs to the table segment as a
// whole rather than to one column index.
func (k ComponentKind) PerGroup() bool {
	return k == GroupCompletionMarker || k == TokenValues
}

// ColumnComponents returns every component a complete column index of the
// given kind has on disk, MissingValues excluded since it is optional.
func ColumnComponents(kind Kind) []ComponentKind {
	switch kind {
	case Numeric:
		return []ComponentKind{ColumnCompletionMarker, Meta, BalancedTree, TreePostingLists}
	case Literal:
		return []ComponentKind{ColumnCompletionMarker, Meta, TermsData, PostingLists}
	case Vector:
		return []ComponentKind{ColumnCompletionMarker, Meta, VectorGraph, OrdinalMap}
	default:
		return nil
	}
}

// allColumnKinds lists every per-column component any kind can produce, for
// cleanup paths that must not depend on the kind a failed build had.
var allColumnKinds = []ComponentKind{
	ColumnCompletionMarker,
	Meta,
	TermsData,
	PostingLists,
	BalancedTree,
	TreePostingLists,
	OrdinalMap,
	VectorGraph,
	MissingValues,
}

// Descriptor identifies one table segment on disk.
type Descriptor struct {
	Dir        string
	Table      string
	Generation int64
}

// FileFor returns the path of a per-group component file.
func (d Descriptor) FileFor(kind ComponentKind) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s-%d-sai-%s.db", d.Table, d.Generation, kind))
}

// FileForIndex returns the path of a per-column-index component file.
func (d Descriptor) FileForIndex(kind ComponentKind, indexName string) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s-%d-sai-%s-%s.db", d.Table, d.Generation, indexName, kind))
}

// IsGroupBuildComplete reports whether the table segment's shared components
// are fully built.
func IsGroupBuildComplete(fsys fs.FileSystem, d Descriptor) bool {
	_, err := fsys.Stat(d.FileFor(GroupCompletionMarker))
	return err == nil
}

// IsColumnBuildComplete reports whether one column index is fully built. It
// requires both the group marker and the column marker.
func IsColumnBuildComplete(fsys fs.FileSystem, d Descriptor, indexName string) bool {
	if !IsGroupBuildComplete(fsys, d) {
		return false
	}
	_, err := fsys.Stat(d.FileForIndex(ColumnCompletionMarker, indexName))
	return err == nil
}

// RemoveColumn deletes every component of one column index, marker included.
// Absent files are not an error.
func RemoveColumn(fsys fs.FileSystem, d Descriptor, indexName string) error {
	var firstErr error
	for _, kind := range allColumnKinds {
		if err := fsys.Remove(d.FileForIndex(kind, indexName)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// removeColumnData deletes the data components of one column index, leaving
// any marker alone.
func removeColumnData(fsys fs.FileSystem, d Descriptor, indexName string) error {
	var firstErr error
	for _, kind := range allColumnKinds {
		if kind == ColumnCompletionMarker {
			continue
		}
		if err := fsys.Remove(d.FileForIndex(kind, indexName)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeMarker creates a zero-length completion marker.
func writeMarker(fsys fs.FileSystem, path string) error {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync marker: %w", err)
	}
	return f.Close()
}
