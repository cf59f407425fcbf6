package query

import (
	"log/slog"
	"sync/atomic"
)

// Context accumulates work counters for one query across every segment,
// searcher and combinator it touches. All methods are safe on a nil receiver
// and for concurrent use, so instrumentation sites never need a guard.
type Context struct {
	segmentsHit     atomic.Int64
	postingsDecoded atomic.Int64
	blocksSkipped   atomic.Int64
	treeNodes       atomic.Int64
	trieNodes       atomic.Int64
	graphSearches   atomic.Int64
}

// NewContext returns a zeroed counter set for one query.
func NewContext() *Context { return &Context{} }

func (c *Context) AddSegmentsHit(n int64) {
	if c != nil {
		c.segmentsHit.Add(n)
	}
}

func (c *Context) AddPostingsDecoded(n int64) {
	if c != nil {
		c.postingsDecoded.Add(n)
	}
}

func (c *Context) AddBlocksSkipped(n int64) {
	if c != nil {
		c.blocksSkipped.Add(n)
	}
}

func (c *Context) AddTreeNodesVisited(n int64) {
	if c != nil {
		c.treeNodes.Add(n)
	}
}

func (c *Context) AddTrieNodesVisited(n int64) {
	if c != nil {
		c.trieNodes.Add(n)
	}
}

func (c *Context) AddGraphSearches(n int64) {
	if c != nil {
		c.graphSearches.Add(n)
	}
}

func (c *Context) SegmentsHit() int64 {
	if c == nil {
		return 0
	}
	return c.segmentsHit.Load()
}

func (c *Context) PostingsDecoded() int64 {
	if c == nil {
		return 0
	}
	return c.postingsDecoded.Load()
}

func (c *Context) BlocksSkipped() int64 {
	if c == nil {
		return 0
	}
	return c.blocksSkipped.Load()
}

func (c *Context) TreeNodesVisited() int64 {
	if c == nil {
		return 0
	}
	return c.treeNodes.Load()
}

func (c *Context) TrieNodesVisited() int64 {
	if c == nil {
		return 0
	}
	return c.trieNodes.Load()
}

func (c *Context) GraphSearches() int64 {
	if c == nil {
		return 0
	}
	return c.graphSearches.Load()
}

// Attrs renders the counters for query-completion debug logging.
func (c *Context) Attrs() []slog.Attr {
	if c == nil {
		return nil
	}
	return []slog.Attr{
		slog.Int64("segments_hit", c.segmentsHit.Load()),
		slog.Int64("postings_decoded", c.postingsDecoded.Load()),
		slog.Int64("blocks_skipped", c.blocksSkipped.Load()),
		slog.Int64("tree_nodes_visited", c.treeNodes.Load()),
		slog.Int64("trie_nodes_visited", c.trieNodes.Load()),
		slog.Int64("graph_searches", c.graphSearches.Load()),
	}
}
