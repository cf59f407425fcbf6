package rangeiter

import "sort"

// DefaultIntersectLimit caps how many clause streams an intersection reads
// from. Intersections narrow quickly, so probing beyond the two most
// selective clauses usually costs more IO than it saves.
const DefaultIntersectLimit = 2

// IntersectBuilder accumulates the per-clause streams of a conjunction.
// Build hands ownership of every added child to the returned iterator.
type IntersectBuilder struct {
	children []Iterator
	limit    int
}

func NewIntersectBuilder() *IntersectBuilder {
	return &IntersectBuilder{limit: DefaultIntersectLimit}
}

// WithLimit caps the number of streams retained by Build. The retained
// streams are the most selective ones; values below one disable the cap.
func (b *IntersectBuilder) WithLimit(n int) *IntersectBuilder {
	b.limit = n
	return b
}

func (b *IntersectBuilder) Add(it Iterator) *IntersectBuilder {
	b.children = append(b.children, it)
	return b
}

func (b *IntersectBuilder) Len() int { return len(b.children) }

// CloseChildren releases every added child. For abandoned builds only.
func (b *IntersectBuilder) CloseChildren() error {
	err := closeAll(b.children)
	b.children = nil
	return err
}

// Build returns the intersection of the added children. Statistics from all
// children, including ones discarded by the limit, decide whether the
// intersection is provably empty up front. When the limit discards streams
// the result is a superset of the true intersection and callers re-check
// rows downstream.
func (b *IntersectBuilder) Build() Iterator {
	children := b.children
	b.children = nil

	switch len(children) {
	case 0:
		return Empty()
	case 1:
		return children[0]
	}

	var (
		maxMin, minMax Token
		minCount       int64
		anyEmpty       bool
	)
	for i, ch := range children {
		if i == 0 || ch.Minimum() > maxMin {
			maxMin = ch.Minimum()
		}
		if i == 0 || ch.Maximum() < minMax {
			minMax = ch.Maximum()
		}
		if i == 0 || ch.Count() < minCount {
			minCount = ch.Count()
		}
		if ch.Count() == 0 {
			anyEmpty = true
		}
	}
	if anyEmpty || maxMin > minMax {
		closeAll(children)
		return Empty()
	}

	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Count() < children[j].Count()
	})
	if b.limit >= 1 && b.limit < len(children) {
		closeAll(children[b.limit:])
		children = children[:b.limit]
	}
	if len(children) == 1 {
		return children[0]
	}

	it := &intersect{children: children}
	it.min = maxMin
	it.max = minMax
	it.count = minCount
	it.compute = it.computeNext
	it.skip = it.skipAll
	return it
}

// Intersect returns the intersection of children with the default limit.
func Intersect(children ...Iterator) Iterator {
	b := NewIntersectBuilder()
	for _, ch := range children {
		b.Add(ch)
	}
	return b.Build()
}

// intersect drives candidates from the most selective child and probes the
// rest with SkipTo. A probe that overshoots re-aims the lead, so the
// candidate rotates until every child agrees.
type intersect struct {
	base

	children []Iterator // sorted by ascending count, lead first
	closed   bool
}

func (it *intersect) computeNext() (Token, bool, error) {
	lead := it.children[0]
	for {
		if !lead.HasNext() {
			return 0, false, lead.Err()
		}
		candidate := lead.Next()

		matched := true
		for _, ch := range it.children[1:] {
			ch.SkipTo(candidate)
			if !ch.HasNext() {
				return 0, false, ch.Err()
			}
			if v := ch.Peek(); v != candidate {
				lead.SkipTo(v)
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		for _, ch := range it.children[1:] {
			ch.Next()
		}
		return candidate, true, nil
	}
}

func (it *intersect) skipAll(target Token) {
	for _, ch := range it.children {
		ch.SkipTo(target)
	}
}

func (it *intersect) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.exhaust()
	return closeAll(it.children)
}
