package rangeiter

// Token is the sort key streams are ordered by. Within one table segment,
// tokens ascend with row id, which is what lets posting streams surface as
// token streams through a monotone mapping.
type Token int64

// Iterator is a lazy stream of non-decreasing tokens.
//
// The scanner idiom applies: HasNext positions the stream (possibly doing
// I/O), Peek and Next read the current element, and Err reports the first
// failure after HasNext returns false. SkipTo discards everything below
// target and never rewinds; targets must not decrease. Close releases the
// underlying readers, is idempotent, and is safe on a stream that was never
// advanced.
//
// Minimum, Maximum and Count are statistics fixed at construction: bounds on
// the stream's token range and an upper-bound cardinality estimate. They stay
// valid after the stream is consumed.
type Iterator interface {
	Minimum() Token
	Maximum() Token
	Count() int64

	HasNext() bool
	Peek() Token
	Next() Token
	SkipTo(target Token)

	Err() error
	Close() error
}

type iterState uint8

const (
	statePending iterState = iota
	stateReady
	stateDone
	stateFailed
)

// base is the lookahead state machine embedded by every iterator in this
// module. Implementations supply compute (produce the next token) and
// optionally skip (reposition before the next compute).
type base struct {
	min   Token
	max   Token
	count int64

	compute func() (Token, bool, error)
	skip    func(target Token)

	cur   Token
	state iterState
	err   error
}

func (b *base) Minimum() Token { return b.min }
func (b *base) Maximum() Token { return b.max }
func (b *base) Count() int64   { return b.count }
func (b *base) Err() error     { return b.err }

func (b *base) HasNext() bool {
	switch b.state {
	case stateReady:
		return true
	case stateDone, stateFailed:
		return false
	}
	v, ok, err := b.compute()
	if err != nil {
		b.err = err
		b.state = stateFailed
		return false
	}
	if !ok {
		b.state = stateDone
		return false
	}
	b.cur = v
	b.state = stateReady
	return true
}

// Peek returns the current token without consuming it. Valid only after
// HasNext reported true.
func (b *base) Peek() Token {
	b.HasNext()
	return b.cur
}

// Next consumes and returns the current token. Valid only after HasNext
// reported true.
func (b *base) Next() Token {
	if !b.HasNext() {
		return b.cur
	}
	b.state = statePending
	return b.cur
}

func (b *base) SkipTo(target Token) {
	if b.state == stateDone || b.state == stateFailed {
		return
	}
	if b.state == stateReady && b.cur >= target {
		return
	}
	b.state = statePending
	if b.skip != nil {
		b.skip(target)
	}
}

// exhaust moves the iterator to its terminal state.
func (b *base) exhaust() { b.state = stateDone }

type emptyIterator struct{ base }

// Empty returns an iterator over no tokens.
func Empty() Iterator {
	e := &emptyIterator{}
	e.compute = func() (Token, bool, error) { return 0, false, nil }
	return e
}

func (e *emptyIterator) Close() error { return nil }

type sliceIterator struct {
	base
	tokens []Token
	pos    int
}

// FromSlice returns an iterator over tokens, which must be non-decreasing.
func FromSlice(tokens []Token) Iterator {
	s := &sliceIterator{tokens: tokens}
	if len(tokens) > 0 {
		s.min = tokens[0]
		s.max = tokens[len(tokens)-1]
		s.count = int64(len(tokens))
	}
	s.compute = func() (Token, bool, error) {
		if s.pos >= len(s.tokens) {
			return 0, false, nil
		}
		v := s.tokens[s.pos]
		s.pos++
		return v, true, nil
	}
	s.skip = func(target Token) {
		for s.pos < len(s.tokens) && s.tokens[s.pos] < target {
			s.pos++
		}
	}
	return s
}

func (s *sliceIterator) Close() error { return nil }

// closeAll closes every non-nil iterator, keeping the first error.
func closeAll(its []Iterator) error {
	var firstErr error
	for _, it := range its {
		if it == nil {
			continue
		}
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
