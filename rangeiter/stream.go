package rangeiter

// Stats are the fixed construction-time statistics of a stream.
type Stats struct {
	Min   Token
	Max   Token
	Count int64
}

type streamIterator struct {
	base
	close  func() error
	closed bool
}

// NewStream adapts a pull source into an Iterator. next returns the tokens
// in non-decreasing order and reports exhaustion with false; skip, which may
// be nil, repositions the source at the first token >= target before the
// next pull; close, which may be nil, releases the source and runs at most
// once.
func NewStream(stats Stats, next func() (Token, bool, error), skip func(target Token), close func() error) Iterator {
	s := &streamIterator{close: close}
	s.min = stats.Min
	s.max = stats.Max
	s.count = stats.Count
	s.compute = next
	s.skip = skip
	return s
}

func (s *streamIterator) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.exhaust()
	if s.close == nil {
		return nil
	}
	return s.close()
}
