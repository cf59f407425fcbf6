package sstindex

// Close releases every component mapping the index holds. Streams obtained
// from the index must be closed before it; afterwards every operation
// returns ErrClosed. Close is idempotent and safe on a nil index.
func (ix *Index) Close() error {
	if ix == nil {
		return nil
	}
	if !ix.closed.CompareAndSwap(false, true) {
		return nil
	}
	return ix.release()
}
