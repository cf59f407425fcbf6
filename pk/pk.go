// Package pk maps between segment-local row ids and partition tokens.
//
// Within one table segment rows are laid out in token order, so the token
// sequence indexed by row id is non-decreasing. That monotonicity is what
// lets searchers translate posting streams into token streams and skip by
// token with a single binary search.
package pk

import (
	"errors"

	"github.com/hupe1980/sstindex/rangeiter"
)

// RowNotFound is returned by CeilingRow when every token is below the target.
const RowNotFound int64 = -1

var (
	// ErrRowRange signals a row id outside the mapped range.
	ErrRowRange = errors.New("row id out of range")
	// ErrTokenOrder signals a token sequence that decreases with row id.
	ErrTokenOrder = errors.New("tokens must be non-decreasing")
)

// Map resolves rows to tokens and back for one table segment.
type Map interface {
	// TokenForRow returns the token of the row with the given id.
	TokenForRow(rowID int64) (rangeiter.Token, error)
	// CeilingRow returns the first row id whose token is at least target,
	// or RowNotFound when no token reaches it. Duplicate tokens resolve to
	// the first row of the run.
	CeilingRow(target rangeiter.Token) (int64, error)
	// NumRows returns the number of mapped rows.
	NumRows() int64
}
