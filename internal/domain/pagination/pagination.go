// Package pagination normalizes page/limit query parameters.
package pagination

import "math"

const (
	DefaultLimit = 20
	MaxLimit     = 100
	// MaxNumber keeps (Number-1)*MaxLimit within int.
	MaxNumber = math.MaxInt/MaxLimit + 1
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Limit  int
}

// Normalize clamps p to valid bounds.
func (p Page) Normalize() Page {
	switch {
	case p.Number < 1:
		p.Number = 1
	case p.Number > MaxNumber:
		p.Number = MaxNumber
	}
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	return p
}

// Offset returns the row offset of a normalized page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Result is one page of T plus the total count across all pages.
type Result[T any] struct {
	Items []T
	Total int
	Page  Page
}
