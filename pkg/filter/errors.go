package filter

import "errors"

var (
	ErrUnknownField     = errors.New("filter: unknown field")
	ErrInvalidCondition = errors.New("filter: invalid condition")
	ErrNotComparable    = errors.New("filter: value is not comparable")
)
