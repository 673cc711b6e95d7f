package revshare

import "errors"

var (
	// ErrZeroAmount indicates there is nothing to split.
	ErrZeroAmount = errors.New("revshare: zero amount")

	// ErrInvalidPercent indicates a percentage, or a sum of percentages, above 100.
	ErrInvalidPercent = errors.New("revshare: invalid percent")

	// ErrNoWeights indicates a distribution was requested over an empty weight table.
	ErrNoWeights = errors.New("revshare: no weights")

	// ErrZeroTotalWeight indicates every weight in the table is zero.
	ErrZeroTotalWeight = errors.New("revshare: zero total weight")

	// ErrConservationViolation indicates the parts of a split do not add up to the whole.
	ErrConservationViolation = errors.New("revshare: conservation violated")
)
