package oracle

import "errors"

var (
	// ErrNoPrice indicates no usable price is available, live or cached.
	ErrNoPrice = errors.New("oracle: no price available")

	// ErrStalePrice indicates the feed answer is older than the allowed age.
	ErrStalePrice = errors.New("oracle: stale price")

	// ErrInvalidPrice indicates a non-positive or unrepresentable answer.
	ErrInvalidPrice = errors.New("oracle: invalid price")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("oracle: required parameter is nil")

	// ErrInvalidLevel indicates a level outside the cost table.
	ErrInvalidLevel = errors.New("oracle: invalid level")

	// ErrNoConfig indicates the network has no preset and nothing was configured.
	ErrNoConfig = errors.New("oracle: missing configuration")
)
