package matrix

import "errors"

var (
	// ErrNoRoot indicates the ledger has no root user to fall back to.
	ErrNoRoot = errors.New("matrix: root user missing")

	// ErrAlreadyPlaced indicates the user already occupies a matrix slot.
	ErrAlreadyPlaced = errors.New("matrix: user already placed")

	// ErrNoOpenSlot indicates the breadth-first search found no node with a free slot.
	ErrNoOpenSlot = errors.New("matrix: no open slot")

	// ErrCorrupt indicates the matrix links violate the tree invariants.
	ErrCorrupt = errors.New("matrix: corrupt tree")
)
