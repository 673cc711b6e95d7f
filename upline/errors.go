package upline

import "errors"

var (
	// ErrNoFallback indicates the ledger has no root user to absorb unpaid shares.
	ErrNoFallback = errors.New("upline: fallback recipient missing")

	// ErrUnknownStart indicates the walk starts from a user that does not exist.
	ErrUnknownStart = errors.New("upline: unknown start user")

	// ErrInvalidKind indicates the payout kind is not an upline income kind.
	ErrInvalidKind = errors.New("upline: invalid payout kind")
)
