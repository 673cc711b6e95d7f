package ledger

import "errors"

var (
	// ErrUserNotFound indicates no user record exists for the requested id.
	ErrUserNotFound = errors.New("ledger: user not found")

	// ErrAccountNotFound indicates the account has no registered user.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrDuplicateAccount indicates the account already owns a user id.
	ErrDuplicateAccount = errors.New("ledger: duplicate account")

	// ErrInvalidTier indicates a royalty tier index outside the configured tiers.
	ErrInvalidTier = errors.New("ledger: invalid royalty tier")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("ledger: required parameter is nil")

	// ErrInvariant indicates a ledger invariant does not hold. Never expected in
	// a correct ledger; surfaced by CheckInvariants.
	ErrInvariant = errors.New("ledger: invariant violated")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("ledger: store closed")
)
