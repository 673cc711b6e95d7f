package royalty

import "errors"

var (
	// ErrInvalidTier indicates a tier index outside 0..3.
	ErrInvalidTier = errors.New("royalty: invalid tier")

	// ErrCooldownActive indicates the tier's epoch has not elapsed since the last distribution.
	ErrCooldownActive = errors.New("royalty: distribution cooldown active")

	// ErrNotMember indicates the user has never joined the tier.
	ErrNotMember = errors.New("royalty: not a member")

	// ErrNothingToClaim indicates the member has no accrued royalty.
	ErrNothingToClaim = errors.New("royalty: nothing to claim")

	// ErrInsufficientBalance indicates the held royalty balance cannot cover the request.
	ErrInsufficientBalance = errors.New("royalty: insufficient balance")

	// ErrInvalidRule indicates a tier rule or epoch length is unusable.
	ErrInvalidRule = errors.New("royalty: invalid rule")
)
