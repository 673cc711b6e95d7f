package contract

import (
	"context"
	"errors"

	"github.com/bitfsorg/libmatrix-go/revshare"
	"github.com/bitfsorg/libmatrix-go/royalty"
)

var (
	// ErrInsufficientPayment indicates the payment is below the required level cost.
	ErrInsufficientPayment = errors.New("contract: insufficient payment")

	// ErrInvalidLevel indicates a zero step or a target level above the cap.
	ErrInvalidLevel = errors.New("contract: invalid level")

	// ErrStaleLevel indicates the user is no longer at the level an upgrade
	// was requested from.
	ErrStaleLevel = errors.New("contract: stale level")

	// ErrAlreadyRegistered indicates the account already owns a user id.
	ErrAlreadyRegistered = errors.New("contract: account already registered")

	// ErrUnknownUser indicates the user id or account is not registered.
	ErrUnknownUser = errors.New("contract: unknown user")

	// ErrNotOwner indicates the caller does not own the user or the contract.
	ErrNotOwner = errors.New("contract: caller is not the owner")

	// ErrInvalidAccount indicates a zero account.
	ErrInvalidAccount = errors.New("contract: invalid account")

	// ErrInvalidParams indicates unusable construction parameters.
	ErrInvalidParams = errors.New("contract: invalid parameters")

	// ErrPaused indicates the circuit breaker is engaged.
	ErrPaused = errors.New("contract: paused")

	// ErrReentrantCall indicates an operation was invoked from inside another one.
	ErrReentrantCall = errors.New("contract: reentrant call")

	// ErrActionCooldown indicates the account acted too recently.
	ErrActionCooldown = errors.New("contract: action cooldown active")

	// ErrTransferFailed indicates a committed operation could not pay out every transfer.
	ErrTransferFailed = errors.New("contract: transfer failed")

	// ErrCommitFailed indicates the store rejected the changeset; nothing was applied.
	ErrCommitFailed = errors.New("contract: commit failed")

	// ErrPriceUnavailable indicates level costs could not be priced.
	ErrPriceUnavailable = errors.New("contract: price unavailable")

	// ErrRootMismatch indicates the stored root account differs from the configured one.
	ErrRootMismatch = errors.New("contract: root account mismatch")
)

// Errors raised by the components, re-exported for callers of this package.
var (
	ErrInvalidPercent      = revshare.ErrInvalidPercent
	ErrZeroAmount          = revshare.ErrZeroAmount
	ErrInvalidTier         = royalty.ErrInvalidTier
	ErrCooldownActive      = royalty.ErrCooldownActive
	ErrNothingToClaim      = royalty.ErrNothingToClaim
	ErrNotMember           = royalty.ErrNotMember
	ErrInsufficientBalance = royalty.ErrInsufficientBalance
)

// errorCodes is checked in order; wrapping errors come first.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrTransferFailed, "transfer_failed"},
	{ErrCommitFailed, "commit_failed"},
	{ErrInsufficientPayment, "insufficient_payment"},
	{ErrInvalidLevel, "invalid_level"},
	{ErrStaleLevel, "stale_level"},
	{ErrAlreadyRegistered, "already_registered"},
	{ErrUnknownUser, "unknown_user"},
	{ErrNotOwner, "not_owner"},
	{ErrInvalidAccount, "invalid_account"},
	{ErrInvalidParams, "invalid_params"},
	{ErrPaused, "paused"},
	{ErrReentrantCall, "reentrant_call"},
	{ErrActionCooldown, "action_cooldown"},
	{ErrPriceUnavailable, "price_unavailable"},
	{ErrRootMismatch, "root_mismatch"},
	{ErrInvalidPercent, "invalid_percent"},
	{ErrZeroAmount, "zero_amount"},
	{ErrInvalidTier, "invalid_tier"},
	{ErrCooldownActive, "cooldown_active"},
	{ErrNothingToClaim, "nothing_to_claim"},
	{ErrNotMember, "not_member"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "deadline_exceeded"},
}

// ErrorCode returns a stable snake_case code for err, "internal" for
// errors raised outside this package and its components, and "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}
