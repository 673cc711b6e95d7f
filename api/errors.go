package api

import (
	"errors"
	"net/http"

	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/wallet"
)

var (
	// ErrBadRequest indicates a body or path parameter that does not parse.
	ErrBadRequest = errors.New("api: bad request")

	// ErrExpired indicates a signed request whose deadline has passed.
	ErrExpired = errors.New("api: request deadline passed")

	// ErrDeadlineTooFar indicates a deadline beyond the accepted signing window.
	ErrDeadlineTooFar = errors.New("api: request deadline too far in the future")
)

// codeFor returns the code reported in error bodies.
func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrDeadlineTooFar):
		return "deadline_too_far"
	case errors.Is(err, wallet.ErrAccountMismatch):
		return "account_mismatch"
	case errors.Is(err, wallet.ErrInvalidPubKey), errors.Is(err, wallet.ErrInvalidSignature):
		return "invalid_signature"
	}
	return contract.ErrorCode(err)
}

var statusByCode = map[string]int{
	"bad_request":          http.StatusBadRequest,
	"expired":              http.StatusUnauthorized,
	"deadline_too_far":     http.StatusBadRequest,
	"account_mismatch":     http.StatusForbidden,
	"invalid_signature":    http.StatusUnauthorized,
	"insufficient_payment": http.StatusPaymentRequired,
	"invalid_level":        http.StatusBadRequest,
	"invalid_account":      http.StatusBadRequest,
	"invalid_tier":         http.StatusBadRequest,
	"invalid_percent":      http.StatusBadRequest,
	"zero_amount":          http.StatusBadRequest,
	"already_registered":   http.StatusConflict,
	"stale_level":          http.StatusConflict,
	"unknown_user":         http.StatusNotFound,
	"not_owner":            http.StatusForbidden,
	"not_member":           http.StatusForbidden,
	"paused":               http.StatusServiceUnavailable,
	"price_unavailable":    http.StatusServiceUnavailable,
	"reentrant_call":       http.StatusConflict,
	"action_cooldown":      http.StatusTooManyRequests,
	"cooldown_active":      http.StatusConflict,
	"nothing_to_claim":     http.StatusConflict,
	"insufficient_balance": http.StatusConflict,
	"transfer_failed":      http.StatusBadGateway,
	"canceled":             http.StatusRequestTimeout,
	"deadline_exceeded":    http.StatusGatewayTimeout,
}

// statusFor maps err to an HTTP status.
func statusFor(err error) int {
	if s, ok := statusByCode[codeFor(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
