package payout

import "errors"

var (
	// ErrConnectionFailed indicates the gateway could not be reached.
	ErrConnectionFailed = errors.New("payout: connection failed")

	// ErrAuthFailed indicates the gateway rejected the credentials.
	ErrAuthFailed = errors.New("payout: authentication failed")

	// ErrRejected indicates the gateway refused the transfer.
	ErrRejected = errors.New("payout: transfer rejected")

	// ErrInvalidResponse indicates a malformed or unexpected gateway reply.
	ErrInvalidResponse = errors.New("payout: invalid response")

	// ErrNoGateway indicates a gateway config without a URL.
	ErrNoGateway = errors.New("payout: gateway URL not configured")
)
