// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"bsc\", \"bsc-testnet\", or \"local\")")

	// ErrInvalidListenAddr indicates the listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")

	// ErrInvalidConfigValue indicates a value that does not parse for its key.
	ErrInvalidConfigValue = errors.New("config: invalid configuration value")

	// ErrInvalidStore indicates an unknown store backend or a postgres store without a DSN.
	ErrInvalidStore = errors.New("config: invalid store (must be \"bolt\", or \"postgres\" with a dsn)")

	// ErrInvalidAccount indicates an account that is not a hex address.
	ErrInvalidAccount = errors.New("config: invalid account address")

	// ErrMissingAccount indicates a required account is not configured.
	ErrMissingAccount = errors.New("config: account not configured")

	// ErrInvalidFees indicates fee percentages above 100 in total.
	ErrInvalidFees = errors.New("config: admin_fee + royalty_fee must not exceed 100")

	// ErrInvalidRedisURL indicates a redis_url that go-redis cannot parse.
	ErrInvalidRedisURL = errors.New("config: invalid redis_url")

	// ErrInvalidPayoutURL indicates a payout gateway URL that is not absolute http(s).
	ErrInvalidPayoutURL = errors.New("config: invalid payout_url")

	// ErrInvalidDuration indicates a non-positive epoch or interval, or a negative cooldown.
	ErrInvalidDuration = errors.New("config: invalid duration")
)
