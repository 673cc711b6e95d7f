// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validNetworks lists the networks the price oracle knows.
var validNetworks = map[string]bool{
	"bsc":         true,
	"bsc-testnet": true,
	"local":       true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid. Accounts
// are checked only when set; ContractParams requires them.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if !validNetworks[cfg.Network] {
		return ErrInvalidNetwork
	}

	if err := validateAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	switch cfg.Store {
	case "bolt":
	case "postgres":
		if cfg.DSN == "" {
			return ErrInvalidStore
		}
	default:
		return ErrInvalidStore
	}

	for key, v := range map[string]string{
		"fee_receiver": cfg.FeeReceiver,
		"owner":        cfg.Owner,
		"root_account": cfg.RootAccount,
		"price_feed":   cfg.PriceFeed,
	} {
		if v != "" && !common.IsHexAddress(v) {
			return fmt.Errorf("%w: %s = %q", ErrInvalidAccount, key, v)
		}
	}

	if cfg.RedisURL != "" {
		if _, err := redis.ParseURL(cfg.RedisURL); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRedisURL, err)
		}
	}

	if cfg.PayoutURL != "" {
		if u, err := url.Parse(cfg.PayoutURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPayoutURL, cfg.PayoutURL)
		}
	}

	if cfg.AdminFee > 100 || cfg.RoyaltyFee > 100-cfg.AdminFee {
		return ErrInvalidFees
	}
	if cfg.Epoch <= 0 || cfg.DistributeInterval <= 0 || cfg.Cooldown < 0 {
		return fmt.Errorf("%w: epoch %s, distribute_interval %s, cooldown %s",
			ErrInvalidDuration, cfg.Epoch, cfg.DistributeInterval, cfg.Cooldown)
	}

	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
