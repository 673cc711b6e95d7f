// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads the daemon configuration from a key = value file
// and MATRIX_* environment variables.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/oracle"
	"github.com/bitfsorg/libmatrix-go/payout"
)

// EnvPrefix prefixes the environment variable of every key.
const EnvPrefix = "MATRIX_"

// Config is the daemon configuration.
type Config struct {
	DataDir    string
	ListenAddr string
	Network    string // "bsc", "bsc-testnet" or "local"
	LogLevel   string
	LogFile    string

	Store string // "bolt" or "postgres"
	DSN   string // postgres connection string

	RPCURL     string
	PriceFeed  string // Chainlink aggregator address
	FixedPrice uint64 // 8 decimals; replaces the feed when set

	FeeReceiver string
	Owner       string
	RootAccount string

	Epoch              time.Duration
	Cooldown           time.Duration
	AdminFee           uint64
	RoyaltyFee         uint64
	DistributeInterval time.Duration

	AllowOrigins []string
	RateLimit    uint
	RedisURL     string // shared rate limit counters, e.g. redis://localhost:6379/0

	PayoutURL    string // settlement gateway; transfers stay in memory when empty
	PayoutUser   string
	PayoutPass   string
	PayoutMethod string
}

// DefaultDataDir returns ~/.matrix, or .matrix when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".matrix"
	}
	return filepath.Join(home, ".matrix")
}

// ConfigPath returns the config file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config")
}

// DefaultConfig returns the configuration of a local development node.
func DefaultConfig() Config {
	return Config{
		DataDir:            DefaultDataDir(),
		ListenAddr:         ":8080",
		Network:            "local",
		LogLevel:           "info",
		Store:              "bolt",
		Epoch:              24 * time.Hour,
		AdminFee:           contract.DefaultAdminFeePercent,
		RoyaltyFee:         contract.DefaultRoyaltyFeePercent,
		DistributeInterval: time.Minute,
	}
}

// field binds one config key to its Config member.
type field struct {
	key string
	get func(*Config) string
	set func(*Config, string) error
}

func str(key string, p func(*Config) *string) field {
	return field{
		key: key,
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func uintField(key string, bits int, p func(*Config) *uint64) field {
	return field{
		key: key,
		get: func(c *Config) string { return strconv.FormatUint(*p(c), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, bits)
			if err != nil {
				return err
			}
			*p(c) = n
			return nil
		},
	}
}

func duration(key string, p func(*Config) *time.Duration) field {
	return field{
		key: key,
		get: func(c *Config) string { return p(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*p(c) = d
			return nil
		},
	}
}

var fields = []field{
	str("datadir", func(c *Config) *string { return &c.DataDir }),
	str("listen", func(c *Config) *string { return &c.ListenAddr }),
	str("network", func(c *Config) *string { return &c.Network }),
	str("loglevel", func(c *Config) *string { return &c.LogLevel }),
	str("logfile", func(c *Config) *string { return &c.LogFile }),
	str("store", func(c *Config) *string { return &c.Store }),
	str("dsn", func(c *Config) *string { return &c.DSN }),
	str("rpc_url", func(c *Config) *string { return &c.RPCURL }),
	str("price_feed", func(c *Config) *string { return &c.PriceFeed }),
	uintField("fixed_price", 64, func(c *Config) *uint64 { return &c.FixedPrice }),
	str("fee_receiver", func(c *Config) *string { return &c.FeeReceiver }),
	str("owner", func(c *Config) *string { return &c.Owner }),
	str("root_account", func(c *Config) *string { return &c.RootAccount }),
	duration("epoch", func(c *Config) *time.Duration { return &c.Epoch }),
	duration("cooldown", func(c *Config) *time.Duration { return &c.Cooldown }),
	uintField("admin_fee", 64, func(c *Config) *uint64 { return &c.AdminFee }),
	uintField("royalty_fee", 64, func(c *Config) *uint64 { return &c.RoyaltyFee }),
	duration("distribute_interval", func(c *Config) *time.Duration { return &c.DistributeInterval }),
	{
		key: "allow_origins",
		get: func(c *Config) string { return strings.Join(c.AllowOrigins, ",") },
		set: func(c *Config, v string) error {
			c.AllowOrigins = nil
			for _, o := range strings.Split(v, ",") {
				if o = strings.TrimSpace(o); o != "" {
					c.AllowOrigins = append(c.AllowOrigins, o)
				}
			}
			return nil
		},
	},
	{
		key: "rate_limit",
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.RateLimit), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return err
			}
			c.RateLimit = uint(n)
			return nil
		},
	},
	str("redis_url", func(c *Config) *string { return &c.RedisURL }),
	str("payout_url", func(c *Config) *string { return &c.PayoutURL }),
	str("payout_user", func(c *Config) *string { return &c.PayoutUser }),
	str("payout_pass", func(c *Config) *string { return &c.PayoutPass }),
	str("payout_method", func(c *Config) *string { return &c.PayoutMethod }),
}

func lookup(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// set assigns value to key. Unknown keys are ignored.
func (c *Config) set(key, value string) error {
	f, ok := lookup(key)
	if !ok {
		return nil
	}
	if err := f.set(c, value); err != nil {
		return fmt.Errorf("%w: %s = %q: %v", ErrInvalidConfigValue, key, value, err)
	}
	return nil
}

// parseKeyValue splits a "key = value" line on its first '='.
func parseKeyValue(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// LoadConfig reads path over DefaultConfig. Blank lines and lines starting
// with '#' are skipped; unknown keys are ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := parseKeyValue(line)
		if !ok {
			return cfg, fmt.Errorf("%w: line %d: %q", ErrInvalidConfigLine, lineNo, line)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Matrix Configuration\n\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "%s = %s\n", f.key, f.get(&cfg))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// EnvName returns the environment variable for key, e.g. MATRIX_RPC_URL.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// ApplyEnv overrides cfg with every non-empty MATRIX_* variable in env.
func ApplyEnv(cfg *Config, env map[string]string) error {
	for _, f := range fields {
		v, ok := env[EnvName(f.key)]
		if !ok || v == "" {
			continue
		}
		if err := cfg.set(f.key, v); err != nil {
			return fmt.Errorf("%s: %w", EnvName(f.key), err)
		}
	}
	return nil
}

// EnvMap turns os.Environ style pairs into a map.
func EnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// FeedConfig returns the price feed settings for oracle.ResolveConfig.
func (c Config) FeedConfig() *oracle.FeedConfig {
	return &oracle.FeedConfig{
		RPCURL:      c.RPCURL,
		FeedAddress: c.PriceFeed,
		FixedPrice:  c.FixedPrice,
		Network:     c.Network,
	}
}

// PayoutConfig returns the settlement gateway settings.
func (c Config) PayoutConfig() payout.RPCConfig {
	return payout.RPCConfig{
		URL:      c.PayoutURL,
		User:     c.PayoutUser,
		Password: c.PayoutPass,
		Method:   c.PayoutMethod,
	}
}

// ContractParams builds contract parameters around costs. The three
// accounts must be set.
func (c Config) ContractParams(costs oracle.CostTable) (contract.Params, error) {
	p := contract.DefaultParams()
	for _, a := range []struct {
		key string
		val string
		dst *common.Address
	}{
		{"fee_receiver", c.FeeReceiver, &p.FeeReceiver},
		{"owner", c.Owner, &p.Owner},
		{"root_account", c.RootAccount, &p.RootAccount},
	} {
		if a.val == "" {
			return p, fmt.Errorf("%w: %s", ErrMissingAccount, a.key)
		}
		if !common.IsHexAddress(a.val) {
			return p, fmt.Errorf("%w: %s = %q", ErrInvalidAccount, a.key, a.val)
		}
		*a.dst = common.HexToAddress(a.val)
	}
	p.AdminFeePercent = c.AdminFee
	p.RoyaltyFeePercent = c.RoyaltyFee
	p.Epoch = c.Epoch
	p.ActionCooldown = c.Cooldown
	p.Costs = costs
	return p, p.Validate()
}
