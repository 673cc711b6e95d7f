package oracle

import (
	"fmt"
	"time"
)

// FeedConfig holds the connection parameters for the price feed.
type FeedConfig struct {
	RPCURL      string        `json:"rpc_url"`
	FeedAddress string        `json:"price_feed"`
	MaxAge      time.Duration `json:"max_age"`
	FixedPrice  uint64        `json:"fixed_price"` // 8 decimals; used instead of a feed when set
	Network     string        `json:"network"`
}

// NetworkPresets contains default feed configurations for known networks.
// BSC mainnet is intentionally omitted to require explicit configuration.
var NetworkPresets = map[string]FeedConfig{
	"bsc-testnet": {
		RPCURL:      "https://data-seed-prebsc-1-s1.bnbchain.org:8545",
		FeedAddress: "0x2514895c72f50D8bd4B4F9b1110F0D6bD2c97526",
		MaxAge:      time.Hour,
	},
	"local": {
		FixedPrice: 600 * usdUnit,
	},
}

// KnownFeeds lists the BNB/USD aggregator per network, for reference when
// configuring mainnet by hand.
var KnownFeeds = map[string]string{
	"bsc":         "0x0567F2323251f0Aab15c8dFb1967E4e8A7D42aeE",
	"bsc-testnet": "0x2514895c72f50D8bd4B4F9b1110F0D6bD2c97526",
}

// ResolveConfig merges feed configuration from three sources with decreasing priority:
//  1. CLI flags (highest priority)
//  2. Environment variables (MATRIX_RPC_URL, MATRIX_PRICE_FEED, MATRIX_FIXED_PRICE)
//  3. Network presets (lowest priority, bsc-testnet/local only)
//
// For bsc mainnet, explicit configuration is required -- there is no preset.
func ResolveConfig(flags *FeedConfig, env map[string]string, network string) (*FeedConfig, error) {
	result := FeedConfig{Network: network}

	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	if env != nil {
		if v, ok := env["MATRIX_RPC_URL"]; ok && v != "" {
			result.RPCURL = v
		}
		if v, ok := env["MATRIX_PRICE_FEED"]; ok && v != "" {
			result.FeedAddress = v
		}
		if v, ok := env["MATRIX_FIXED_PRICE"]; ok && v != "" {
			var p uint64
			if _, err := fmt.Sscanf(v, "%d", &p); err != nil {
				return nil, fmt.Errorf("%w: MATRIX_FIXED_PRICE %q", ErrNoConfig, v)
			}
			result.FixedPrice = p
		}
	}

	if flags != nil {
		if flags.RPCURL != "" {
			result.RPCURL = flags.RPCURL
		}
		if flags.FeedAddress != "" {
			result.FeedAddress = flags.FeedAddress
		}
		if flags.MaxAge > 0 {
			result.MaxAge = flags.MaxAge
		}
		if flags.FixedPrice > 0 {
			result.FixedPrice = flags.FixedPrice
		}
	}

	if result.FixedPrice == 0 && (result.RPCURL == "" || result.FeedAddress == "") {
		return nil, fmt.Errorf("%w: %s requires an RPC URL and price feed address (set --rpc-url, MATRIX_RPC_URL, or config file)",
			ErrNoConfig, network)
	}
	return &result, nil
}
