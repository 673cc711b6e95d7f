package oracle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Open builds the price feed described by cfg. A fixed price short-circuits
// the RPC connection. Live feeds are wrapped in a CachedFeed. The returned
// close function releases the RPC client and is never nil.
func Open(ctx context.Context, cfg *FeedConfig) (*CachedFeed, func(), error) {
	if cfg == nil {
		return nil, func() {}, fmt.Errorf("%w: feed config", ErrNilParam)
	}
	if cfg.FixedPrice > 0 {
		return NewCachedFeed(&FixedFeed{Value: cfg.FixedPrice}, 0, cfg.FixedPrice), func() {}, nil
	}
	if !common.IsHexAddress(cfg.FeedAddress) {
		return nil, func() {}, fmt.Errorf("%w: feed address %q", ErrNoConfig, cfg.FeedAddress)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("oracle: dial %s: %w", cfg.RPCURL, err)
	}
	feed, err := NewChainlinkFeed(client, common.HexToAddress(cfg.FeedAddress))
	if err != nil {
		client.Close()
		return nil, func() {}, err
	}
	return NewCachedFeed(feed, cfg.MaxAge, 0), client.Close, nil
}
