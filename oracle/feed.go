// Package oracle reads the native-coin/USD price and turns USD level prices
// into native amounts.
package oracle

import (
	"context"
	"sync"
	"time"
)

// PriceDecimals is the fixed-point precision of every Price value.
const PriceDecimals = 8

// Price is one USD price observation with PriceDecimals decimals.
type Price struct {
	Value     uint64
	Round     uint64
	UpdatedAt time.Time
}

// PriceFeed is the single read operation the engine consumes.
type PriceFeed interface {
	LatestPrice(ctx context.Context) (Price, error)
}

// FixedFeed always returns the same price. Useful for local networks.
type FixedFeed struct {
	Value uint64
}

// Compile-time interface check.
var _ PriceFeed = (*FixedFeed)(nil)

// LatestPrice returns the fixed value stamped with the current time.
func (f *FixedFeed) LatestPrice(_ context.Context) (Price, error) {
	if f.Value == 0 {
		return Price{}, ErrInvalidPrice
	}
	return Price{Value: f.Value, UpdatedAt: time.Now()}, nil
}

// CachedFeed wraps a feed and tolerates its failure: when the live read
// errors or is older than MaxAge, the last good price is returned instead,
// or Fallback if no good price was ever seen.
type CachedFeed struct {
	Feed     PriceFeed
	MaxAge   time.Duration // zero disables the staleness check
	Fallback uint64        // used before the first good read; zero means none
	Now      func() time.Time

	// OnFallback, when set, is told why the cached price was used.
	OnFallback func(err error)

	mu   sync.Mutex
	last Price
	ok   bool
}

// Compile-time interface check.
var _ PriceFeed = (*CachedFeed)(nil)

// NewCachedFeed wraps feed with staleness tolerance.
func NewCachedFeed(feed PriceFeed, maxAge time.Duration, fallback uint64) *CachedFeed {
	return &CachedFeed{Feed: feed, MaxAge: maxAge, Fallback: fallback}
}

func (c *CachedFeed) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// LatestPrice returns the live price when fresh, otherwise the cached one.
func (c *CachedFeed) LatestPrice(ctx context.Context) (Price, error) {
	if c.Feed == nil {
		return Price{}, ErrNilParam
	}
	p, err := c.Feed.LatestPrice(ctx)
	if err == nil && p.Value == 0 {
		err = ErrInvalidPrice
	}
	if err == nil && c.MaxAge > 0 && c.now().Sub(p.UpdatedAt) > c.MaxAge {
		err = ErrStalePrice
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.last = p
		c.ok = true
		return p, nil
	}

	if c.OnFallback != nil {
		c.OnFallback(err)
	}
	if c.ok {
		return c.last, nil
	}
	if c.Fallback > 0 {
		return Price{Value: c.Fallback}, nil
	}
	return Price{}, ErrNoPrice
}

// Last returns the most recent good price, if any.
func (c *CachedFeed) Last() (Price, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.ok
}
