package oracle

import (
	"context"
	"fmt"
	"math/bits"
)

// Levels is the number of purchasable levels.
const Levels = 13

// usdUnit is one US dollar at PriceDecimals precision.
const usdUnit = 100_000_000

// gweiPerCoin is the number of gwei in one native coin.
const gweiPerCoin = 1_000_000_000

// DefaultUSDPrices are the level prices in USD (PriceDecimals), doubling from $5.
var DefaultUSDPrices = [Levels]uint64{
	5 * usdUnit, 10 * usdUnit, 20 * usdUnit, 40 * usdUnit, 80 * usdUnit,
	160 * usdUnit, 320 * usdUnit, 640 * usdUnit, 1280 * usdUnit, 2560 * usdUnit,
	5120 * usdUnit, 10240 * usdUnit, 20480 * usdUnit,
}

// CostTable yields the native cost, in gwei, of each level. Index 0 is level 1.
type CostTable interface {
	LevelCosts(ctx context.Context) ([Levels]uint64, error)
}

// USDCostTable prices levels in USD and converts them with a live feed.
type USDCostTable struct {
	Feed PriceFeed
	USD  [Levels]uint64
}

// Compile-time interface check.
var _ CostTable = (*USDCostTable)(nil)

// NewUSDCostTable creates a converting table over feed.
func NewUSDCostTable(feed PriceFeed, usd [Levels]uint64) *USDCostTable {
	return &USDCostTable{Feed: feed, USD: usd}
}

// LevelCosts reads one price and converts every level with it, so the whole
// table reflects a single observation.
func (t *USDCostTable) LevelCosts(ctx context.Context) ([Levels]uint64, error) {
	var out [Levels]uint64
	if t.Feed == nil {
		return out, fmt.Errorf("%w: feed", ErrNilParam)
	}
	p, err := t.Feed.LatestPrice(ctx)
	if err != nil {
		return out, err
	}
	for i, usd := range t.USD {
		c, err := USDToGwei(usd, p.Value)
		if err != nil {
			return out, fmt.Errorf("level %d: %w", i+1, err)
		}
		out[i] = c
	}
	return out, nil
}

// USDToGwei converts a USD amount to gwei at the given coin price, both with
// PriceDecimals decimals: usd * 1e9 / price.
func USDToGwei(usd, price uint64) (uint64, error) {
	if price == 0 {
		return 0, ErrInvalidPrice
	}
	hi, lo := bits.Mul64(usd, gweiPerCoin)
	if hi >= price {
		return 0, fmt.Errorf("%w: %d usd at price %d overflows", ErrInvalidPrice, usd, price)
	}
	q, _ := bits.Div64(hi, lo, price)
	return q, nil
}

// StaticCostTable serves fixed native costs.
type StaticCostTable [Levels]uint64

// Compile-time interface check.
var _ CostTable = StaticCostTable{}

// LevelCosts returns the table unchanged.
func (t StaticCostTable) LevelCosts(_ context.Context) ([Levels]uint64, error) {
	return t, nil
}

// RangeCost sums the cost of levels from+1 through to.
func RangeCost(costs [Levels]uint64, from, to uint8) (uint64, error) {
	if to <= from || to > Levels {
		return 0, fmt.Errorf("%w: %d -> %d", ErrInvalidLevel, from, to)
	}
	var sum uint64
	for l := from + 1; l <= to; l++ {
		s, carry := bits.Add64(sum, costs[l-1], 0)
		if carry != 0 {
			return 0, fmt.Errorf("%w: cost overflow", ErrInvalidLevel)
		}
		sum = s
	}
	return sum, nil
}
