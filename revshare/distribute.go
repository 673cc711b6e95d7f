package revshare

import (
	"fmt"
	"math/bits"
)

// PercentOf returns amount * pct / 100, truncated toward zero. pct must not
// exceed 100. The product is computed in 128 bits so no amount can overflow.
func PercentOf(amount, pct uint64) uint64 {
	return mulDiv(amount, pct, 100)
}

// mulDiv returns a*b/d. b must not exceed d so the quotient fits in 64 bits.
func mulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, d)
	return q
}

// Split divides amount into admin fee, royalty fee and net amount.
// Truncation remainders accrue to Net, so Net+Admin+Royalty == amount exactly.
func Split(amount, adminPct, royaltyPct uint64) (Shares, error) {
	if amount == 0 {
		return Shares{}, ErrZeroAmount
	}
	if adminPct > 100 || royaltyPct > 100 || adminPct+royaltyPct > 100 {
		return Shares{}, fmt.Errorf("%w: admin %d + royalty %d", ErrInvalidPercent, adminPct, royaltyPct)
	}

	admin := PercentOf(amount, adminPct)
	royalty := PercentOf(amount, royaltyPct)
	return Shares{
		Net:     amount - admin - royalty,
		Admin:   admin,
		Royalty: royalty,
	}, nil
}

// SplitTable applies each percentage in table to amount and returns the
// per-entry shares together with what is left of amount.
func SplitTable(amount uint64, table PercentTable) ([]uint64, uint64, error) {
	if err := table.Validate(); err != nil {
		return nil, 0, err
	}
	shares := make([]uint64, len(table))
	rest := amount
	for i, pct := range table {
		shares[i] = PercentOf(amount, pct)
		rest -= shares[i]
	}
	return shares, rest, nil
}

// DistributeRevenue splits total proportionally to weights.
// The last entry gets the remainder to avoid integer division precision loss.
func DistributeRevenue(total uint64, weights []uint64) ([]uint64, error) {
	if len(weights) == 0 {
		return nil, ErrNoWeights
	}
	var totalWeight uint64
	for _, w := range weights {
		sum, carry := bits.Add64(totalWeight, w, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%w: weight overflow", ErrInvalidPercent)
		}
		totalWeight = sum
	}
	if totalWeight == 0 {
		return nil, ErrZeroTotalWeight
	}

	amounts := make([]uint64, len(weights))
	var distributed uint64
	for i, w := range weights {
		if i == len(weights)-1 {
			amounts[i] = total - distributed
			break
		}
		amount := mulDiv(total, w, totalWeight)
		amounts[i] = amount
		distributed += amount
	}
	return amounts, nil
}
