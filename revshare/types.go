package revshare

import "fmt"

// Shares is the result of splitting one payment.
type Shares struct {
	Net     uint64 // amount - Admin - Royalty; absorbs truncation remainders
	Admin   uint64 // sent to the fee receiver
	Royalty uint64 // credited to the royalty pools
}

// Total returns the sum of all parts, which always equals the split amount.
func (s Shares) Total() uint64 {
	return s.Net + s.Admin + s.Royalty
}

// PercentTable is a fixed table of integer percentages, indexed by hop or tier.
type PercentTable []uint64

// Sum returns the sum of all entries.
func (t PercentTable) Sum() uint64 {
	var sum uint64
	for _, p := range t {
		sum += p
	}
	return sum
}

// Validate checks that no entry and no running sum exceeds 100.
func (t PercentTable) Validate() error {
	var sum uint64
	for i, p := range t {
		if p > 100 {
			return fmt.Errorf("%w: entry %d is %d", ErrInvalidPercent, i, p)
		}
		sum += p
		if sum > 100 {
			return fmt.Errorf("%w: table sums past 100 at entry %d", ErrInvalidPercent, i)
		}
	}
	return nil
}
