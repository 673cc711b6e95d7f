// Package royalty manages the four top-level royalty pools: funding,
// epoch-gated distribution to active members, claims and qualification.
package royalty

import (
	"fmt"
	"time"

	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/revshare"
)

// DefaultEpoch is the minimum time between two distributions of one tier.
const DefaultEpoch = 24 * time.Hour

// Rule is the qualification requirement of one tier.
type Rule struct {
	Level      uint8
	MinDirects uint64
}

// Rules holds one rule per tier.
type Rules [ledger.RoyaltyTiers]Rule

// DefaultRules maps tiers 0..3 to levels 10..13 with growing direct-referral minimums.
func DefaultRules() Rules {
	return Rules{
		{Level: 10, MinDirects: 2},
		{Level: 11, MinDirects: 3},
		{Level: 12, MinDirects: 4},
		{Level: 13, MinDirects: 5},
	}
}

// Manager applies royalty operations to a ledger transaction.
type Manager struct {
	EpochLength time.Duration
	Rules       Rules
}

// NewManager validates the epoch length and rules.
func NewManager(epoch time.Duration, rules Rules) (*Manager, error) {
	if epoch <= 0 {
		return nil, fmt.Errorf("%w: epoch %s", ErrInvalidRule, epoch)
	}
	for i, r := range rules {
		if r.Level < 1 || r.Level > ledger.MaxLevel {
			return nil, fmt.Errorf("%w: tier %d level %d", ErrInvalidRule, i, r.Level)
		}
	}
	return &Manager{EpochLength: epoch, Rules: rules}, nil
}

func checkTier(tier uint8) error {
	if int(tier) >= ledger.RoyaltyTiers {
		return fmt.Errorf("%w: %d", ErrInvalidTier, tier)
	}
	return nil
}

// Qualifies reports whether u meets the tier's level and direct-referral
// requirements. The root is exempt from the direct-referral requirement.
func (m *Manager) Qualifies(u ledger.User, tier uint8) bool {
	if checkTier(tier) != nil || !u.Exists {
		return false
	}
	r := m.Rules[tier]
	if u.Level < r.Level {
		return false
	}
	return u.IsRoot() || u.DirectTeamCount >= r.MinDirects
}

// Join makes id an active member of tier. Joining twice is a no-op.
func (m *Manager) Join(tx *ledger.Tx, tier uint8, id ledger.UserID, now time.Time) (bool, error) {
	if err := checkTier(tier); err != nil {
		return false, err
	}
	t, err := tx.MutTier(tier)
	if err != nil {
		return false, err
	}
	if t.HasMember(id) {
		return false, nil
	}
	t.Members = append(t.Members, id)
	mem := tx.MutMember(ledger.MemberKey{Tier: tier, UserID: id})
	mem.JoinedAt = now
	return true, nil
}

// Refresh adds id to every tier it now qualifies for and returns the tiers
// joined. Membership, once earned, is never revoked.
func (m *Manager) Refresh(tx *ledger.Tx, id ledger.UserID, now time.Time) ([]uint8, error) {
	u, ok := tx.User(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ledger.ErrUserNotFound, id)
	}
	var joined []uint8
	for tier := uint8(0); tier < ledger.RoyaltyTiers; tier++ {
		if !m.Qualifies(u, tier) {
			continue
		}
		ok, err := m.Join(tx, tier, id, now)
		if err != nil {
			return nil, err
		}
		if ok {
			joined = append(joined, tier)
		}
	}
	return joined, nil
}

// Fund adds amount to the tier's pool and to the held royalty balance.
func (m *Manager) Fund(tx *ledger.Tx, tier uint8, amount uint64) error {
	if err := checkTier(tier); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	t, err := tx.MutTier(tier)
	if err != nil {
		return err
	}
	t.PoolBalance += amount
	tx.Globals().ContractBalance += amount
	return nil
}

// FundAll splits amount across the tiers by weights (the last tier takes the
// remainder) and funds each pool. It returns the per-tier amounts.
func (m *Manager) FundAll(tx *ledger.Tx, amount uint64, weights []uint64) ([]uint64, error) {
	if len(weights) != ledger.RoyaltyTiers {
		return nil, fmt.Errorf("%w: %d weights for %d tiers", ErrInvalidRule, len(weights), ledger.RoyaltyTiers)
	}
	if amount == 0 {
		return make([]uint64, ledger.RoyaltyTiers), nil
	}
	parts, err := revshare.DistributeRevenue(amount, weights)
	if err != nil {
		return nil, err
	}
	for i, p := range parts {
		if err := m.Fund(tx, uint8(i), p); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// NextDistribution returns the earliest instant the tier may be distributed.
// A tier that was never distributed is distributable immediately.
func (m *Manager) NextDistribution(t ledger.RoyaltyTier) time.Time {
	if t.LastDistributionAt.IsZero() {
		return time.Time{}
	}
	return t.LastDistributionAt.Add(m.EpochLength)
}

// Distributable reports whether the tier's epoch has elapsed at now.
func (m *Manager) Distributable(t ledger.RoyaltyTier, now time.Time) bool {
	return !now.Before(m.NextDistribution(t))
}

// Distribution reports one epoch payout.
type Distribution struct {
	Tier        uint8
	Members     int
	Share       uint64 // credited to each member
	Distributed uint64 // Share * Members
	Remainder   uint64 // left in the pool
}

// Distribute divides the tier's pool equally among its active members. The
// integer remainder stays in the pool. It fails with ErrCooldownActive when
// called again within the same epoch. With no members the pool carries over
// and the epoch still advances.
func (m *Manager) Distribute(tx *ledger.Tx, tier uint8, now time.Time) (Distribution, error) {
	if err := checkTier(tier); err != nil {
		return Distribution{}, err
	}
	cur, err := tx.Tier(tier)
	if err != nil {
		return Distribution{}, err
	}
	if !m.Distributable(cur, now) {
		return Distribution{}, fmt.Errorf("%w: tier %d until %s", ErrCooldownActive, tier,
			m.NextDistribution(cur).UTC().Format(time.RFC3339))
	}

	t, err := tx.MutTier(tier)
	if err != nil {
		return Distribution{}, err
	}
	d := Distribution{Tier: tier, Members: len(t.Members), Remainder: t.PoolBalance}
	t.LastDistributionAt = now
	ledger.IncrementSat(&t.Distributions)

	if d.Members == 0 || t.PoolBalance == 0 {
		return d, nil
	}

	d.Share = t.PoolBalance / uint64(d.Members)
	d.Distributed = d.Share * uint64(d.Members)
	d.Remainder = t.PoolBalance - d.Distributed
	if d.Share > 0 {
		for _, id := range t.Members {
			mem := tx.MutMember(ledger.MemberKey{Tier: tier, UserID: id})
			mem.AccruedUnclaimed += d.Share
		}
	}
	t.PoolBalance = d.Remainder
	t.TotalDistributed += d.Distributed
	return d, nil
}

// Claim pays out the member's accrued royalty and resets it. Membership is
// kept. The returned amount is credited to the user's RoyaltyIncome.
func (m *Manager) Claim(tx *ledger.Tx, id ledger.UserID, tier uint8) (uint64, error) {
	if err := checkTier(tier); err != nil {
		return 0, err
	}
	key := ledger.MemberKey{Tier: tier, UserID: id}
	cur, ok := tx.Member(key)
	if !ok {
		return 0, fmt.Errorf("%w: user %d tier %d", ErrNotMember, id, tier)
	}
	if cur.AccruedUnclaimed == 0 {
		return 0, fmt.Errorf("%w: user %d tier %d", ErrNothingToClaim, id, tier)
	}
	g := tx.Globals()
	if g.ContractBalance < cur.AccruedUnclaimed {
		return 0, fmt.Errorf("%w: need %d, held %d", ErrInsufficientBalance, cur.AccruedUnclaimed, g.ContractBalance)
	}
	in, err := tx.MutIncome(id)
	if err != nil {
		return 0, err
	}

	amount := cur.AccruedUnclaimed
	mem := tx.MutMember(key)
	mem.AccruedUnclaimed = 0
	mem.TotalClaimed += amount
	in.Credit(ledger.KindRoyalty, amount)
	g.ContractBalance -= amount
	return amount, nil
}

// Withdrawable returns the undistributed balance of all pools. Royalty
// already credited to members stays claimable and is not included.
func (m *Manager) Withdrawable(tx *ledger.Tx) (uint64, error) {
	var total uint64
	for tier := uint8(0); tier < ledger.RoyaltyTiers; tier++ {
		t, err := tx.Tier(tier)
		if err != nil {
			return 0, err
		}
		total += t.PoolBalance
	}
	return total, nil
}

// Drain removes amount from the undistributed pools, emptying them in tier
// order. It fails with ErrInsufficientBalance when amount exceeds
// Withdrawable.
func (m *Manager) Drain(tx *ledger.Tx, amount uint64) (uint64, error) {
	avail, err := m.Withdrawable(tx)
	if err != nil {
		return 0, err
	}
	if amount > avail {
		return 0, fmt.Errorf("%w: requested %d, withdrawable %d", ErrInsufficientBalance, amount, avail)
	}
	left := amount
	for tier := uint8(0); tier < ledger.RoyaltyTiers && left > 0; tier++ {
		t, err := tx.MutTier(tier)
		if err != nil {
			return 0, err
		}
		take := min(left, t.PoolBalance)
		t.PoolBalance -= take
		left -= take
	}
	tx.Globals().ContractBalance -= amount
	return amount, nil
}

// Info is the per-user view of one tier.
type Info struct {
	Tier             uint8
	Member           bool
	Qualified        bool
	JoinedAt         time.Time
	TotalClaimed     uint64
	AccruedUnclaimed uint64
	PoolBalance      uint64
	Members          int
	NextDistribution time.Time
}

// Info returns the user's standing in a tier.
func (m *Manager) Info(tx *ledger.Tx, id ledger.UserID, tier uint8) (Info, error) {
	if err := checkTier(tier); err != nil {
		return Info{}, err
	}
	u, ok := tx.User(id)
	if !ok {
		return Info{}, fmt.Errorf("%w: %d", ledger.ErrUserNotFound, id)
	}
	t, err := tx.Tier(tier)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Tier:             tier,
		Member:           t.HasMember(id),
		Qualified:        m.Qualifies(u, tier),
		PoolBalance:      t.PoolBalance,
		Members:          len(t.Members),
		NextDistribution: m.NextDistribution(t),
	}
	if mem, ok := tx.Member(ledger.MemberKey{Tier: tier, UserID: id}); ok {
		info.JoinedAt = mem.JoinedAt
		info.TotalClaimed = mem.TotalClaimed
		info.AccruedUnclaimed = mem.AccruedUnclaimed
	}
	return info, nil
}
