package contract

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/oracle"
	"github.com/bitfsorg/libmatrix-go/royalty"
	"github.com/bitfsorg/libmatrix-go/upline"
)

// Stats is a snapshot of ledger-wide totals.
type Stats struct {
	Users              uint64
	Paused             bool
	ContractBalance    uint64
	TotalDeposits      uint64
	TotalAdminFees     uint64
	EmergencyWithdrawn uint64
	Receipts           uint64
	Pools              [ledger.RoyaltyTiers]uint64
	Members            [ledger.RoyaltyTiers]int
}

// statsLocked builds Stats. Caller holds mu.
func (c *Contract) statsLocked() Stats {
	g := c.state.Globals
	s := Stats{
		Users:              uint64(g.LastUserID),
		Paused:             g.Paused,
		ContractBalance:    g.ContractBalance,
		TotalDeposits:      g.TotalDeposits,
		TotalAdminFees:     g.TotalAdminFees,
		EmergencyWithdrawn: g.EmergencyWithdrawn,
		Receipts:           g.ReceiptSeq,
	}
	for i, t := range c.state.Tiers {
		s.Pools[i] = t.PoolBalance
		s.Members[i] = len(t.Members)
	}
	return s
}

// view runs fn on a read-only transaction over the current state.
func (c *Contract) view(fn func(tx *ledger.Tx) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(c.state.Begin())
}

// Params returns the construction parameters.
func (c *Contract) Params() Params {
	return c.params
}

// Stats returns current ledger-wide totals.
func (c *Contract) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statsLocked()
}

// UserInfo returns the profile of id.
func (c *Contract) UserInfo(id ledger.UserID) (ledger.User, error) {
	var u ledger.User
	err := c.view(func(tx *ledger.Tx) error {
		var ok bool
		if u, ok = tx.User(id); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownUser, id)
		}
		u.Children = slices.Clone(u.Children)
		u.Referrals = slices.Clone(u.Referrals)
		return nil
	})
	return u, err
}

// UserIncome returns the income breakdown of id.
func (c *Contract) UserIncome(id ledger.UserID) (ledger.Income, error) {
	var in ledger.Income
	err := c.view(func(tx *ledger.Tx) error {
		var ok bool
		if in, ok = tx.Income(id); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownUser, id)
		}
		return nil
	})
	return in, err
}

// UserIDByAccount resolves account to its user id.
func (c *Contract) UserIDByAccount(account common.Address) (ledger.UserID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.state.Accounts[account]
	return id, ok
}

// DirectReferrals returns the users id referred, in registration order.
func (c *Contract) DirectReferrals(id ledger.UserID) ([]ledger.User, error) {
	var out []ledger.User
	err := c.view(func(tx *ledger.Tx) error {
		u, ok := tx.User(id)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownUser, id)
		}
		out = make([]ledger.User, 0, len(u.Referrals))
		for _, rid := range u.Referrals {
			r, ok := tx.User(rid)
			if !ok {
				return fmt.Errorf("%w: referral %d of %d", ledger.ErrInvariant, rid, id)
			}
			r.Children = slices.Clone(r.Children)
			r.Referrals = slices.Clone(r.Referrals)
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Upline returns the users above id along the chosen chain, nearest first.
// It stops where a payout walk would stop. Depth outside 1..MaxLevel is
// clamped to MaxLevel, the deepest hop any walk pays.
func (c *Contract) Upline(id ledger.UserID, via upline.Via, depth int) ([]ledger.User, error) {
	if depth <= 0 || depth > ledger.MaxLevel {
		depth = ledger.MaxLevel
	}
	var out []ledger.User
	err := c.view(func(tx *ledger.Tx) error {
		if _, ok := tx.User(id); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownUser, id)
		}
		path := upline.Path(tx, id, via, depth)
		out = make([]ledger.User, 0, len(path))
		for _, pid := range path {
			u, _ := tx.User(pid)
			u.Children = slices.Clone(u.Children)
			u.Referrals = slices.Clone(u.Referrals)
			out = append(out, u)
		}
		return nil
	})
	return out, err
}

// RoyaltyInfo returns the standing of id in tier.
func (c *Contract) RoyaltyInfo(id ledger.UserID, tier uint8) (royalty.Info, error) {
	var info royalty.Info
	err := c.view(func(tx *ledger.Tx) error {
		if _, ok := tx.User(id); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownUser, id)
		}
		var err error
		info, err = c.royalty.Info(tx, id, tier)
		return err
	})
	return info, err
}

// DueTiers returns the tiers whose epoch has elapsed.
func (c *Contract) DueTiers() []uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.clock().UTC()
	if now.Before(c.last) {
		now = c.last
	}
	var due []uint8
	for i, t := range c.state.Tiers {
		if c.royalty.Distributable(*t, now) {
			due = append(due, uint8(i))
		}
	}
	return due
}

// NextDistribution returns the earliest distribution time of tier.
func (c *Contract) NextDistribution(tier uint8) (time.Time, error) {
	if int(tier) >= ledger.RoyaltyTiers {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidTier, tier)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.royalty.NextDistribution(*c.state.Tiers[tier]), nil
}

// LevelCosts returns the current native price of every level.
func (c *Contract) LevelCosts(ctx context.Context) ([oracle.Levels]uint64, error) {
	return c.levelCosts(ctx)
}

// RequiredCost returns the price of moving from level from to level to.
func (c *Contract) RequiredCost(ctx context.Context, from, to uint8) (uint64, error) {
	costs, err := c.levelCosts(ctx)
	if err != nil {
		return 0, err
	}
	sum, err := oracle.RangeCost(costs, from, to)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidLevel, err)
	}
	return sum, nil
}

// Receipts returns up to limit receipts after sequence number after.
func (c *Contract) Receipts(after uint64, limit int) ([]ledger.Receipt, error) {
	return c.store.Receipts(after, limit)
}

// CheckInvariants verifies the in-memory ledger.
func (c *Contract) CheckInvariants() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ledger.CheckInvariants(c.state)
}
