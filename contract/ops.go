package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/matrix"
	"github.com/bitfsorg/libmatrix-go/oracle"
	"github.com/bitfsorg/libmatrix-go/revshare"
	"github.com/bitfsorg/libmatrix-go/royalty"
	"github.com/bitfsorg/libmatrix-go/upline"
)

func (c *Contract) levelCosts(ctx context.Context) ([oracle.Levels]uint64, error) {
	costs, err := c.costs.LevelCosts(ctx)
	if err != nil {
		return costs, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	return costs, nil
}

// adminPayout returns the fee receiver payout, or nothing for a zero fee.
func (c *Contract) adminPayout(amount uint64) []ledger.Payout {
	if amount == 0 {
		return nil
	}
	return []ledger.Payout{{Kind: ledger.KindAdmin, Account: c.params.FeeReceiver, Amount: amount}}
}

// checkConservation verifies that a payment was fully accounted for.
func checkConservation(r *ledger.Receipt) error {
	if err := revshare.ValidateConservation(r.Payment, r.PaidOut(), r.RoyaltyFee); err != nil {
		return fmt.Errorf("%w: receipt %d: %w", ledger.ErrInvariant, r.Seq, err)
	}
	return nil
}

// ownedUser returns the user and checks that caller owns it.
func ownedUser(tx *ledger.Tx, caller common.Address, id ledger.UserID) (ledger.User, error) {
	u, ok := tx.User(id)
	if !ok {
		return ledger.User{}, fmt.Errorf("%w: %d", ErrUnknownUser, id)
	}
	if u.Account != caller {
		return ledger.User{}, fmt.Errorf("%w: user %d belongs to %s", ErrNotOwner, id, u.Account.Hex())
	}
	return u, nil
}

// Register creates a level 1 user for account under referrerID. An unknown
// or zero referrer is redirected to the root. After fees, the whole net
// amount goes to the direct referrer.
func (c *Contract) Register(ctx context.Context, account common.Address, referrerID ledger.UserID, payment uint64) (*ledger.Receipt, error) {
	costs, err := c.levelCosts(ctx)
	if err != nil {
		c.observer.Rejected(ledger.OpRegister, err)
		return nil, err
	}

	return c.run(ctx, ledger.OpRegister, func(tx *ledger.Tx, now time.Time) (*ledger.Receipt, error) {
		g := tx.Globals()
		if g.Paused {
			return nil, ErrPaused
		}
		if account == (common.Address{}) {
			return nil, ErrInvalidAccount
		}
		if id, ok := tx.UserIDByAccount(account); ok {
			return nil, fmt.Errorf("%w: %s is user %d", ErrAlreadyRegistered, account.Hex(), id)
		}
		if payment < costs[0] {
			return nil, fmt.Errorf("%w: paid %d, level 1 costs %d", ErrInsufficientPayment, payment, costs[0])
		}
		shares, err := revshare.Split(payment, c.params.AdminFeePercent, c.params.RoyaltyFeePercent)
		if err != nil {
			return nil, err
		}

		id := g.LastUserID + 1
		if err := tx.InsertUser(&ledger.User{ID: id, Account: account, Level: 1, RegisteredAt: now, LastActionAt: now}); err != nil {
			return nil, err
		}
		g.LastUserID = id

		placed, err := matrix.Place(tx, id, referrerID)
		if err != nil {
			return nil, err
		}
		walk, err := upline.Distribute(tx, upline.Walk{
			Start:   id,
			Via:     upline.ViaReferrer,
			Amounts: []uint64{shares.Net},
			Kind:    ledger.KindReferral,
		})
		if err != nil {
			return nil, err
		}
		if _, err := c.royalty.FundAll(tx, shares.Royalty, c.params.RoyaltyTierPercents); err != nil {
			return nil, err
		}
		if _, err := c.royalty.Refresh(tx, placed.ReferrerID, now); err != nil {
			return nil, err
		}

		in, err := tx.MutIncome(id)
		if err != nil {
			return nil, err
		}
		in.TotalDeposit += payment
		g.TotalDeposits += payment
		g.TotalAdminFees += shares.Admin

		r := c.newReceipt(tx, ledger.OpRegister, now)
		r.UserID = id
		r.Account = account
		r.Payment = payment
		r.AdminFee = shares.Admin
		r.RoyaltyFee = shares.Royalty
		r.Lost = walk.Lost
		r.ToLevel = 1
		r.Payouts = append(c.adminPayout(shares.Admin), walk.Payouts...)
		if err := checkConservation(r); err != nil {
			return nil, err
		}

		c.log.Info(fmt.Sprintf("contract: registered user %d (%s) referrer %d parent %d, paid %d",
			id, account.Hex(), placed.ReferrerID, placed.ParentID, payment))
		return r, nil
	})
}

// Upgrade raises userID by levels. caller must own the user. Each purchased
// level L is split on its own: admin fee, royalty fee, sponsor commission
// along the referrer chain, and the rest as matrix income to the L-th
// matrix ancestor. Any excess payment rides on the last level.
func (c *Contract) Upgrade(ctx context.Context, caller common.Address, userID ledger.UserID, levels uint8, payment uint64) (*ledger.Receipt, error) {
	costs, err := c.levelCosts(ctx)
	if err != nil {
		c.observer.Rejected(ledger.OpUpgrade, err)
		return nil, err
	}
	return c.run(ctx, ledger.OpUpgrade, func(tx *ledger.Tx, now time.Time) (*ledger.Receipt, error) {
		return c.upgrade(tx, now, costs, caller, userID, anyLevel, levels, payment)
	})
}

// UpgradeSelf is Upgrade for the user owned by caller.
func (c *Contract) UpgradeSelf(ctx context.Context, caller common.Address, levels uint8, payment uint64) (*ledger.Receipt, error) {
	return c.UpgradeFrom(ctx, caller, ledger.NoUser, anyLevel, levels, payment)
}

// anyLevel disables the starting level check of UpgradeFrom.
const anyLevel = -1

// UpgradeFrom is Upgrade that also requires the user to stand at level
// from, so a request that was already applied fails with ErrStaleLevel.
// ledger.NoUser selects the user owned by caller; a negative from skips
// the check.
func (c *Contract) UpgradeFrom(ctx context.Context, caller common.Address, userID ledger.UserID, from int, levels uint8, payment uint64) (*ledger.Receipt, error) {
	costs, err := c.levelCosts(ctx)
	if err != nil {
		c.observer.Rejected(ledger.OpUpgrade, err)
		return nil, err
	}
	return c.run(ctx, ledger.OpUpgrade, func(tx *ledger.Tx, now time.Time) (*ledger.Receipt, error) {
		id := userID
		if id == ledger.NoUser {
			var ok bool
			if id, ok = tx.UserIDByAccount(caller); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownUser, caller.Hex())
			}
		}
		return c.upgrade(tx, now, costs, caller, id, from, levels, payment)
	})
}

func (c *Contract) upgrade(tx *ledger.Tx, now time.Time, costs [oracle.Levels]uint64,
	caller common.Address, userID ledger.UserID, from int, levels uint8, payment uint64) (*ledger.Receipt, error) {
	g := tx.Globals()
	if g.Paused {
		return nil, ErrPaused
	}
	u, err := ownedUser(tx, caller, userID)
	if err != nil {
		return nil, err
	}
	if from >= 0 && int(u.Level) != from {
		return nil, fmt.Errorf("%w: user %d is at level %d, not %d", ErrStaleLevel, userID, u.Level, from)
	}
	if d := c.params.ActionCooldown; d > 0 && now.Before(u.LastActionAt.Add(d)) {
		return nil, fmt.Errorf("%w: user %d until %s", ErrActionCooldown, userID,
			u.LastActionAt.Add(d).Format(time.RFC3339))
	}
	if levels == 0 || int(u.Level)+int(levels) > ledger.MaxLevel {
		return nil, fmt.Errorf("%w: level %d + %d", ErrInvalidLevel, u.Level, levels)
	}
	target := u.Level + levels
	required, err := oracle.RangeCost(costs, u.Level, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLevel, err)
	}
	if payment < required {
		return nil, fmt.Errorf("%w: paid %d, levels %d..%d cost %d", ErrInsufficientPayment, payment, u.Level+1, target, required)
	}

	r := c.newReceipt(tx, ledger.OpUpgrade, now)
	r.UserID = userID
	r.Account = caller
	r.Payment = payment
	r.FromLevel = u.Level
	r.ToLevel = target

	var paid []ledger.Payout
	for level := u.Level + 1; level <= target; level++ {
		amount := costs[level-1]
		if level == target {
			amount += payment - required
		}
		lp, err := c.payLevel(tx, userID, level, amount)
		if err != nil {
			return nil, err
		}
		r.AdminFee += lp.admin
		r.RoyaltyFee += lp.royalty
		r.Lost += lp.lost
		paid = append(paid, lp.payouts...)
	}
	r.Payouts = append(c.adminPayout(r.AdminFee), paid...)

	mu, err := tx.MutUser(userID)
	if err != nil {
		return nil, err
	}
	mu.Level = target
	mu.LastActionAt = now
	in, err := tx.MutIncome(userID)
	if err != nil {
		return nil, err
	}
	in.TotalDeposit += payment
	g.TotalDeposits += payment
	g.TotalAdminFees += r.AdminFee

	joined, err := c.royalty.Refresh(tx, userID, now)
	if err != nil {
		return nil, err
	}
	if err := checkConservation(r); err != nil {
		return nil, err
	}

	c.log.Info(fmt.Sprintf("contract: upgraded user %d from %d to %d, paid %d, lost %d, joined tiers %v",
		userID, u.Level, target, payment, r.Lost, joined))
	return r, nil
}

type levelPayment struct {
	admin   uint64
	royalty uint64
	lost    uint64
	payouts []ledger.Payout
}

// payLevel distributes the price of one purchased level.
func (c *Contract) payLevel(tx *ledger.Tx, userID ledger.UserID, level uint8, amount uint64) (levelPayment, error) {
	shares, err := revshare.Split(amount, c.params.AdminFeePercent, c.params.RoyaltyFeePercent)
	if err != nil {
		return levelPayment{}, fmt.Errorf("level %d: %w", level, err)
	}
	sponsor, rest, err := revshare.SplitTable(shares.Net, c.params.SponsorPercents)
	if err != nil {
		return levelPayment{}, err
	}
	sw, err := upline.Distribute(tx, upline.Walk{
		Start:   userID,
		Via:     upline.ViaReferrer,
		Amounts: sponsor,
		Qualify: upline.MinLevel,
		Kind:    ledger.KindSponsor,
	})
	if err != nil {
		return levelPayment{}, err
	}

	matrixAmounts := make([]uint64, level)
	matrixAmounts[level-1] = rest
	mw, err := upline.Distribute(tx, upline.Walk{
		Start:   userID,
		Via:     upline.ViaUpline,
		Amounts: matrixAmounts,
		Qualify: upline.AtLeast(level),
		Kind:    ledger.KindMatrix,
	})
	if err != nil {
		return levelPayment{}, err
	}

	if _, err := c.royalty.FundAll(tx, shares.Royalty, c.params.RoyaltyTierPercents); err != nil {
		return levelPayment{}, err
	}
	return levelPayment{
		admin:   shares.Admin,
		royalty: shares.Royalty,
		lost:    sw.Lost + mw.Lost,
		payouts: append(sw.Payouts, mw.Payouts...),
	}, nil
}

// ClaimRoyalty pays out the royalty accrued by userID in tier. Membership
// is kept.
func (c *Contract) ClaimRoyalty(ctx context.Context, caller common.Address, userID ledger.UserID, tier uint8) (*ledger.Receipt, error) {
	return c.run(ctx, ledger.OpClaim, func(tx *ledger.Tx, now time.Time) (*ledger.Receipt, error) {
		if tx.Globals().Paused {
			return nil, ErrPaused
		}
		if _, err := ownedUser(tx, caller, userID); err != nil {
			return nil, err
		}
		amount, err := c.royalty.Claim(tx, userID, tier)
		if err != nil {
			return nil, err
		}

		r := c.newReceipt(tx, ledger.OpClaim, now)
		r.UserID = userID
		r.Account = caller
		r.Tier = tier
		r.Payouts = []ledger.Payout{{Kind: ledger.KindRoyalty, UserID: userID, Account: caller, Amount: amount}}

		c.log.Info(fmt.Sprintf("contract: user %d claimed %d from royalty tier %d", userID, amount, tier))
		return r, nil
	})
}

// DistributeRoyalty runs one epoch distribution of tier. Anyone may call it;
// it fails with ErrCooldownActive until the epoch has elapsed. The receipt's
// Payment carries the amount credited to members.
func (c *Contract) DistributeRoyalty(ctx context.Context, tier uint8) (*ledger.Receipt, royalty.Distribution, error) {
	var d royalty.Distribution
	r, err := c.run(ctx, ledger.OpDistribute, func(tx *ledger.Tx, now time.Time) (*ledger.Receipt, error) {
		var err error
		d, err = c.royalty.Distribute(tx, tier, now)
		if err != nil {
			return nil, err
		}
		r := c.newReceipt(tx, ledger.OpDistribute, now)
		r.Tier = tier
		r.Payment = d.Distributed

		c.log.Info(fmt.Sprintf("contract: royalty tier %d distributed %d to %d members, %d carried over",
			tier, d.Distributed, d.Members, d.Remainder))
		return r, nil
	})
	if err != nil {
		return nil, royalty.Distribution{}, err
	}
	return r, d, nil
}

// Pause engages the circuit breaker. Only the owner may call it.
func (c *Contract) Pause(ctx context.Context, caller common.Address) (*ledger.Receipt, error) {
	return c.setPaused(ctx, caller, true)
}

// Unpause releases the circuit breaker. Only the owner may call it.
func (c *Contract) Unpause(ctx context.Context, caller common.Address) (*ledger.Receipt, error) {
	return c.setPaused(ctx, caller, false)
}

func (c *Contract) setPaused(ctx context.Context, caller common.Address, paused bool) (*ledger.Receipt, error) {
	op := ledger.OpPause
	if !paused {
		op = ledger.OpUnpause
	}
	return c.run(ctx, op, func(tx *ledger.Tx, now time.Time) (*ledger.Receipt, error) {
		if caller != c.params.Owner {
			c.log.Warn(fmt.Sprintf("contract: %s by non-owner %s rejected", op, caller.Hex()))
			return nil, fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
		}
		tx.Globals().Paused = paused
		r := c.newReceipt(tx, op, now)
		r.Account = caller
		c.log.Info(fmt.Sprintf("contract: %s by %s", op, caller.Hex()))
		return r, nil
	})
}

// EmergencyWithdraw moves amount of the undistributed royalty pools to the
// owner, draining them in tier order. A zero amount withdraws all of it.
// Royalty already credited to members stays claimable. It works while paused.
func (c *Contract) EmergencyWithdraw(ctx context.Context, caller common.Address, amount uint64) (*ledger.Receipt, error) {
	return c.run(ctx, ledger.OpWithdraw, func(tx *ledger.Tx, now time.Time) (*ledger.Receipt, error) {
		if caller != c.params.Owner {
			c.log.Warn(fmt.Sprintf("contract: withdraw by non-owner %s rejected", caller.Hex()))
			return nil, fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
		}
		g := tx.Globals()
		if amount == 0 {
			avail, err := c.royalty.Withdrawable(tx)
			if err != nil {
				return nil, err
			}
			amount = avail
		}
		if amount == 0 {
			return nil, ErrZeroAmount
		}
		taken, err := c.royalty.Drain(tx, amount)
		if err != nil {
			return nil, err
		}
		g.EmergencyWithdrawn += taken

		r := c.newReceipt(tx, ledger.OpWithdraw, now)
		r.Account = caller
		r.Payouts = []ledger.Payout{{Kind: ledger.KindWithdraw, Account: caller, Amount: taken}}
		c.log.Warn(fmt.Sprintf("contract: emergency withdraw of %d by %s", taken, caller.Hex()))
		return r, nil
	})
}
