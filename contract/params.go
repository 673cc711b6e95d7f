package contract

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/oracle"
	"github.com/bitfsorg/libmatrix-go/revshare"
	"github.com/bitfsorg/libmatrix-go/royalty"
)

// Default fee percentages applied to every register and upgrade payment.
const (
	DefaultAdminFeePercent   = 5
	DefaultRoyaltyFeePercent = 5
)

// DefaultSponsorPercents is the per-hop sponsor commission, as a percentage
// of the net amount of one upgraded level. Hop h pays entry h-1.
var DefaultSponsorPercents = revshare.PercentTable{10, 5, 5, 4, 4, 3, 3, 3, 3, 3, 3, 2, 2}

// DefaultRoyaltyTierPercents splits the royalty fee across tiers 0..3.
var DefaultRoyaltyTierPercents = []uint64{40, 30, 20, 10}

// Params are the construction parameters of a Contract.
type Params struct {
	FeeReceiver common.Address // receives the admin fee of every payment
	Owner       common.Address // may pause, unpause and withdraw
	RootAccount common.Address // account of the root user created on first start

	AdminFeePercent     uint64
	RoyaltyFeePercent   uint64
	SponsorPercents     revshare.PercentTable
	RoyaltyTierPercents []uint64
	RoyaltyRules        royalty.Rules
	Epoch               time.Duration
	ActionCooldown      time.Duration // minimum gap between upgrades of one user; zero disables

	Costs oracle.CostTable
}

// DefaultParams returns the production percentages and rules. The three
// accounts and the cost table still have to be set.
func DefaultParams() Params {
	return Params{
		AdminFeePercent:     DefaultAdminFeePercent,
		RoyaltyFeePercent:   DefaultRoyaltyFeePercent,
		SponsorPercents:     append(revshare.PercentTable(nil), DefaultSponsorPercents...),
		RoyaltyTierPercents: append([]uint64(nil), DefaultRoyaltyTierPercents...),
		RoyaltyRules:        royalty.DefaultRules(),
		Epoch:               royalty.DefaultEpoch,
	}
}

// Validate checks every parameter before the contract touches the ledger.
func (p *Params) Validate() error {
	for _, a := range []struct {
		name string
		addr common.Address
	}{
		{"fee receiver", p.FeeReceiver},
		{"owner", p.Owner},
		{"root account", p.RootAccount},
	} {
		if a.addr == (common.Address{}) {
			return fmt.Errorf("%w: %s is the zero address", ErrInvalidParams, a.name)
		}
	}
	if p.AdminFeePercent > 100 || p.RoyaltyFeePercent > 100 || p.AdminFeePercent+p.RoyaltyFeePercent > 100 {
		return fmt.Errorf("%w: admin %d + royalty %d", ErrInvalidPercent, p.AdminFeePercent, p.RoyaltyFeePercent)
	}
	if len(p.SponsorPercents) > ledger.MaxLevel {
		return fmt.Errorf("%w: %d sponsor hops, at most %d", ErrInvalidParams, len(p.SponsorPercents), ledger.MaxLevel)
	}
	if err := p.SponsorPercents.Validate(); err != nil {
		return err
	}
	if len(p.RoyaltyTierPercents) != ledger.RoyaltyTiers {
		return fmt.Errorf("%w: %d royalty tier weights", ErrInvalidParams, len(p.RoyaltyTierPercents))
	}
	if revshare.PercentTable(p.RoyaltyTierPercents).Sum() == 0 {
		return fmt.Errorf("%w: royalty tier weights are all zero", ErrInvalidParams)
	}
	if p.Epoch <= 0 {
		return fmt.Errorf("%w: epoch %s", ErrInvalidParams, p.Epoch)
	}
	if p.ActionCooldown < 0 {
		return fmt.Errorf("%w: cooldown %s", ErrInvalidParams, p.ActionCooldown)
	}
	if p.Costs == nil {
		return fmt.Errorf("%w: no cost table", ErrInvalidParams)
	}
	return nil
}
