package api

import (
	"time"

	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/royalty"
)

// UserView is the JSON form of a user profile.
type UserView struct {
	ID              uint64    `json:"id"`
	Account         string    `json:"account"`
	ReferrerID      uint64    `json:"referrer_id"`
	UplineID        uint64    `json:"upline_id"`
	Level           uint8     `json:"level"`
	DirectTeamCount uint64    `json:"direct_team_count"`
	TotalTeamCount  uint64    `json:"total_team_count"`
	Children        []uint64  `json:"children"`
	Referrals       []uint64  `json:"referrals"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastActionAt    time.Time `json:"last_action_at"`
}

func ids(in []ledger.UserID) []uint64 {
	out := make([]uint64, len(in))
	for i, id := range in {
		out[i] = uint64(id)
	}
	return out
}

func userView(u ledger.User) UserView {
	return UserView{
		ID:              uint64(u.ID),
		Account:         u.Account.Hex(),
		ReferrerID:      uint64(u.ReferrerID),
		UplineID:        uint64(u.UplineID),
		Level:           u.Level,
		DirectTeamCount: u.DirectTeamCount,
		TotalTeamCount:  u.TotalTeamCount,
		Children:        ids(u.Children),
		Referrals:       ids(u.Referrals),
		RegisteredAt:    u.RegisteredAt,
		LastActionAt:    u.LastActionAt,
	}
}

// IncomeView is the JSON form of a user's income.
type IncomeView struct {
	UserID         uint64 `json:"user_id"`
	TotalDeposit   uint64 `json:"total_deposit"`
	TotalIncome    uint64 `json:"total_income"`
	ReferralIncome uint64 `json:"referral_income"`
	SponsorIncome  uint64 `json:"sponsor_income"`
	MatrixIncome   uint64 `json:"matrix_income"`
	LostIncome     uint64 `json:"lost_income"`
	FallbackIncome uint64 `json:"fallback_income"`
	RoyaltyIncome  uint64 `json:"royalty_income"`
}

func incomeView(in ledger.Income) IncomeView {
	return IncomeView{
		UserID:         uint64(in.UserID),
		TotalDeposit:   in.TotalDeposit,
		TotalIncome:    in.TotalIncome,
		ReferralIncome: in.ReferralIncome,
		SponsorIncome:  in.SponsorIncome,
		MatrixIncome:   in.MatrixIncome,
		LostIncome:     in.LostIncome,
		FallbackIncome: in.FallbackIncome,
		RoyaltyIncome:  in.RoyaltyIncome,
	}
}

// RoyaltyView is the JSON form of a user's standing in one tier.
type RoyaltyView struct {
	Tier             uint8     `json:"tier"`
	Member           bool      `json:"member"`
	Qualified        bool      `json:"qualified"`
	JoinedAt         time.Time `json:"joined_at"`
	TotalClaimed     uint64    `json:"total_claimed"`
	AccruedUnclaimed uint64    `json:"accrued_unclaimed"`
	PoolBalance      uint64    `json:"pool_balance"`
	Members          int       `json:"members"`
	NextDistribution time.Time `json:"next_distribution"`
}

func royaltyView(i royalty.Info) RoyaltyView {
	return RoyaltyView(i)
}

// PayoutView is the JSON form of one transfer.
type PayoutView struct {
	Kind    string `json:"kind"`
	Hop     int    `json:"hop,omitempty"`
	UserID  uint64 `json:"user_id"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// ReceiptView is the JSON form of a receipt.
type ReceiptView struct {
	ID         string       `json:"id"`
	Seq        uint64       `json:"seq"`
	Op         string       `json:"op"`
	UserID     uint64       `json:"user_id"`
	Account    string       `json:"account"`
	Payment    uint64       `json:"payment"`
	AdminFee   uint64       `json:"admin_fee"`
	RoyaltyFee uint64       `json:"royalty_fee"`
	Lost       uint64       `json:"lost"`
	FromLevel  uint8        `json:"from_level"`
	ToLevel    uint8        `json:"to_level"`
	Tier       uint8        `json:"tier"`
	Payouts    []PayoutView `json:"payouts"`
	Timestamp  time.Time    `json:"timestamp"`
}

func receiptView(r *ledger.Receipt) ReceiptView {
	v := ReceiptView{
		ID:         r.ID.Hex(),
		Seq:        r.Seq,
		Op:         string(r.Op),
		UserID:     uint64(r.UserID),
		Account:    r.Account.Hex(),
		Payment:    r.Payment,
		AdminFee:   r.AdminFee,
		RoyaltyFee: r.RoyaltyFee,
		Lost:       r.Lost,
		FromLevel:  r.FromLevel,
		ToLevel:    r.ToLevel,
		Tier:       r.Tier,
		Payouts:    make([]PayoutView, len(r.Payouts)),
		Timestamp:  r.Timestamp,
	}
	for i, p := range r.Payouts {
		v.Payouts[i] = PayoutView{
			Kind:    p.Kind.String(),
			Hop:     p.Hop,
			UserID:  uint64(p.UserID),
			Account: p.Account.Hex(),
			Amount:  p.Amount,
		}
	}
	return v
}

// StatsView is the JSON form of ledger-wide totals.
type StatsView struct {
	Users              uint64                      `json:"users"`
	Paused             bool                        `json:"paused"`
	ContractBalance    uint64                      `json:"contract_balance"`
	TotalDeposits      uint64                      `json:"total_deposits"`
	TotalAdminFees     uint64                      `json:"total_admin_fees"`
	EmergencyWithdrawn uint64                      `json:"emergency_withdrawn"`
	Receipts           uint64                      `json:"receipts"`
	Pools              [ledger.RoyaltyTiers]uint64 `json:"pools"`
	Members            [ledger.RoyaltyTiers]int    `json:"members"`
}

func statsView(s contract.Stats) StatsView {
	return StatsView(s)
}
