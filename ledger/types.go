package ledger

import (
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxLevel is the highest level a user can reach.
	MaxLevel = 13

	// MatrixWidth is the number of child slots under each matrix node.
	MatrixWidth = 2

	// RoyaltyTiers is the number of royalty pools (levels 10 through 13).
	RoyaltyTiers = 4
)

// UserID identifies a registered user. Ids are assigned sequentially from 1.
type UserID uint64

// NoUser is the reserved "no referrer" sentinel.
const NoUser UserID = 0

// User is the profile and matrix position of one participant.
type User struct {
	ID              UserID
	Account         common.Address
	ReferrerID      UserID // direct inviter; root of the sponsor chain
	UplineID        UserID // matrix parent; may differ from ReferrerID (spillover)
	Level           uint8
	DirectTeamCount uint64
	TotalTeamCount  uint64
	Children        []UserID // matrix children in placement order, at most MatrixWidth
	Referrals       []UserID // users whose ReferrerID is this user, in registration order
	RegisteredAt    time.Time
	LastActionAt    time.Time
	Exists          bool
}

// IsRoot reports whether u is the self-referential root user.
func (u *User) IsRoot() bool {
	return u.Exists && u.ReferrerID == u.ID && u.UplineID == u.ID
}

// Income is the cumulative money flow of one user.
type Income struct {
	UserID         UserID
	TotalDeposit   uint64
	TotalIncome    uint64 // ReferralIncome + SponsorIncome + MatrixIncome
	ReferralIncome uint64
	SponsorIncome  uint64
	MatrixIncome   uint64
	LostIncome     uint64 // shares of this user's payments that found no qualified upline
	FallbackIncome uint64 // shares received as fallback recipient (root only)
	RoyaltyIncome  uint64 // royalty actually claimed
}

// Credit adds amount to the bucket for kind.
func (in *Income) Credit(kind PayoutKind, amount uint64) {
	switch kind {
	case KindReferral:
		in.ReferralIncome += amount
		in.TotalIncome += amount
	case KindSponsor:
		in.SponsorIncome += amount
		in.TotalIncome += amount
	case KindMatrix:
		in.MatrixIncome += amount
		in.TotalIncome += amount
	case KindFallback:
		in.FallbackIncome += amount
	case KindRoyalty:
		in.RoyaltyIncome += amount
	}
}

// RoyaltyTier is the pool state of one royalty tier.
type RoyaltyTier struct {
	Index              uint8
	PoolBalance        uint64
	LastDistributionAt time.Time
	Members            []UserID // active members in join order
	Distributions      uint64
	TotalDistributed   uint64
}

// HasMember reports whether id is an active member of the tier.
func (t *RoyaltyTier) HasMember(id UserID) bool {
	for _, m := range t.Members {
		if m == id {
			return true
		}
	}
	return false
}

// MemberKey identifies a member record within a tier.
type MemberKey struct {
	Tier   uint8
	UserID UserID
}

// RoyaltyMember is the per-tier royalty balance of one user.
type RoyaltyMember struct {
	Tier             uint8
	UserID           UserID
	TotalClaimed     uint64
	AccruedUnclaimed uint64
	JoinedAt         time.Time
}

// Key returns the member's lookup key.
func (m *RoyaltyMember) Key() MemberKey {
	return MemberKey{Tier: m.Tier, UserID: m.UserID}
}

// Globals holds ledger-wide counters and flags.
type Globals struct {
	LastUserID         UserID
	RootID             UserID
	Paused             bool
	ContractBalance    uint64 // royalty funds held: pools plus unclaimed accruals
	TotalDeposits      uint64
	TotalAdminFees     uint64
	EmergencyWithdrawn uint64
	ReceiptSeq         uint64
	Initialized        bool
}

// PayoutKind classifies money leaving an operation.
type PayoutKind uint8

const (
	KindReferral PayoutKind = iota + 1
	KindSponsor
	KindMatrix
	KindFallback
	KindRoyalty
	KindAdmin
	KindWithdraw
)

var payoutKindNames = map[PayoutKind]string{
	KindReferral: "referral",
	KindSponsor:  "sponsor",
	KindMatrix:   "matrix",
	KindFallback: "fallback",
	KindRoyalty:  "royalty",
	KindAdmin:    "admin",
	KindWithdraw: "withdraw",
}

// String returns the lowercase kind name.
func (k PayoutKind) String() string {
	if s, ok := payoutKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Payout is one transfer decided by an operation.
type Payout struct {
	Kind    PayoutKind
	Hop     int // 1-based hop in the walk that produced it; 0 when not from a walk
	UserID  UserID
	Account common.Address
	Amount  uint64
}

// addSat returns a+b, saturating at the maximum uint64.
func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// IncrementSat adds one to *v without wrapping.
func IncrementSat(v *uint64) {
	*v = addSat(*v, 1)
}
