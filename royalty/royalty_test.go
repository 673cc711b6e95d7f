package royalty

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libmatrix-go/ledger"
)

var t0 = time.Unix(1700000000, 0).UTC()

func acct(id ledger.UserID) common.Address {
	return common.BigToAddress(big.NewInt(int64(id) + 9000))
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(DefaultEpoch, DefaultRules())
	require.NoError(t, err)
	return m
}

// newLedger creates root (1) plus users 2 and 3, each with the given level
// and direct count.
func newLedger(t *testing.T, level uint8, directs uint64) *ledger.Tx {
	t.Helper()
	tx := ledger.NewState().Begin()
	require.NoError(t, tx.InsertUser(&ledger.User{ID: 1, Account: acct(1), ReferrerID: 1, UplineID: 1, Level: ledger.MaxLevel}))
	for id := ledger.UserID(2); id <= 3; id++ {
		require.NoError(t, tx.InsertUser(&ledger.User{
			ID: id, Account: acct(id), ReferrerID: 1, UplineID: 1, Level: level, DirectTeamCount: directs,
		}))
	}
	g := tx.Globals()
	g.RootID = 1
	g.LastUserID = 3
	return tx
}

func member(t *testing.T, tx *ledger.Tx, tier uint8, id ledger.UserID) ledger.RoyaltyMember {
	t.Helper()
	m, ok := tx.Member(ledger.MemberKey{Tier: tier, UserID: id})
	require.True(t, ok)
	return m
}

func pool(t *testing.T, tx *ledger.Tx, tier uint8) uint64 {
	t.Helper()
	tr, err := tx.Tier(tier)
	require.NoError(t, err)
	return tr.PoolBalance
}

// ---------------------------------------------------------------------------
// Construction and qualification
// ---------------------------------------------------------------------------

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(0, DefaultRules())
	assert.ErrorIs(t, err, ErrInvalidRule)

	rules := DefaultRules()
	rules[2].Level = 0
	_, err = NewManager(time.Hour, rules)
	assert.ErrorIs(t, err, ErrInvalidRule)

	rules[2].Level = ledger.MaxLevel + 1
	_, err = NewManager(time.Hour, rules)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestQualifies(t *testing.T) {
	m := testManager(t)
	tests := []struct {
		name string
		user ledger.User
		tier uint8
		want bool
	}{
		{"level and directs met", ledger.User{ID: 2, Level: 10, DirectTeamCount: 2, Exists: true}, 0, true},
		{"directs short", ledger.User{ID: 2, Level: 10, DirectTeamCount: 1, Exists: true}, 0, false},
		{"level short", ledger.User{ID: 2, Level: 9, DirectTeamCount: 9, Exists: true}, 0, false},
		{"top tier", ledger.User{ID: 2, Level: 13, DirectTeamCount: 5, Exists: true}, 3, true},
		{"root exempt from directs", ledger.User{ID: 1, ReferrerID: 1, UplineID: 1, Level: 13, Exists: true}, 3, true},
		{"missing user", ledger.User{ID: 2, Level: 13, DirectTeamCount: 9}, 0, false},
		{"bad tier", ledger.User{ID: 2, Level: 13, DirectTeamCount: 9, Exists: true}, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Qualifies(tt.user, tt.tier))
		})
	}
}

func TestRefresh_LocksInMembership(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 11, 3)

	joined, err := m.Refresh(tx, 2, t0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1}, joined)

	again, err := m.Refresh(tx, 2, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, t0, member(t, tx, 0, 2).JoinedAt)

	// Dropping below the requirement does not remove the member.
	u, err := tx.MutUser(2)
	require.NoError(t, err)
	u.DirectTeamCount = 0
	_, err = m.Refresh(tx, 2, t0)
	require.NoError(t, err)
	tier, err := tx.Tier(0)
	require.NoError(t, err)
	assert.True(t, tier.HasMember(2))

	_, err = m.Refresh(tx, 42, t0)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

// ---------------------------------------------------------------------------
// Funding
// ---------------------------------------------------------------------------

func TestFund(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 1, 0)

	require.NoError(t, m.Fund(tx, 0, 100))
	require.NoError(t, m.Fund(tx, 0, 0))
	assert.Equal(t, uint64(100), pool(t, tx, 0))
	assert.Equal(t, uint64(100), tx.Globals().ContractBalance)

	assert.ErrorIs(t, m.Fund(tx, 4, 1), ErrInvalidTier)
}

func TestFundAll(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 1, 0)

	parts, err := m.FundAll(tx, 1001, []uint64{40, 30, 20, 10})
	require.NoError(t, err)
	assert.Equal(t, []uint64{400, 300, 200, 101}, parts)
	assert.Equal(t, uint64(101), pool(t, tx, 3))
	assert.Equal(t, uint64(1001), tx.Globals().ContractBalance)

	_, err = m.FundAll(tx, 10, []uint64{1, 1})
	assert.ErrorIs(t, err, ErrInvalidRule)

	parts, err = m.FundAll(tx, 0, []uint64{40, 30, 20, 10})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 0, 0}, parts)
}

// ---------------------------------------------------------------------------
// Distribution
// ---------------------------------------------------------------------------

func TestDistribute_FloorShareRemainderStays(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 10, 2)
	for _, id := range []ledger.UserID{2, 3} {
		_, err := m.Join(tx, 0, id, t0)
		require.NoError(t, err)
	}

	const x = 1001
	require.NoError(t, m.Fund(tx, 0, x))

	d, err := m.Distribute(tx, 0, t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, d.Members)
	assert.Equal(t, uint64(x/2), d.Share)
	assert.Equal(t, uint64(x-2*(x/2)), d.Remainder)

	assert.Equal(t, uint64(x/2), member(t, tx, 0, 2).AccruedUnclaimed)
	assert.Equal(t, uint64(x/2), member(t, tx, 0, 3).AccruedUnclaimed)
	assert.Equal(t, uint64(x-2*(x/2)), pool(t, tx, 0))

	tier, err := tx.Tier(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tier.Distributions)
	assert.Equal(t, uint64(2*(x/2)), tier.TotalDistributed)
	assert.Equal(t, t0.Add(25*time.Hour), tier.LastDistributionAt)
}

func TestDistribute_SecondCallSameEpochRejected(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 10, 2)
	_, err := m.Join(tx, 0, 2, t0)
	require.NoError(t, err)
	require.NoError(t, m.Fund(tx, 0, 500))

	now := t0.Add(time.Hour)
	_, err = m.Distribute(tx, 0, now)
	require.NoError(t, err)

	require.NoError(t, m.Fund(tx, 0, 70))
	before := member(t, tx, 0, 2).AccruedUnclaimed

	_, err = m.Distribute(tx, 0, now.Add(DefaultEpoch-time.Second))
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, before, member(t, tx, 0, 2).AccruedUnclaimed)
	assert.Equal(t, uint64(70), pool(t, tx, 0))

	_, err = m.Distribute(tx, 0, now.Add(DefaultEpoch))
	require.NoError(t, err)
	assert.Equal(t, before+70, member(t, tx, 0, 2).AccruedUnclaimed)
}

func TestDistribute_NoMembersCarriesOver(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 1, 0)
	require.NoError(t, m.Fund(tx, 2, 300))

	d, err := m.Distribute(tx, 2, t0)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Members)
	assert.Equal(t, uint64(300), d.Remainder)
	assert.Equal(t, uint64(300), pool(t, tx, 2))

	tier, err := tx.Tier(2)
	require.NoError(t, err)
	assert.Equal(t, t0, tier.LastDistributionAt)
	assert.False(t, m.Distributable(tier, t0.Add(time.Hour)))
}

func TestDistribute_InvalidTier(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 1, 0)
	_, err := m.Distribute(tx, 9, t0)
	assert.ErrorIs(t, err, ErrInvalidTier)
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

func TestClaim_KeepsMembership(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 10, 2)
	_, err := m.Join(tx, 0, 2, t0)
	require.NoError(t, err)
	require.NoError(t, m.Fund(tx, 0, 400))
	_, err = m.Distribute(tx, 0, t0)
	require.NoError(t, err)

	amount, err := m.Claim(tx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), amount)

	mem := member(t, tx, 0, 2)
	assert.Equal(t, uint64(0), mem.AccruedUnclaimed)
	assert.Equal(t, uint64(400), mem.TotalClaimed)
	in, _ := tx.Income(2)
	assert.Equal(t, uint64(400), in.RoyaltyIncome)
	assert.Equal(t, uint64(0), in.TotalIncome)
	assert.Equal(t, uint64(0), tx.Globals().ContractBalance)

	_, err = m.Claim(tx, 2, 0)
	assert.ErrorIs(t, err, ErrNothingToClaim)

	// Still a member: the next epoch credits again.
	require.NoError(t, m.Fund(tx, 0, 90))
	_, err = m.Distribute(tx, 0, t0.Add(DefaultEpoch))
	require.NoError(t, err)
	assert.Equal(t, uint64(90), member(t, tx, 0, 2).AccruedUnclaimed)
}

func TestClaim_Errors(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 10, 2)

	_, err := m.Claim(tx, 2, 0)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = m.Claim(tx, 2, 7)
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, err = m.Join(tx, 0, 2, t0)
	require.NoError(t, err)
	require.NoError(t, m.Fund(tx, 0, 50))
	_, err = m.Distribute(tx, 0, t0)
	require.NoError(t, err)

	tx.Globals().ContractBalance = 10
	_, err = m.Claim(tx, 2, 0)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestDrain(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 1, 0)
	require.NoError(t, m.Fund(tx, 0, 10))
	require.NoError(t, m.Fund(tx, 1, 20))

	got, err := m.Drain(tx, 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), got)
	assert.Equal(t, uint64(0), pool(t, tx, 0))
	assert.Equal(t, uint64(15), pool(t, tx, 1))
	assert.Equal(t, uint64(15), tx.Globals().ContractBalance)

	_, err = m.Drain(tx, 16)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestDrain_LeavesAccruedRoyalty(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 10, 2)
	_, err := m.Join(tx, 0, 2, t0)
	require.NoError(t, err)
	require.NoError(t, m.Fund(tx, 0, 50))
	_, err = m.Distribute(tx, 0, t0)
	require.NoError(t, err)
	require.NoError(t, m.Fund(tx, 1, 30))

	avail, err := m.Withdrawable(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), avail)
	assert.Equal(t, uint64(80), tx.Globals().ContractBalance)

	_, err = m.Drain(tx, 31)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	got, err := m.Drain(tx, 30)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), got)

	amount, err := m.Claim(tx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), amount)
	assert.Equal(t, uint64(0), tx.Globals().ContractBalance)
}

func TestInfo(t *testing.T) {
	m := testManager(t)
	tx := newLedger(t, 10, 2)
	_, err := m.Refresh(tx, 2, t0)
	require.NoError(t, err)
	require.NoError(t, m.Fund(tx, 0, 10))
	_, err = m.Distribute(tx, 0, t0)
	require.NoError(t, err)

	info, err := m.Info(tx, 2, 0)
	require.NoError(t, err)
	assert.True(t, info.Member)
	assert.True(t, info.Qualified)
	assert.Equal(t, uint64(10), info.AccruedUnclaimed)
	assert.Equal(t, 1, info.Members)
	assert.Equal(t, t0.Add(DefaultEpoch), info.NextDistribution)

	info, err = m.Info(tx, 3, 1)
	require.NoError(t, err)
	assert.False(t, info.Member)
	assert.False(t, info.Qualified)

	_, err = m.Info(tx, 99, 0)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}
