//go:build e2e

package ledger

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDSN points at a disposable database. The ledger tables are dropped
// before every test.
func testDSN() string {
	if dsn := os.Getenv("MATRIX_TEST_DSN"); dsn != "" {
		return dsn
	}
	return "host=localhost user=matrix password=matrix dbname=matrix_test port=5432 sslmode=disable"
}

func freshGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(postgres.Open(testDSN()), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skip("postgres unavailable:", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	if err := sqlDB.Ping(); err != nil {
		t.Skip("postgres unavailable:", err)
	}
	require.NoError(t, db.Migrator().DropTable(&userRow{}, &incomeRow{}, &tierRow{}, &memberRow{}, &receiptRow{}, &globalsRow{}))

	store, err := NewGormStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestE2E_GormStore_RoundTrip(t *testing.T) {
	store := freshGormStore(t)

	s := NewState()
	cs := seedTx(t, s).Changes()
	require.NoError(t, store.Commit(cs))
	s.Apply(cs)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Users, len(s.Users))
	for id, want := range s.Users {
		got := loaded.Users[id]
		require.NotNil(t, got, "user %d", id)
		assert.Equal(t, want.Account, got.Account)
		assert.Equal(t, want.ReferrerID, got.ReferrerID)
		assert.Equal(t, want.UplineID, got.UplineID)
		assert.Equal(t, want.Level, got.Level)
		assert.Equal(t, want.Children, got.Children)
		assert.Equal(t, want.Referrals, got.Referrals)
		assert.Equal(t, want.TotalTeamCount, got.TotalTeamCount)
		assert.True(t, want.RegisteredAt.Equal(got.RegisteredAt))
	}
	assert.Equal(t, s.Incomes, loaded.Incomes)
	assert.Equal(t, s.Accounts, loaded.Accounts)
	assert.Equal(t, s.Globals, loaded.Globals)
	assert.Equal(t, s.Tiers[0].PoolBalance, loaded.Tiers[0].PoolBalance)
	assert.Equal(t, s.Tiers[0].Members, loaded.Tiers[0].Members)
	require.Len(t, loaded.Members, 1)
	require.NoError(t, CheckInvariants(loaded))

	receipts, err := store.Receipts(0, 0)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, cs.Receipt.ID, receipts[0].ID)
	assert.Equal(t, cs.Receipt.Payouts, receipts[0].Payouts)
	assert.True(t, t0.Equal(receipts[0].Timestamp))
}

func TestE2E_GormStore_CommitUpserts(t *testing.T) {
	store := freshGormStore(t)

	s := NewState()
	cs := seedTx(t, s).Changes()
	require.NoError(t, store.Commit(cs))
	s.Apply(cs)

	tx := s.Begin()
	u, err := tx.MutUser(2)
	require.NoError(t, err)
	u.Level = 2
	u.LastActionAt = t0.Add(time.Hour)
	tx.Globals().ReceiptSeq = 2
	rc := &Receipt{Seq: 2, Op: OpUpgrade, UserID: 2, Account: addr(2), FromLevel: 1, ToLevel: 2, Timestamp: t0.Add(time.Hour)}
	rc.ID = rc.ComputeID()
	tx.SetReceipt(rc)
	require.NoError(t, store.Commit(tx.Changes()))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), loaded.Users[2].Level)
	assert.Equal(t, uint64(2), loaded.Globals.ReceiptSeq)
	assert.Len(t, loaded.Users, 2)

	page, err := store.Receipts(1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, OpUpgrade, page[0].Op)
}

func TestE2E_GormStore_FailedCommitWritesNothing(t *testing.T) {
	store := freshGormStore(t)

	rc := &Receipt{Seq: 1, Op: OpRegister, Timestamp: t0}
	require.NoError(t, store.Commit(&Changeset{Receipt: rc}))

	err := store.Commit(&Changeset{
		Users:   []User{{ID: 9, Account: addr(9), Level: 1, Exists: true}},
		Receipt: rc,
	})
	assert.Error(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Users)
}
