package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// userRow is the relational shape of a User.
type userRow struct {
	ID              uint64   `gorm:"primaryKey;autoIncrement:false"`
	Account         string   `gorm:"size:42;uniqueIndex;not null"`
	ReferrerID      uint64   `gorm:"index"`
	UplineID        uint64   `gorm:"index"`
	Level           uint8    `gorm:"not null"`
	DirectTeamCount uint64   `gorm:"not null;default:0"`
	TotalTeamCount  uint64   `gorm:"not null;default:0"`
	Children        []uint64 `gorm:"serializer:json"`
	Referrals       []uint64 `gorm:"serializer:json"`
	RegisteredAt    time.Time
	LastActionAt    time.Time
	Exists          bool
}

func (userRow) TableName() string { return "matrix_users" }

type incomeRow struct {
	UserID         uint64 `gorm:"primaryKey;autoIncrement:false"`
	TotalDeposit   uint64
	TotalIncome    uint64
	ReferralIncome uint64
	SponsorIncome  uint64
	MatrixIncome   uint64
	LostIncome     uint64
	FallbackIncome uint64
	RoyaltyIncome  uint64
}

func (incomeRow) TableName() string { return "matrix_incomes" }

type tierRow struct {
	TierIndex          uint8 `gorm:"primaryKey;autoIncrement:false"`
	PoolBalance        uint64
	LastDistributionAt time.Time
	Members            []uint64 `gorm:"serializer:json"`
	Distributions      uint64
	TotalDistributed   uint64
}

func (tierRow) TableName() string { return "royalty_tiers" }

type memberRow struct {
	Tier             uint8  `gorm:"primaryKey;autoIncrement:false"`
	UserID           uint64 `gorm:"primaryKey;autoIncrement:false"`
	TotalClaimed     uint64
	AccruedUnclaimed uint64
	JoinedAt         time.Time
}

func (memberRow) TableName() string { return "royalty_members" }

type receiptRow struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement:false"`
	ID         string `gorm:"size:66;uniqueIndex"`
	Op         string `gorm:"size:16;index"`
	UserID     uint64 `gorm:"index"`
	Account    string `gorm:"size:42"`
	Payment    uint64
	AdminFee   uint64
	RoyaltyFee uint64
	Lost       uint64
	FromLevel  uint8
	ToLevel    uint8
	Tier       uint8
	Payouts    []Payout `gorm:"serializer:json"`
	Timestamp  time.Time
}

func (receiptRow) TableName() string { return "receipts" }

type globalsRow struct {
	ID                 uint8 `gorm:"primaryKey;autoIncrement:false"`
	LastUserID         uint64
	RootID             uint64
	Paused             bool
	ContractBalance    uint64
	TotalDeposits      uint64
	TotalAdminFees     uint64
	EmergencyWithdrawn uint64
	ReceiptSeq         uint64
	Initialized        bool
}

func (globalsRow) TableName() string { return "ledger_globals" }

// ---------------------------------------------------------------------------
// Row conversion
// ---------------------------------------------------------------------------

func idsToRow(ids []UserID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

func idsFromRow(ids []uint64) []UserID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]UserID, len(ids))
	for i, id := range ids {
		out[i] = UserID(id)
	}
	return out
}

func toUserRow(u *User) userRow {
	return userRow{
		ID:              uint64(u.ID),
		Account:         u.Account.Hex(),
		ReferrerID:      uint64(u.ReferrerID),
		UplineID:        uint64(u.UplineID),
		Level:           u.Level,
		DirectTeamCount: u.DirectTeamCount,
		TotalTeamCount:  u.TotalTeamCount,
		Children:        idsToRow(u.Children),
		Referrals:       idsToRow(u.Referrals),
		RegisteredAt:    u.RegisteredAt,
		LastActionAt:    u.LastActionAt,
		Exists:          u.Exists,
	}
}

func (r *userRow) toUser() *User {
	return &User{
		ID:              UserID(r.ID),
		Account:         common.HexToAddress(r.Account),
		ReferrerID:      UserID(r.ReferrerID),
		UplineID:        UserID(r.UplineID),
		Level:           r.Level,
		DirectTeamCount: r.DirectTeamCount,
		TotalTeamCount:  r.TotalTeamCount,
		Children:        idsFromRow(r.Children),
		Referrals:       idsFromRow(r.Referrals),
		RegisteredAt:    r.RegisteredAt,
		LastActionAt:    r.LastActionAt,
		Exists:          r.Exists,
	}
}

func toIncomeRow(in *Income) incomeRow {
	return incomeRow{
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

func (r *incomeRow) toIncome() *Income {
	return &Income{
		UserID:         UserID(r.UserID),
		TotalDeposit:   r.TotalDeposit,
		TotalIncome:    r.TotalIncome,
		ReferralIncome: r.ReferralIncome,
		SponsorIncome:  r.SponsorIncome,
		MatrixIncome:   r.MatrixIncome,
		LostIncome:     r.LostIncome,
		FallbackIncome: r.FallbackIncome,
		RoyaltyIncome:  r.RoyaltyIncome,
	}
}

func toTierRow(t *RoyaltyTier) tierRow {
	return tierRow{
		TierIndex:          t.Index,
		PoolBalance:        t.PoolBalance,
		LastDistributionAt: t.LastDistributionAt,
		Members:            idsToRow(t.Members),
		Distributions:      t.Distributions,
		TotalDistributed:   t.TotalDistributed,
	}
}

func (r *tierRow) toTier() *RoyaltyTier {
	return &RoyaltyTier{
		Index:              r.TierIndex,
		PoolBalance:        r.PoolBalance,
		LastDistributionAt: r.LastDistributionAt,
		Members:            idsFromRow(r.Members),
		Distributions:      r.Distributions,
		TotalDistributed:   r.TotalDistributed,
	}
}

func toMemberRow(m *RoyaltyMember) memberRow {
	return memberRow{
		Tier:             m.Tier,
		UserID:           uint64(m.UserID),
		TotalClaimed:     m.TotalClaimed,
		AccruedUnclaimed: m.AccruedUnclaimed,
		JoinedAt:         m.JoinedAt,
	}
}

func (r *memberRow) toMember() *RoyaltyMember {
	return &RoyaltyMember{
		Tier:             r.Tier,
		UserID:           UserID(r.UserID),
		TotalClaimed:     r.TotalClaimed,
		AccruedUnclaimed: r.AccruedUnclaimed,
		JoinedAt:         r.JoinedAt,
	}
}

func toReceiptRow(r *Receipt) receiptRow {
	return receiptRow{
		Seq:        r.Seq,
		ID:         r.ID.Hex(),
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
		Payouts:    r.Payouts,
		Timestamp:  r.Timestamp,
	}
}

func (r *receiptRow) toReceipt() Receipt {
	return Receipt{
		ID:         common.HexToHash(r.ID),
		Seq:        r.Seq,
		Op:         Op(r.Op),
		UserID:     UserID(r.UserID),
		Account:    common.HexToAddress(r.Account),
		Payment:    r.Payment,
		AdminFee:   r.AdminFee,
		RoyaltyFee: r.RoyaltyFee,
		Lost:       r.Lost,
		FromLevel:  r.FromLevel,
		ToLevel:    r.ToLevel,
		Tier:       r.Tier,
		Payouts:    r.Payouts,
		Timestamp:  r.Timestamp,
	}
}

func toGlobalsRow(g *Globals) globalsRow {
	return globalsRow{
		ID:                 1,
		LastUserID:         uint64(g.LastUserID),
		RootID:             uint64(g.RootID),
		Paused:             g.Paused,
		ContractBalance:    g.ContractBalance,
		TotalDeposits:      g.TotalDeposits,
		TotalAdminFees:     g.TotalAdminFees,
		EmergencyWithdrawn: g.EmergencyWithdrawn,
		ReceiptSeq:         g.ReceiptSeq,
		Initialized:        g.Initialized,
	}
}

func (r *globalsRow) toGlobals() Globals {
	return Globals{
		LastUserID:         UserID(r.LastUserID),
		RootID:             UserID(r.RootID),
		Paused:             r.Paused,
		ContractBalance:    r.ContractBalance,
		TotalDeposits:      r.TotalDeposits,
		TotalAdminFees:     r.TotalAdminFees,
		EmergencyWithdrawn: r.EmergencyWithdrawn,
		ReceiptSeq:         r.ReceiptSeq,
		Initialized:        r.Initialized,
	}
}

// ---------------------------------------------------------------------------
// GormStore implements Store.
// ---------------------------------------------------------------------------

// GormStore persists the ledger in a relational database, one table per
// record type keyed by user id.
type GormStore struct {
	db *gorm.DB
}

// Compile-time interface check.
var _ Store = (*GormStore)(nil)

// OpenPostgresStore connects to PostgreSQL and migrates the ledger tables.
func OpenPostgresStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open postgres: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open gorm connection and migrates the ledger tables.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db", ErrNilParam)
	}
	err := db.AutoMigrate(&userRow{}, &incomeRow{}, &tierRow{}, &memberRow{}, &receiptRow{}, &globalsRow{})
	if err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Load reads every table into a fresh State.
func (s *GormStore) Load() (*State, error) {
	state := NewState()

	var users []userRow
	if err := s.db.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("gormstore: load users: %w", err)
	}
	for i := range users {
		u := users[i].toUser()
		state.Users[u.ID] = u
		state.Accounts[u.Account] = u.ID
	}

	var incomes []incomeRow
	if err := s.db.Find(&incomes).Error; err != nil {
		return nil, fmt.Errorf("gormstore: load incomes: %w", err)
	}
	for i := range incomes {
		in := incomes[i].toIncome()
		state.Incomes[in.UserID] = in
	}

	var tiers []tierRow
	if err := s.db.Find(&tiers).Error; err != nil {
		return nil, fmt.Errorf("gormstore: load tiers: %w", err)
	}
	for i := range tiers {
		if int(tiers[i].TierIndex) >= RoyaltyTiers {
			return nil, fmt.Errorf("%w: stored tier %d", ErrInvalidTier, tiers[i].TierIndex)
		}
		state.Tiers[tiers[i].TierIndex] = tiers[i].toTier()
	}

	var members []memberRow
	if err := s.db.Find(&members).Error; err != nil {
		return nil, fmt.Errorf("gormstore: load members: %w", err)
	}
	for i := range members {
		m := members[i].toMember()
		state.Members[m.Key()] = m
	}

	var globals []globalsRow
	if err := s.db.Limit(1).Find(&globals).Error; err != nil {
		return nil, fmt.Errorf("gormstore: load globals: %w", err)
	}
	if len(globals) == 1 {
		state.Globals = globals[0].toGlobals()
	}
	return state, nil
}

// Commit upserts every record of the changeset inside one database transaction.
func (s *GormStore) Commit(cs *Changeset) error {
	if cs == nil {
		return fmt.Errorf("%w: changeset", ErrNilParam)
	}

	upsert := clause.OnConflict{UpdateAll: true}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if len(cs.Users) > 0 {
			rows := make([]userRow, len(cs.Users))
			for i := range cs.Users {
				rows[i] = toUserRow(&cs.Users[i])
			}
			if err := tx.Clauses(upsert).Create(&rows).Error; err != nil {
				return fmt.Errorf("gormstore: upsert users: %w", err)
			}
		}

		if len(cs.Incomes) > 0 {
			rows := make([]incomeRow, len(cs.Incomes))
			for i := range cs.Incomes {
				rows[i] = toIncomeRow(&cs.Incomes[i])
			}
			if err := tx.Clauses(upsert).Create(&rows).Error; err != nil {
				return fmt.Errorf("gormstore: upsert incomes: %w", err)
			}
		}

		if len(cs.Tiers) > 0 {
			rows := make([]tierRow, len(cs.Tiers))
			for i := range cs.Tiers {
				rows[i] = toTierRow(&cs.Tiers[i])
			}
			if err := tx.Clauses(upsert).Create(&rows).Error; err != nil {
				return fmt.Errorf("gormstore: upsert tiers: %w", err)
			}
		}

		if len(cs.Members) > 0 {
			rows := make([]memberRow, len(cs.Members))
			for i := range cs.Members {
				rows[i] = toMemberRow(&cs.Members[i])
			}
			if err := tx.Clauses(upsert).Create(&rows).Error; err != nil {
				return fmt.Errorf("gormstore: upsert members: %w", err)
			}
		}

		if cs.Receipt != nil {
			row := toReceiptRow(cs.Receipt)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("gormstore: insert receipt: %w", err)
			}
		}

		globals := toGlobalsRow(&cs.Globals)
		if err := tx.Clauses(upsert).Create(&globals).Error; err != nil {
			return fmt.Errorf("gormstore: upsert globals: %w", err)
		}
		return nil
	})
}

// Receipts returns receipts with sequence numbers above after.
func (s *GormStore) Receipts(after uint64, limit int) ([]Receipt, error) {
	q := s.db.Where("seq > ?", after).Order("seq asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []receiptRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list receipts: %w", err)
	}
	out := make([]Receipt, len(rows))
	for i := range rows {
		out[i] = rows[i].toReceipt()
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
