package ledger

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// State is the complete in-memory ledger. It is not safe for concurrent
// mutation; callers serialize access (the contract holds a single lock).
type State struct {
	Users    map[UserID]*User
	Incomes  map[UserID]*Income
	Accounts map[common.Address]UserID
	Tiers    [RoyaltyTiers]*RoyaltyTier
	Members  map[MemberKey]*RoyaltyMember
	Globals  Globals
}

// NewState creates an empty ledger.
func NewState() *State {
	s := &State{
		Users:    make(map[UserID]*User),
		Incomes:  make(map[UserID]*Income),
		Accounts: make(map[common.Address]UserID),
		Members:  make(map[MemberKey]*RoyaltyMember),
	}
	for i := range s.Tiers {
		s.Tiers[i] = &RoyaltyTier{Index: uint8(i)}
	}
	return s
}

// Changeset is the set of records written by one transaction.
type Changeset struct {
	Users   []User
	Incomes []Income
	Tiers   []RoyaltyTier
	Members []RoyaltyMember
	Globals Globals
	Receipt *Receipt
}

// Empty reports whether the changeset carries no record writes.
func (cs *Changeset) Empty() bool {
	return len(cs.Users) == 0 && len(cs.Incomes) == 0 && len(cs.Tiers) == 0 &&
		len(cs.Members) == 0 && cs.Receipt == nil
}

// Apply installs a committed changeset into the state.
func (s *State) Apply(cs *Changeset) {
	for i := range cs.Users {
		u := cs.Users[i]
		s.Users[u.ID] = &u
		s.Accounts[u.Account] = u.ID
	}
	for i := range cs.Incomes {
		in := cs.Incomes[i]
		s.Incomes[in.UserID] = &in
	}
	for i := range cs.Tiers {
		t := cs.Tiers[i]
		if int(t.Index) < RoyaltyTiers {
			s.Tiers[t.Index] = &t
		}
	}
	for i := range cs.Members {
		m := cs.Members[i]
		s.Members[m.Key()] = &m
	}
	s.Globals = cs.Globals
}

// Begin starts a copy-on-write transaction over s.
func (s *State) Begin() *Tx {
	return &Tx{
		base:    s,
		users:   make(map[UserID]*User),
		incomes: make(map[UserID]*Income),
		tiers:   make(map[uint8]*RoyaltyTier),
		members: make(map[MemberKey]*RoyaltyMember),
		globals: s.Globals,
	}
}

// ---------------------------------------------------------------------------
// Tx
// ---------------------------------------------------------------------------

// Tx is a write overlay on a State. Reads see the overlay first, then the
// base state. Nothing reaches the base until the changeset is committed and
// applied, so an abandoned Tx leaves no trace.
type Tx struct {
	base     *State
	users    map[UserID]*User
	accounts map[common.Address]UserID
	incomes  map[UserID]*Income
	tiers    map[uint8]*RoyaltyTier
	members  map[MemberKey]*RoyaltyMember
	globals  Globals
	receipt  *Receipt
}

func cloneUser(u *User) *User {
	c := *u
	c.Children = slices.Clone(u.Children)
	c.Referrals = slices.Clone(u.Referrals)
	return &c
}

func cloneTier(t *RoyaltyTier) *RoyaltyTier {
	c := *t
	c.Members = slices.Clone(t.Members)
	return &c
}

func (tx *Tx) lookupUser(id UserID) *User {
	if u, ok := tx.users[id]; ok {
		return u
	}
	if u, ok := tx.base.Users[id]; ok {
		return u
	}
	return nil
}

// User returns a read-only copy of the user. Its slices are clipped so an
// accidental append never writes into shared storage.
func (tx *Tx) User(id UserID) (User, bool) {
	u := tx.lookupUser(id)
	if u == nil || !u.Exists {
		return User{}, false
	}
	c := *u
	c.Children = slices.Clip(u.Children)
	c.Referrals = slices.Clip(u.Referrals)
	return c, true
}

// MutUser returns a writable copy of the user, tracked by the transaction.
func (tx *Tx) MutUser(id UserID) (*User, error) {
	if u, ok := tx.users[id]; ok {
		return u, nil
	}
	u, ok := tx.base.Users[id]
	if !ok || !u.Exists {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	c := cloneUser(u)
	tx.users[id] = c
	return c, nil
}

// InsertUser adds a new user and its empty income record.
func (tx *Tx) InsertUser(u *User) error {
	if u == nil {
		return fmt.Errorf("%w: user", ErrNilParam)
	}
	if existing := tx.lookupUser(u.ID); existing != nil && existing.Exists {
		return fmt.Errorf("%w: user id %d already taken", ErrInvariant, u.ID)
	}
	if _, ok := tx.UserIDByAccount(u.Account); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, u.Account.Hex())
	}
	u.Exists = true
	tx.users[u.ID] = u
	if tx.accounts == nil {
		tx.accounts = make(map[common.Address]UserID)
	}
	tx.accounts[u.Account] = u.ID
	tx.incomes[u.ID] = &Income{UserID: u.ID}
	return nil
}

// UserIDByAccount resolves an account to its user id.
func (tx *Tx) UserIDByAccount(account common.Address) (UserID, bool) {
	if id, ok := tx.accounts[account]; ok {
		return id, true
	}
	id, ok := tx.base.Accounts[account]
	return id, ok
}

// Income returns a read-only copy of the user's income record.
func (tx *Tx) Income(id UserID) (Income, bool) {
	if in, ok := tx.incomes[id]; ok {
		return *in, true
	}
	if in, ok := tx.base.Incomes[id]; ok {
		return *in, true
	}
	return Income{}, false
}

// MutIncome returns a writable copy of the user's income record.
func (tx *Tx) MutIncome(id UserID) (*Income, error) {
	if in, ok := tx.incomes[id]; ok {
		return in, nil
	}
	in, ok := tx.base.Incomes[id]
	if !ok {
		return nil, fmt.Errorf("%w: income of %d", ErrUserNotFound, id)
	}
	c := *in
	tx.incomes[id] = &c
	return &c, nil
}

// Tier returns a read-only copy of a royalty tier.
func (tx *Tx) Tier(index uint8) (RoyaltyTier, error) {
	if int(index) >= RoyaltyTiers {
		return RoyaltyTier{}, fmt.Errorf("%w: %d", ErrInvalidTier, index)
	}
	if t, ok := tx.tiers[index]; ok {
		return *t, nil
	}
	t := *tx.base.Tiers[index]
	t.Members = slices.Clip(t.Members)
	return t, nil
}

// MutTier returns a writable copy of a royalty tier.
func (tx *Tx) MutTier(index uint8) (*RoyaltyTier, error) {
	if int(index) >= RoyaltyTiers {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, index)
	}
	if t, ok := tx.tiers[index]; ok {
		return t, nil
	}
	c := cloneTier(tx.base.Tiers[index])
	tx.tiers[index] = c
	return c, nil
}

// Member returns a read-only copy of a royalty member record.
func (tx *Tx) Member(key MemberKey) (RoyaltyMember, bool) {
	if m, ok := tx.members[key]; ok {
		return *m, true
	}
	if m, ok := tx.base.Members[key]; ok {
		return *m, true
	}
	return RoyaltyMember{}, false
}

// MutMember returns a writable member record, creating it when absent.
func (tx *Tx) MutMember(key MemberKey) *RoyaltyMember {
	if m, ok := tx.members[key]; ok {
		return m
	}
	var c RoyaltyMember
	if m, ok := tx.base.Members[key]; ok {
		c = *m
	} else {
		c = RoyaltyMember{Tier: key.Tier, UserID: key.UserID}
	}
	tx.members[key] = &c
	return &c
}

// Globals returns the transaction's writable copy of the ledger globals.
func (tx *Tx) Globals() *Globals {
	return &tx.globals
}

// SetReceipt attaches the receipt to be committed with the transaction.
func (tx *Tx) SetReceipt(r *Receipt) {
	tx.receipt = r
}

// Changes collects every record written by the transaction, ordered by key.
func (tx *Tx) Changes() *Changeset {
	cs := &Changeset{Globals: tx.globals, Receipt: tx.receipt}

	for _, u := range tx.users {
		cs.Users = append(cs.Users, *u)
	}
	sort.Slice(cs.Users, func(i, j int) bool { return cs.Users[i].ID < cs.Users[j].ID })

	for _, in := range tx.incomes {
		cs.Incomes = append(cs.Incomes, *in)
	}
	sort.Slice(cs.Incomes, func(i, j int) bool { return cs.Incomes[i].UserID < cs.Incomes[j].UserID })

	for _, t := range tx.tiers {
		cs.Tiers = append(cs.Tiers, *t)
	}
	sort.Slice(cs.Tiers, func(i, j int) bool { return cs.Tiers[i].Index < cs.Tiers[j].Index })

	for _, m := range tx.members {
		cs.Members = append(cs.Members, *m)
	}
	sort.Slice(cs.Members, func(i, j int) bool {
		if cs.Members[i].Tier != cs.Members[j].Tier {
			return cs.Members[i].Tier < cs.Members[j].Tier
		}
		return cs.Members[i].UserID < cs.Members[j].UserID
	})

	return cs
}
