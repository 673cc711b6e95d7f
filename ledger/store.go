package ledger

import (
	"fmt"
	"slices"
	"sync"
)

// Store persists the ledger. Records are only ever inserted or overwritten,
// never deleted.
type Store interface {
	// Load reads the complete ledger state.
	Load() (*State, error)

	// Commit writes every record in the changeset atomically.
	Commit(cs *Changeset) error

	// Receipts returns up to limit receipts with sequence numbers above after,
	// in sequence order.
	Receipts(after uint64, limit int) ([]Receipt, error)

	// Close releases the store.
	Close() error
}

// MemStore is an in-memory implementation of Store for testing.
type MemStore struct {
	mu       sync.RWMutex
	state    *State
	receipts []Receipt
	closed   bool

	// FailCommit, when set, is returned by the next Commit, which then writes nothing.
	FailCommit error
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{state: NewState()}
}

// Load returns a deep copy of the stored state.
func (s *MemStore) Load() (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return copyState(s.state), nil
}

// Commit applies the changeset.
func (s *MemStore) Commit(cs *Changeset) error {
	if cs == nil {
		return fmt.Errorf("%w: changeset", ErrNilParam)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := s.FailCommit; err != nil {
		s.FailCommit = nil
		return err
	}

	s.state.Apply(copyChangeset(cs))
	if cs.Receipt != nil {
		s.receipts = append(s.receipts, copyReceipt(*cs.Receipt))
	}
	return nil
}

// Receipts returns stored receipts after the given sequence number.
func (s *MemStore) Receipts(after uint64, limit int) ([]Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []Receipt
	for _, r := range s.receipts {
		if r.Seq <= after {
			continue
		}
		out = append(out, copyReceipt(r))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close marks the store closed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyReceipt(r Receipt) Receipt {
	r.Payouts = slices.Clone(r.Payouts)
	return r
}

func copyChangeset(cs *Changeset) *Changeset {
	c := &Changeset{Globals: cs.Globals}
	for _, u := range cs.Users {
		c.Users = append(c.Users, *cloneUser(&u))
	}
	c.Incomes = slices.Clone(cs.Incomes)
	for _, t := range cs.Tiers {
		c.Tiers = append(c.Tiers, *cloneTier(&t))
	}
	c.Members = slices.Clone(cs.Members)
	return c
}

func copyState(s *State) *State {
	c := NewState()
	for id, u := range s.Users {
		c.Users[id] = cloneUser(u)
	}
	for id, in := range s.Incomes {
		v := *in
		c.Incomes[id] = &v
	}
	for addr, id := range s.Accounts {
		c.Accounts[addr] = id
	}
	for i, t := range s.Tiers {
		c.Tiers[i] = cloneTier(t)
	}
	for k, m := range s.Members {
		v := *m
		c.Members[k] = &v
	}
	c.Globals = s.Globals
	return c
}
