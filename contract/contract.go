// Package contract is the registration and upgrade orchestrator. It runs
// every state-changing operation as one serialized unit: guards and
// validation first, then all decisions on a ledger transaction, then the
// store commit, and only then the outgoing transfers.
package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/logging"
	"github.com/bitfsorg/libmatrix-go/oracle"
	"github.com/bitfsorg/libmatrix-go/royalty"
)

// Observer receives the outcome of every operation.
type Observer interface {
	// Committed is called after a receipt has been persisted, while the
	// operation still holds its guard. It must not call into the contract.
	Committed(r *ledger.Receipt, s Stats)
	// Rejected is called when an operation fails before its commit.
	Rejected(op ledger.Op, err error)
}

type nopObserver struct{}

func (nopObserver) Committed(*ledger.Receipt, Stats) {}
func (nopObserver) Rejected(ledger.Op, error)        {}

// Option configures a Contract.
type Option func(*Contract)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Contract) { c.clock = now }
}

// WithPayer sets the transfer backend. The default is a MemPayer.
func WithPayer(p Payer) Option {
	return func(c *Contract) { c.payer = p }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(c *Contract) { c.log = l }
}

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option {
	return func(c *Contract) { c.observer = o }
}

// guardKey marks a context as running inside an operation of a contract.
type guardKey struct{}

// Contract owns the ledger and runs all operations against it.
type Contract struct {
	params  Params
	store   ledger.Store
	costs   oracle.CostTable
	royalty *royalty.Manager

	payer    Payer
	log      logging.Logger
	observer Observer
	clock    func() time.Time

	// guard admits one operation at a time, from its checks to its commit.
	guard chan struct{}

	mu    sync.RWMutex // protects state and last
	state *ledger.State
	last  time.Time
}

// New validates params, loads the ledger from store and creates the root
// user when the ledger is empty.
func New(store ledger.Store, params Params, opts ...Option) (*Contract, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidParams)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	mgr, err := royalty.NewManager(params.Epoch, params.RoyaltyRules)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("contract: load ledger: %w", err)
	}

	c := &Contract{
		params:   params,
		store:    store,
		costs:    params.Costs,
		royalty:  mgr,
		payer:    NewMemPayer(),
		log:      logging.Nop,
		observer: nopObserver{},
		clock:    time.Now,
		guard:    make(chan struct{}, 1),
		state:    state,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initialize(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Contract) initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := c.state.Globals
	if g.Initialized {
		root, ok := c.state.Users[g.RootID]
		if !ok || root.Account != c.params.RootAccount {
			return fmt.Errorf("%w: configured %s", ErrRootMismatch, c.params.RootAccount.Hex())
		}
		c.log.Info(fmt.Sprintf("contract: loaded ledger with %d users, receipt %d", g.LastUserID, g.ReceiptSeq))
		return nil
	}

	now := c.now()
	tx := c.state.Begin()
	const rootID ledger.UserID = 1
	root := &ledger.User{
		ID:           rootID,
		Account:      c.params.RootAccount,
		ReferrerID:   rootID,
		UplineID:     rootID,
		Level:        ledger.MaxLevel,
		RegisteredAt: now,
		LastActionAt: now,
	}
	if err := tx.InsertUser(root); err != nil {
		return err
	}
	tg := tx.Globals()
	tg.RootID = rootID
	tg.LastUserID = rootID
	tg.Initialized = true
	for tier := uint8(0); tier < ledger.RoyaltyTiers; tier++ {
		if _, err := c.royalty.Join(tx, tier, rootID, now); err != nil {
			return err
		}
	}

	r := c.newReceipt(tx, ledger.OpInitialize, now)
	r.UserID = rootID
	r.Account = root.Account
	r.ToLevel = ledger.MaxLevel
	if err := c.commit(tx, r); err != nil {
		return err
	}
	c.log.Info(fmt.Sprintf("contract: initialized root user %d (%s)", rootID, root.Account.Hex()))
	return nil
}

// enter admits one operation. It fails with ErrReentrantCall when ctx
// already belongs to an operation of this contract, and otherwise waits
// until the running operation has committed.
func (c *Contract) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(guardKey{}) == c {
		return nil, nil, ErrReentrantCall
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	select {
	case c.guard <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	var once sync.Once
	leave := func() { once.Do(func() { <-c.guard }) }
	return context.WithValue(ctx, guardKey{}, c), leave, nil
}

// now reads the clock, clamped so it never runs backwards. Caller holds mu.
func (c *Contract) now() time.Time {
	t := c.clock().UTC()
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}

// newReceipt assigns the next sequence number and attaches the receipt to tx.
func (c *Contract) newReceipt(tx *ledger.Tx, op ledger.Op, now time.Time) *ledger.Receipt {
	g := tx.Globals()
	g.ReceiptSeq++
	r := &ledger.Receipt{Seq: g.ReceiptSeq, Op: op, Timestamp: now}
	tx.SetReceipt(r)
	return r
}

// commit seals r, persists tx and installs it in memory. Caller holds mu.
// On error the in-memory state is untouched.
func (c *Contract) commit(tx *ledger.Tx, r *ledger.Receipt) error {
	r.ID = r.ComputeID()
	cs := tx.Changes()
	if err := c.store.Commit(cs); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	c.state.Apply(cs)
	return nil
}

// settle performs the receipt's transfers in order. Every transfer is
// attempted; failures are joined into one ErrTransferFailed.
func (c *Contract) settle(ctx context.Context, r *ledger.Receipt) error {
	var errs []error
	for i, p := range r.Payouts {
		if p.Amount == 0 {
			continue
		}
		t := Transfer{Receipt: r.Seq, Index: i, Kind: p.Kind, UserID: p.UserID, To: p.Account, Amount: p.Amount}
		if err := c.payer.Pay(ctx, t); err != nil {
			c.log.Error(fmt.Sprintf("contract: receipt %d: %s transfer of %d to %s failed: %v",
				r.Seq, p.Kind, p.Amount, p.Account.Hex(), err))
			errs = append(errs, fmt.Errorf("%s %d to %s: %w", p.Kind, p.Amount, p.Account.Hex(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: receipt %d: %w", ErrTransferFailed, r.Seq, errors.Join(errs...))
	}
	return nil
}

// run executes one operation: decide under the state lock, commit, then
// release the guard and settle transfers. ctx keeps its guard marker while
// settling, so a payer calling back with it is rejected.
func (c *Contract) run(ctx context.Context, op ledger.Op, decide func(tx *ledger.Tx, now time.Time) (*ledger.Receipt, error)) (*ledger.Receipt, error) {
	ctx, leave, err := c.enter(ctx)
	if err != nil {
		c.observer.Rejected(op, err)
		return nil, err
	}
	defer leave()

	c.mu.Lock()
	now := c.now()
	tx := c.state.Begin()
	r, err := decide(tx, now)
	if err == nil {
		err = c.commit(tx, r)
	}
	if err != nil {
		c.mu.Unlock()
		c.observer.Rejected(op, err)
		return nil, err
	}
	stats := c.statsLocked()
	c.mu.Unlock()

	c.observer.Committed(r, stats)
	leave()
	return r, c.settle(ctx, r)
}
