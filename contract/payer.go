package contract

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitfsorg/libmatrix-go/ledger"
)

// Transfer is one outgoing payment decided by a committed operation.
type Transfer struct {
	Receipt uint64 // sequence of the receipt that decided it
	Index   int    // position in the receipt's payouts
	Kind    ledger.PayoutKind
	UserID  ledger.UserID
	To      common.Address
	Amount  uint64
}

// Payer moves funds to external accounts. Pay is called after the ledger
// commit and after the operation has released its guard. A call back into
// the contract with the ctx passed to Pay fails with ErrReentrantCall; a
// call with an unrelated context runs as a separate operation.
type Payer interface {
	Pay(ctx context.Context, t Transfer) error
}

// MemPayer records transfers in memory.
type MemPayer struct {
	// OnPay, when set, runs before a transfer is booked. A non-nil error
	// rejects the transfer.
	OnPay func(ctx context.Context, t Transfer) error

	mu        sync.Mutex
	balances  map[common.Address]uint64
	transfers []Transfer
}

var _ Payer = (*MemPayer)(nil)

// NewMemPayer creates an empty MemPayer.
func NewMemPayer() *MemPayer {
	return &MemPayer{balances: make(map[common.Address]uint64)}
}

// Pay books t.
func (p *MemPayer) Pay(ctx context.Context, t Transfer) error {
	if p.OnPay != nil {
		if err := p.OnPay(ctx, t); err != nil {
			return err
		}
	}
	if t.To == (common.Address{}) {
		return errors.New("transfer to the zero address")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balances == nil {
		p.balances = make(map[common.Address]uint64)
	}
	p.balances[t.To] += t.Amount
	p.transfers = append(p.transfers, t)
	return nil
}

// Balance returns the total received by account.
func (p *MemPayer) Balance(account common.Address) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[account]
}

// Transfers returns a copy of every booked transfer in order.
func (p *MemPayer) Transfers() []Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transfer(nil), p.transfers...)
}
