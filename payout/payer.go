// Package payout delivers committed transfers to an external settlement
// gateway over JSON-RPC.
package payout

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/logging"
)

// DefaultMethod is the gateway method that books one transfer.
const DefaultMethod = "matrix_transfer"

// Caller invokes one JSON-RPC method. RPCClient implements it.
type Caller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

var _ Caller = (*RPCClient)(nil)

// TransferRequest is the single parameter of the transfer method.
type TransferRequest struct {
	Key        string `json:"key"`
	Receipt    uint64 `json:"receipt"`
	Index      int    `json:"index"`
	Kind       string `json:"kind"`
	UserID     uint64 `json:"user_id"`
	To         string `json:"to"`
	AmountGwei uint64 `json:"amount_gwei"`
}

// TransferResult is the gateway's reply.
type TransferResult struct {
	Reference string `json:"reference"`
}

// TransferKey identifies t across retries. The gateway must book a key once.
func TransferKey(t contract.Transfer) string {
	return fmt.Sprintf("%d/%d", t.Receipt, t.Index)
}

// RPCPayer is a contract.Payer backed by a settlement gateway.
type RPCPayer struct {
	caller Caller
	method string
	log    logging.Logger
}

var _ contract.Payer = (*RPCPayer)(nil)

// NewRPCPayer creates a payer calling method on caller. An empty method
// selects DefaultMethod.
func NewRPCPayer(caller Caller, method string, log logging.Logger) *RPCPayer {
	if method == "" {
		method = DefaultMethod
	}
	if log == nil {
		log = logging.Nop
	}
	return &RPCPayer{caller: caller, method: method, log: log}
}

// Dial builds an RPCPayer for cfg.
func Dial(cfg RPCConfig, log logging.Logger) (*RPCPayer, error) {
	if cfg.URL == "" {
		return nil, ErrNoGateway
	}
	return NewRPCPayer(NewRPCClient(cfg), cfg.Method, log), nil
}

// Pay submits t to the gateway.
func (p *RPCPayer) Pay(ctx context.Context, t contract.Transfer) error {
	if t.To == (common.Address{}) {
		return fmt.Errorf("%w: transfer %s to the zero address", contract.ErrInvalidAccount, TransferKey(t))
	}
	req := TransferRequest{
		Key:        TransferKey(t),
		Receipt:    t.Receipt,
		Index:      t.Index,
		Kind:       t.Kind.String(),
		UserID:     uint64(t.UserID),
		To:         t.To.Hex(),
		AmountGwei: t.Amount,
	}
	var res TransferResult
	if err := p.caller.Call(ctx, p.method, []interface{}{req}, &res); err != nil {
		return err
	}
	p.log.Info(fmt.Sprintf("payout: %s %s of %d gwei to %s booked as %q",
		req.Key, req.Kind, t.Amount, req.To, res.Reference))
	return nil
}
