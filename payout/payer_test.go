package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/logging"
	"github.com/bitfsorg/libmatrix-go/oracle"
)

var (
	feeAcct  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	rootAcct = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	userAcct = common.HexToAddress("0x0000000000000000000000000000000000001001")
)

// gateway is an in-process settlement endpoint.
type gateway struct {
	mu     sync.Mutex
	booked []TransferRequest
	fail   bool
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64             `json:"id"`
		Method string            `json:"method"`
		Params []TransferRequest `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Params) != 1 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "error": map[string]any{"code": -1, "message": "float exhausted"}})
		return
	}
	g.booked = append(g.booked, req.Params[0])
	json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "result": map[string]string{"reference": req.Params[0].Key}})
}

func (g *gateway) transfers() []TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TransferRequest(nil), g.booked...)
}

func newContract(t *testing.T, payer contract.Payer) *contract.Contract {
	t.Helper()
	var costs oracle.StaticCostTable
	for i := range costs {
		costs[i] = 10_000 << i
	}
	p := contract.DefaultParams()
	p.FeeReceiver = feeAcct
	p.Owner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	p.RootAccount = rootAcct
	p.Costs = costs
	c, err := contract.New(ledger.NewMemStore(), p,
		contract.WithPayer(payer),
		contract.WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	require.NoError(t, err)
	return c
}

func TestRPCPayer_Pay(t *testing.T) {
	var got []interface{}
	mock := &MockCaller{CallFn: func(_ context.Context, method string, params []interface{}, result interface{}) error {
		assert.Equal(t, DefaultMethod, method)
		got = params
		result.(*TransferResult).Reference = "ref-1"
		return nil
	}}
	log := &logging.Memory{}
	p := NewRPCPayer(mock, "", log)

	tr := contract.Transfer{Receipt: 7, Index: 2, Kind: ledger.KindSponsor, UserID: 3, To: userAcct, Amount: 900}
	require.NoError(t, p.Pay(context.Background(), tr))
	require.Len(t, got, 1)
	assert.Equal(t, TransferRequest{
		Key: "7/2", Receipt: 7, Index: 2, Kind: "sponsor", UserID: 3, To: userAcct.Hex(), AmountGwei: 900,
	}, got[0])
	assert.True(t, log.Contains(`booked as "ref-1"`))

	err := p.Pay(context.Background(), contract.Transfer{Receipt: 7, Amount: 1})
	assert.ErrorIs(t, err, contract.ErrInvalidAccount)

	mock.CallFn = func(context.Context, string, []interface{}, interface{}) error { return ErrRejected }
	assert.ErrorIs(t, p.Pay(context.Background(), tr), ErrRejected)
}

func TestDial(t *testing.T) {
	_, err := Dial(RPCConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoGateway)

	p, err := Dial(RPCConfig{URL: "http://localhost:1", Method: "book"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "book", p.method)
}

func TestRPCPayer_SettlesContractReceipts(t *testing.T) {
	g := &gateway{}
	server := httptest.NewServer(g)
	defer server.Close()

	payer, err := Dial(RPCConfig{URL: server.URL}, nil)
	require.NoError(t, err)
	c := newContract(t, payer)

	r, err := c.Register(context.Background(), userAcct, 1, 10_000)
	require.NoError(t, err)

	booked := g.transfers()
	require.Len(t, booked, len(r.Payouts))
	for i, b := range booked {
		assert.Equal(t, r.Seq, b.Receipt)
		assert.Equal(t, i, b.Index)
		assert.Equal(t, r.Payouts[i].Account.Hex(), b.To)
		assert.Equal(t, r.Payouts[i].Amount, b.AmountGwei)
	}
	assert.Equal(t, "admin", booked[0].Kind)
	assert.Equal(t, feeAcct.Hex(), booked[0].To)
	assert.Equal(t, "referral", booked[1].Kind)
	assert.Equal(t, rootAcct.Hex(), booked[1].To)
}

func TestRPCPayer_GatewayFailureKeepsLedgerCommitted(t *testing.T) {
	g := &gateway{fail: true}
	server := httptest.NewServer(g)
	defer server.Close()

	payer, err := Dial(RPCConfig{URL: server.URL}, nil)
	require.NoError(t, err)
	c := newContract(t, payer)

	r, err := c.Register(context.Background(), userAcct, 1, 10_000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrTransferFailed))
	assert.ErrorIs(t, err, ErrRejected)
	require.NotNil(t, r)

	id, ok := c.UserIDByAccount(userAcct)
	assert.True(t, ok)
	assert.Equal(t, r.UserID, id)
	assert.Empty(t, g.transfers())
}
