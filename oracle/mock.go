package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
)

// MockFeed is a test double for PriceFeed.
type MockFeed struct {
	LatestPriceFn func(ctx context.Context) (Price, error)
}

func (m *MockFeed) LatestPrice(ctx context.Context) (Price, error) {
	return m.LatestPriceFn(ctx)
}

// MockCaller is a test double for ethereum.ContractCaller.
type MockCaller struct {
	CallContractFn func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func (m *MockCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return m.CallContractFn(ctx, call, blockNumber)
}
