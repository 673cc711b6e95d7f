package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// aggregatorABI covers the two AggregatorV3Interface reads the feed needs.
const aggregatorABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"latestRoundData","outputs":[
  {"internalType":"uint80","name":"roundId","type":"uint80"},
  {"internalType":"int256","name":"answer","type":"int256"},
  {"internalType":"uint256","name":"startedAt","type":"uint256"},
  {"internalType":"uint256","name":"updatedAt","type":"uint256"},
  {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
  "stateMutability":"view","type":"function"}
]`

var parsedAggregatorABI = mustParseABI(aggregatorABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("oracle: parse aggregator abi: %v", err))
	}
	return parsed
}

// ChainlinkFeed reads an AggregatorV3 price feed over JSON-RPC. Any
// ethereum.ContractCaller works, including *ethclient.Client.
type ChainlinkFeed struct {
	caller  ethereum.ContractCaller
	address common.Address

	mu       sync.Mutex
	decimals uint8
	known    bool
}

// Compile-time interface check.
var _ PriceFeed = (*ChainlinkFeed)(nil)

// NewChainlinkFeed creates a feed reader for the aggregator at address.
func NewChainlinkFeed(caller ethereum.ContractCaller, address common.Address) (*ChainlinkFeed, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: caller", ErrNilParam)
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w: feed address", ErrNilParam)
	}
	return &ChainlinkFeed{caller: caller, address: address}, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := parsedAggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("oracle: pack %s: %w", method, err)
	}
	out, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: call %s: %w", method, err)
	}
	values, err := parsedAggregatorABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("oracle: unpack %s: %w", method, err)
	}
	return values, nil
}

// Decimals returns the feed's answer precision, reading it once.
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.known {
		return f.decimals, nil
	}
	values, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals type %T", ErrInvalidPrice, values[0])
	}
	f.decimals, f.known = d, true
	return d, nil
}

// LatestPrice reads latestRoundData and rescales the answer to PriceDecimals.
func (f *ChainlinkFeed) LatestPrice(ctx context.Context) (Price, error) {
	dec, err := f.Decimals(ctx)
	if err != nil {
		return Price{}, err
	}
	values, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return Price{}, err
	}
	if len(values) != 5 {
		return Price{}, fmt.Errorf("%w: %d return values", ErrInvalidPrice, len(values))
	}
	round, _ := values[0].(*big.Int)
	answer, _ := values[1].(*big.Int)
	updated, _ := values[3].(*big.Int)
	if round == nil || answer == nil || updated == nil {
		return Price{}, fmt.Errorf("%w: malformed round data", ErrInvalidPrice)
	}
	if answer.Sign() <= 0 {
		return Price{}, fmt.Errorf("%w: answer %s", ErrInvalidPrice, answer)
	}

	value, err := rescale(answer, dec, PriceDecimals)
	if err != nil {
		return Price{}, err
	}
	return Price{
		Value:     value,
		Round:     round.Uint64(),
		UpdatedAt: time.Unix(updated.Int64(), 0).UTC(),
	}, nil
}

// rescale converts v from one decimal precision to another.
func rescale(v *big.Int, from, to uint8) (uint64, error) {
	r := new(big.Int).Set(v)
	switch {
	case from > to:
		r.Quo(r, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil))
	case to > from:
		r.Mul(r, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil))
	}
	if !r.IsUint64() || r.Sign() == 0 {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidPrice, r)
	}
	return r.Uint64(), nil
}
