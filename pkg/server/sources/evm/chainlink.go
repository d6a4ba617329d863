package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// ChainlinkSource reads prices from Chainlink aggregator contracts.
// Chainlink answers are fixed-point integers scaled by the feed's decimals();
// the feed itself carries no confidence interval, so the width is derived from
// the feed's configured deviation threshold (basis points).
type ChainlinkSource struct {
	*sources.BaseSource

	client  *ethclient.Client
	rpcURL  string
	confBps int64
	aggABI  abi.ABI

	// feed decimals are immutable on-chain, resolved once per address.
	// Fetches for different symbols run concurrently.
	decMu         sync.RWMutex
	decimalsCache map[common.Address]int32
}

// Chainlink AggregatorV3Interface ABI (only the functions we call).
const aggregatorABIJSON = `[
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[
		{"internalType":"uint8","name":"","type":"uint8"}
	],"stateMutability":"view","type":"function"}
]`

// NewChainlinkSource creates a new Chainlink source.
// config["pairs"] maps unified symbols to aggregator contract addresses.
// config["conf_bps"] sets the derived confidence width in basis points (default 50).
func NewChainlinkSource(config map[string]interface{}) (sources.Source, error) {
	rpcURL, ok := config["rpc_url"].(string)
	if !ok || rpcURL == "" {
		return nil, fmt.Errorf("%w", ErrRPCURLRequired)
	}

	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	confBps := int64(50)
	switch v := config["conf_bps"].(type) {
	case int:
		confBps = int64(v)
	case float64:
		confBps = int64(v)
	}

	aggABI, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %w", err)
	}

	logger := sources.GetLoggerFromConfig(config)
	base := sources.NewBaseSource("chainlink", sources.SourceTypeEVM, pairs, logger)

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", sources.ErrProviderError, rpcURL, err)
	}

	return &ChainlinkSource{
		BaseSource:    base,
		client:        client,
		rpcURL:        rpcURL,
		confBps:       confBps,
		aggABI:        aggABI,
		decimalsCache: make(map[common.Address]int32),
	}, nil
}

// Fetch reads latestRoundData from the symbol's aggregator contract.
func (s *ChainlinkSource) Fetch(ctx context.Context, symbol string) (sources.PriceSample, error) {
	addrHex, ok := s.SourceSymbol(symbol)
	if !ok {
		return sources.PriceSample{}, fmt.Errorf("%w: %s on chainlink", sources.ErrNotConfigured, symbol)
	}
	addr := common.HexToAddress(addrHex)

	feedDecimals, err := s.feedDecimals(ctx, addr)
	if err != nil {
		return sources.PriceSample{}, err
	}

	out, err := s.call(ctx, addr, "latestRoundData")
	if err != nil {
		return sources.PriceSample{}, err
	}
	if len(out) != 5 {
		return sources.PriceSample{}, fmt.Errorf("%w: latestRoundData returned %d values", sources.ErrInvalidResponse, len(out))
	}

	roundID, _ := out[0].(*big.Int)
	answer, _ := out[1].(*big.Int)
	updatedAt, _ := out[3].(*big.Int)
	answeredInRound, _ := out[4].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil || answeredInRound == nil {
		return sources.PriceSample{}, fmt.Errorf("%w: latestRoundData types", sources.ErrInvalidResponse)
	}

	// An answer carried over from an earlier round means the feed is not updating.
	if answeredInRound.Cmp(roundID) < 0 {
		return sources.PriceSample{}, fmt.Errorf("%w: round %s answered in %s", ErrStaleRound, roundID, answeredInRound)
	}

	price := decimal.NewFromBigInt(answer, -feedDecimals)
	if !price.IsPositive() {
		return sources.PriceSample{}, fmt.Errorf("%w: %s from chainlink", sources.ErrNonPositivePrice, price)
	}

	// Width from the feed's deviation threshold: bps of the current price.
	confWidth := price.Mul(decimal.New(s.confBps, -4))

	return sources.PriceSample{
		Symbol:    symbol,
		Price:     price,
		ConfWidth: confWidth,
		Timestamp: time.Unix(updatedAt.Int64(), 0),
		Source:    s.Name(),
		Status:    sources.TradingStatusActive,
	}, nil
}

// feedDecimals resolves and caches the decimals() of an aggregator.
func (s *ChainlinkSource) feedDecimals(ctx context.Context, addr common.Address) (int32, error) {
	s.decMu.RLock()
	d, ok := s.decimalsCache[addr]
	s.decMu.RUnlock()
	if ok {
		return d, nil
	}

	out, err := s.call(ctx, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: decimals returned %d values", sources.ErrInvalidResponse, len(out))
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals type %T", sources.ErrInvalidResponse, out[0])
	}

	s.decMu.Lock()
	s.decimalsCache[addr] = int32(v)
	s.decMu.Unlock()
	return int32(v), nil
}

// call performs an eth_call against the aggregator and unpacks the result.
func (s *ChainlinkSource) call(ctx context.Context, addr common.Address, method string) ([]interface{}, error) {
	data, err := s.aggABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", sources.ErrProviderError, method, err)
	}

	msg := ethereum.CallMsg{To: &addr, Data: data}
	raw, err := s.client.CallContract(ctx, msg, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", sources.ErrProviderTimeout, method, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", sources.ErrProviderError, method, err)
	}

	out, err := s.aggABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", sources.ErrInvalidResponse, method, err)
	}
	return out, nil
}
