package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strconv"
	"sync"

	"github.com/pool-metrics/internal/adapter"
	"github.com/pool-metrics/internal/fixedpoint"
	"github.com/pool-metrics/internal/registry"
	"github.com/pool-metrics/internal/types"
)

const (
	ethToken  = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
	usdcToken = "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8"
	strkToken = "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"

	ethUsdcCallLP = "0x70CAD6BE2C3FC48C745E4A4B70EF578D9C79B46FFAC4CD93EC7B61F951C7C5C"
)

var oneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func mustPool(id types.PoolID) *types.PoolConfig {
	pool, ok := registry.Default().Pool(id)
	if !ok {
		panic("unknown pool " + string(id))
	}
	return pool
}

func mustPrices(prices map[types.Asset]float64) *types.PriceSet {
	assets := make([]types.Asset, 0, len(prices))
	for a := range prices {
		assets = append(assets, a)
	}
	set, err := types.NewPriceSet(prices, assets)
	if err != nil {
		panic(err)
	}
	return set
}

func tokens(mult int64, exp int64) *big.Int {
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
	return v.Mul(v, big.NewInt(mult))
}

func event(side types.Side, action types.Action, amount *big.Int, strike float64, maturity int64) *types.TradeEvent {
	return &types.TradeEvent{
		Side:         side,
		Action:       action,
		TokensMinted: amount,
		StrikePrice:  strike,
		Maturity:     maturity,
	}
}

func jsonNumber(v int64) json.Number {
	return json.Number(strconv.FormatInt(v, 10))
}

// tradeRecord builds a raw feed record for the (base, quote, type) triple
func tradeRecord(action string, side, optionType int, amount *big.Int, strike float64, maturity int64, base, quote string) adapter.RawTradeRecord {
	strikeHex, err := fixedpoint.EncodeMath64Hex(strike)
	if err != nil {
		panic(err)
	}
	return adapter.RawTradeRecord{
		Action:            action,
		TokensMinted:      fixedpoint.EncodeHex(amount),
		CapitalTransfered: "0x0",
		Timestamp:         "1700000000",
		Option: &adapter.RawOption{
			OptionSide:        side,
			OptionType:        optionType,
			Maturity:          jsonNumber(maturity),
			StrikePrice:       strikeHex,
			BaseTokenAddress:  base,
			QuoteTokenAddress: quote,
		},
	}
}

type fakePriceSource struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	calls  map[string]int
}

func newFakePriceSource(prices map[string]float64) *fakePriceSource {
	return &fakePriceSource{prices: prices, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakePriceSource) GetAveragePrice(ctx context.Context, priceID string, windowDays int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[priceID]++
	if err := f.errs[priceID]; err != nil {
		return 0, err
	}
	p, ok := f.prices[priceID]
	if !ok {
		return 0, errors.New("no price for " + priceID)
	}
	return p, nil
}

func defaultPriceSource() *fakePriceSource {
	return newFakePriceSource(map[string]float64{
		"ethereum": 2000,
		"bitcoin":  60000,
		"usd-coin": 1,
		"starknet": 0.5,
	})
}

type fakePriceCache struct {
	mu     sync.Mutex
	values map[types.Asset]float64
	getErr error
	sets   int
}

func (f *fakePriceCache) GetPrice(ctx context.Context, asset types.Asset, windowDays int) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, false, f.getErr
	}
	v, ok := f.values[asset]
	return v, ok, nil
}

func (f *fakePriceCache) SetPrice(ctx context.Context, asset types.Asset, windowDays int, price float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = map[types.Asset]float64{}
	}
	f.values[asset] = price
	f.sets++
	return nil
}

type fakeContractReader struct {
	mu       sync.Mutex
	unlocked map[string]*big.Int
	locked   map[string]*big.Int
	height   uint64
	err      error
	reads    int
	resets   int
}

func (f *fakeContractReader) GetUnlockedCapital(ctx context.Context, amm, lpToken *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.unlocked[lpToken.String()]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeContractReader) GetValueOfPoolPosition(ctx context.Context, amm, lpToken *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.locked[lpToken.String()]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeContractReader) BlockNumber(ctx context.Context) (uint64, error) {
	return f.height, nil
}

func (f *fakeContractReader) ResetEndpoint() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

type fakeEventSource struct {
	mu       sync.Mutex
	all      []adapter.RawTradeRecord
	perPool  map[types.PoolID][]adapter.RawTradeRecord
	err      error
	allCalls int
	poolCall int
}

func (f *fakeEventSource) FetchAllTransactions(ctx context.Context) ([]adapter.RawTradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.all, nil
}

func (f *fakeEventSource) FetchPoolTrades(ctx context.Context, poolID types.PoolID) ([]adapter.RawTradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolCall++
	if f.err != nil {
		return nil, f.err
	}
	return f.perPool[poolID], nil
}

type fakeSink struct {
	mu     sync.Mutex
	name   string
	err    error
	writes []types.SnapshotSet
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Write(ctx context.Context, set types.SnapshotSet, meta *types.RunMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, set)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}
