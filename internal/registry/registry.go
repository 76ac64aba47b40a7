// Package registry holds the static table of supported option pools and
// the assets they reference.
package registry

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/pool-metrics/internal/fixedpoint"
	"github.com/pool-metrics/internal/types"
)

// ProtocolName is written into every snapshot
const ProtocolName = "Carmine"

// AMMAddress is the protocol's main AMM contract on Starknet mainnet
const AMMAddress = "0x047472E6755AFC57ADA9550B6A3AC93129CC4B5F98F51C73E0644D129FD208D9"

// OptionTokenDecimals is the precision of minted option tokens, independent
// of the pool's capital token decimals.
const OptionTokenDecimals = 18

// Pool identifiers
const (
	EthUsdcCall  types.PoolID = "ETH_USDC_CALL"
	EthUsdcPut   types.PoolID = "ETH_USDC_PUT"
	BtcUsdcCall  types.PoolID = "wBTC_USDC_CALL"
	BtcUsdcPut   types.PoolID = "wBTC_USDC_PUT"
	EthStrkCall  types.PoolID = "ETH_STRK_CALL"
	EthStrkPut   types.PoolID = "ETH_STRK_PUT"
	StrkUsdcCall types.PoolID = "STRK_USDC_CALL"
	StrkUsdcPut  types.PoolID = "STRK_USDC_PUT"
)

// AssetInfo describes how an asset is priced and found on chain
type AssetInfo struct {
	Symbol       types.Asset
	PriceID      string   // id understood by the price history source
	TokenAddress *big.Int // ERC20 address on Starknet
}

// poolSpec is the literal form of a pool entry
type poolSpec struct {
	id           types.PoolID
	address      string
	optionType   types.OptionType
	underlying   types.Asset
	quote        types.Asset
	decimals     int
	pricingAsset types.Asset
	tokenSymbol  string
}

var poolSpecs = []poolSpec{
	{EthUsdcCall, "0x70CAD6BE2C3FC48C745E4A4B70EF578D9C79B46FFAC4CD93EC7B61F951C7C5C", types.OptionCall, types.AssetETH, types.AssetUSDC, 18, types.AssetETH, "ETH"},
	{EthUsdcPut, "0x466E3A6731571CF5D74C5B0D9C508BFB71438DE10F9A13269177B01D6F07159", types.OptionPut, types.AssetETH, types.AssetUSDC, 6, types.AssetUSDC, "USDC"},
	{BtcUsdcCall, "0x35DB72A814C9B30301F646A8FA8C192FF63A0DC82BEB390A36E6E9EBA55B6DB", types.OptionCall, types.AssetBTC, types.AssetUSDC, 8, types.AssetBTC, "wBTC"},
	{BtcUsdcPut, "0x1BF27366077765C922F342C8DE257591D1119EBBCBAE7A6C4FF2F50EDE4C54C", types.OptionPut, types.AssetBTC, types.AssetUSDC, 6, types.AssetUSDC, "USDC"},
	{EthStrkCall, "0x6DF66DB6A4B321869B3D1808FC702713B6CBB69541D583D4B38E7B1406C09AA", types.OptionCall, types.AssetETH, types.AssetSTRK, 18, types.AssetETH, "ETH"},
	{EthStrkPut, "0x4DCD9632353ED56E47BE78F66A55A04E2C1303EBCB8EC7EA4C53F4FDF3834EC", types.OptionPut, types.AssetETH, types.AssetSTRK, 18, types.AssetSTRK, "STRK"},
	{StrkUsdcCall, "0x2B629088A1D30019EF18B893CEBAB236F84A365402FA0DF2F51EC6A01506B1D", types.OptionCall, types.AssetSTRK, types.AssetUSDC, 18, types.AssetSTRK, "STRK"},
	{StrkUsdcPut, "0x6EBF1D8BD43B9B4C5D90FB337C5C0647B406C6C0045DA02E6675C43710A326F", types.OptionPut, types.AssetSTRK, types.AssetUSDC, 6, types.AssetUSDC, "USDC"},
}

var assetSpecs = []struct {
	symbol  types.Asset
	priceID string
	token   string
}{
	{types.AssetETH, "ethereum", "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"},
	{types.AssetBTC, "bitcoin", "0x03fe2b97c1fd336e750087d68b9b867997fd64a2661ff3ca5a7c771641e8e7ac"},
	{types.AssetUSDC, "usd-coin", "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8"},
	{types.AssetSTRK, "starknet", "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"},
}

// pairKey identifies a pool by its asset pair and option type
type pairKey struct {
	underlying types.Asset
	quote      types.Asset
	optionType types.OptionType
}

// Registry is an immutable lookup table of pools and assets
type Registry struct {
	pools     []*types.PoolConfig
	byID      map[types.PoolID]*types.PoolConfig
	byAddress map[string]*types.PoolConfig
	byPair    map[pairKey]*types.PoolConfig
	assets    map[types.Asset]*AssetInfo
	byToken   map[string]types.Asset
}

// Default returns the registry of the eight mainnet pools
func Default() *Registry {
	r, err := build(poolSpecs)
	if err != nil {
		// The literal table is validated by tests.
		panic(err)
	}
	return r
}

func build(specs []poolSpec) (*Registry, error) {
	r := &Registry{
		byID:      make(map[types.PoolID]*types.PoolConfig, len(specs)),
		byAddress: make(map[string]*types.PoolConfig, len(specs)),
		byPair:    make(map[pairKey]*types.PoolConfig, len(specs)),
		assets:    make(map[types.Asset]*AssetInfo, len(assetSpecs)),
		byToken:   make(map[string]types.Asset, len(assetSpecs)),
	}

	for _, a := range assetSpecs {
		addr, err := fixedpoint.ParseHexInt(a.token)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.symbol, err)
		}
		r.assets[a.symbol] = &AssetInfo{Symbol: a.symbol, PriceID: a.priceID, TokenAddress: addr}
		r.byToken[addr.String()] = a.symbol
	}

	for _, s := range specs {
		addr, err := fixedpoint.ParseHexInt(s.address)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", s.id, err)
		}
		if _, dup := r.byID[s.id]; dup {
			return nil, fmt.Errorf("duplicate pool id %s", s.id)
		}
		for _, a := range []types.Asset{s.underlying, s.quote, s.pricingAsset} {
			if _, ok := r.assets[a]; !ok {
				return nil, fmt.Errorf("pool %s references unknown asset %s", s.id, a)
			}
		}

		pool := &types.PoolConfig{
			ID:            s.id,
			Address:       addr,
			OptionType:    s.optionType,
			Underlying:    s.underlying,
			Quote:         s.quote,
			QuoteDecimals: s.decimals,
			PricingAsset:  s.pricingAsset,
			TokenSymbol:   s.tokenSymbol,
		}
		r.pools = append(r.pools, pool)
		r.byID[s.id] = pool
		r.byAddress[addr.String()] = pool
		r.byPair[pairKey{s.underlying, s.quote, s.optionType}] = pool
	}

	return r, nil
}

// Pools returns all pools in registry order
func (r *Registry) Pools() []*types.PoolConfig {
	out := make([]*types.PoolConfig, len(r.pools))
	copy(out, r.pools)
	return out
}

// Pool looks up a pool by id
func (r *Registry) Pool(id types.PoolID) (*types.PoolConfig, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// PoolByAddress looks up a pool by its LP token address
func (r *Registry) PoolByAddress(addr *big.Int) (*types.PoolConfig, bool) {
	if addr == nil {
		return nil, false
	}
	p, ok := r.byAddress[addr.String()]
	return p, ok
}

// PoolByPair looks up a pool by underlying asset, quote asset and option type
func (r *Registry) PoolByPair(underlying, quote types.Asset, optionType types.OptionType) (*types.PoolConfig, bool) {
	p, ok := r.byPair[pairKey{underlying, quote, optionType}]
	return p, ok
}

// AssetByToken maps an on-chain token address to its asset symbol
func (r *Registry) AssetByToken(addr *big.Int) (types.Asset, bool) {
	if addr == nil {
		return "", false
	}
	a, ok := r.byToken[addr.String()]
	return a, ok
}

// Asset returns pricing and token details of an asset
func (r *Registry) Asset(symbol types.Asset) (*AssetInfo, bool) {
	a, ok := r.assets[symbol]
	return a, ok
}

// RequiredAssets returns every asset referenced by any pool, sorted
func (r *Registry) RequiredAssets() []types.Asset {
	seen := make(map[types.Asset]struct{})
	for _, p := range r.pools {
		seen[p.Underlying] = struct{}{}
		seen[p.Quote] = struct{}{}
		seen[p.PricingAsset] = struct{}{}
	}
	out := make([]types.Asset, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
