package service

import (
	"math/big"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/fixedpoint"
	"github.com/pool-metrics/internal/registry"
	"github.com/pool-metrics/internal/types"
)

// CapitalRaw returns unlocked + locked/2^64 in the pool's raw capital units.
// The locked value keeps its sign.
func CapitalRaw(pos *types.CapitalPosition) *big.Float {
	total := new(big.Float).SetPrec(256)
	if pos == nil {
		return total
	}
	if pos.UnlockedRaw != nil {
		total.SetInt(pos.UnlockedRaw)
	}
	if pos.LockedValueRaw != nil {
		locked := new(big.Float).SetPrec(256).SetInt(pos.LockedValueRaw)
		locked.SetMantExp(locked, -fixedpoint.Math64Bits)
		total.Add(total, locked)
	}
	return total
}

// ToUSD converts a raw capital amount of the pool to USD using the pool's
// quote decimals and its pricing asset.
func ToUSD(pool *types.PoolConfig, raw *big.Float, prices *types.PriceSet) (float64, error) {
	price, ok := prices.Price(pool.PricingAsset)
	if !ok {
		return 0, apperrors.NewPriceUnavailableError(string(pool.PricingAsset), nil)
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(pool.QuoteDecimals)), nil))
	units, _ := new(big.Float).SetPrec(256).Quo(raw, scale).Float64()
	return units * price, nil
}

// ComputeTVL returns the USD value of the pool's unlocked and locked capital
func ComputeTVL(pool *types.PoolConfig, pos *types.CapitalPosition, prices *types.PriceSet) (float64, error) {
	return ToUSD(pool, CapitalRaw(pos), prices)
}

// ComputeOpenNotional returns the net USD notional of one side. Opens add and
// closes subtract; the result is not clamped at zero. Put notional is scaled
// by each event's strike.
func ComputeOpenNotional(events []*types.TradeEvent, pool *types.PoolConfig, side types.Side, prices *types.PriceSet) (float64, error) {
	price, ok := prices.Price(pool.PricingAsset)
	if !ok {
		return 0, apperrors.NewPriceUnavailableError(string(pool.PricingAsset), nil)
	}

	var total float64
	for _, ev := range events {
		if ev.Side != side {
			continue
		}
		size := fixedpoint.ToUnits(ev.TokensMinted, registry.OptionTokenDecimals)
		if pool.IsPut() {
			size *= ev.StrikePrice
		}
		total += ev.Action.Sign() * size * price
	}
	return total, nil
}

// WeightedAverageMaturity returns Σ(tokens·maturity)/Σ(tokens) over the
// side's events, or nil when the side carries no tokens. A side whose events
// all have zero tokens is also nil, not a zero maturity.
func WeightedAverageMaturity(events []*types.TradeEvent, side types.Side) *float64 {
	var weighted, tokens float64
	for _, ev := range events {
		if ev.Side != side {
			continue
		}
		size := fixedpoint.ToUnits(ev.TokensMinted, registry.OptionTokenDecimals)
		weighted += size * float64(ev.Maturity)
		tokens += size
	}
	if tokens == 0 {
		return nil
	}
	avg := weighted / tokens
	return &avg
}
