// Package types provides common type definitions for the pool metrics system.
package types

import (
	"math/big"
	"time"
)

// PoolID identifies a liquidity pool (e.g. "ETH_USDC_CALL")
type PoolID string

// Asset is a price-able asset symbol
type Asset string

const (
	// AssetETH represents Ether
	AssetETH Asset = "ETH"
	// AssetBTC represents Bitcoin (wrapped as wBTC on chain)
	AssetBTC Asset = "BTC"
	// AssetUSDC represents the USDC stablecoin
	AssetUSDC Asset = "USDC"
	// AssetSTRK represents the Starknet token
	AssetSTRK Asset = "STRK"
)

// OptionType represents whether a pool writes calls or puts
type OptionType string

const (
	// OptionCall represents a call option pool
	OptionCall OptionType = "CALL"
	// OptionPut represents a put option pool
	OptionPut OptionType = "PUT"
)

// Side represents the direction of an option position
type Side string

const (
	// SideLong represents the option buyer
	SideLong Side = "LONG"
	// SideShort represents the option writer
	SideShort Side = "SHORT"
)

// Action represents whether a trade opened or closed a position
type Action string

const (
	// ActionOpen represents a TradeOpen event
	ActionOpen Action = "TradeOpen"
	// ActionClose represents a TradeClose event
	ActionClose Action = "TradeClose"
)

// Sign returns +1 for opens and -1 for closes
func (a Action) Sign() float64 {
	if a == ActionClose {
		return -1
	}
	return 1
}

// PoolConfig describes one supported pool. Values are immutable after startup.
type PoolConfig struct {
	ID            PoolID
	Address       *big.Int // LP token address (felt)
	OptionType    OptionType
	Underlying    Asset
	Quote         Asset
	QuoteDecimals int   // precision of the pool's capital token
	PricingAsset  Asset // asset whose USD price values both TVL and open notional
	TokenSymbol   string
}

// IsPut reports whether the pool writes put options
func (p *PoolConfig) IsPut() bool {
	return p.OptionType == OptionPut
}

// TradeEvent is a decoded, unmatured trade
type TradeEvent struct {
	PoolID       PoolID
	Side         Side
	Action       Action
	TokensMinted *big.Int // raw option-token quantity
	StrikePrice  float64  // decoded from scale 2^64
	Maturity     int64    // unix seconds
	Timestamp    int64    // unix seconds, zero when the source omits it
}

// CapitalPosition is the raw on-chain capital of a pool
type CapitalPosition struct {
	PoolID         PoolID
	UnlockedRaw    *big.Int
	LockedValueRaw *big.Int // signed, scale 2^64
}

// PoolSnapshot is the per-pool output record of one run
type PoolSnapshot struct {
	PoolID        PoolID   `json:"-"`
	ProtocolName  string   `json:"protocol"`
	RunDate       string   `json:"date"`
	BlockHeight   uint64   `json:"block_height"`
	TokenSymbol   string   `json:"token_symbol"`
	TVLUSD        float64  `json:"tvl"`
	OpenLongUSD   float64  `json:"open_longs"`
	OpenShortUSD  float64  `json:"open_shorts"`
	MaturityLong  *float64 `json:"maturity_longs"`
	MaturityShort *float64 `json:"maturity_shorts"`
	ETLTimestamp  int64    `json:"etl_timestamp"`
}

// SnapshotSet is the full output of a run, keyed by pool
type SnapshotSet map[PoolID]*PoolSnapshot

// RunMetadata is shared by every snapshot of one run
type RunMetadata struct {
	RunID       string
	StartedAt   time.Time
	BlockHeight uint64
}

// EventSourceMode selects how trade events are retrieved
type EventSourceMode string

const (
	// EventSourceGlobal fetches the global transaction feed once and filters client-side
	EventSourceGlobal EventSourceMode = "global"
	// EventSourcePerPool fetches a pre-filtered feed for each pool
	EventSourcePerPool EventSourceMode = "per_pool"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}
