package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/types"
)

const eventAPINetwork = "mainnet"

// EventClient reads trade records from the Carmine API
type EventClient struct {
	http *jsonClient
}

// EventClientConfig configures the trade-event client
type EventClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// RawOption is the option descriptor attached to a trade record
type RawOption struct {
	OptionSide        int         `json:"option_side"` // 0 long, 1 short
	OptionType        int         `json:"option_type"` // 0 call, 1 put
	Maturity          json.Number `json:"maturity"`
	StrikePrice       string      `json:"strike_price"` // hex, scale 2^64
	BaseTokenAddress  string      `json:"base_token_address"`
	QuoteTokenAddress string      `json:"quote_token_address"`
	LPAddress         string      `json:"lp_address,omitempty"`
}

// RawTradeRecord is one entry of the transaction feed. Option is nil for
// records that are not option trades (deposits, withdrawals).
type RawTradeRecord struct {
	Action            string      `json:"action"`
	TokensMinted      string      `json:"tokens_minted"`
	CapitalTransfered string      `json:"capital_transfered"`
	Timestamp         json.Number `json:"timestamp"`
	LiquidityPool     string      `json:"liquidity_pool,omitempty"`
	Option            *RawOption  `json:"option"`
}

type eventEnvelope struct {
	Status string           `json:"status"`
	Data   []RawTradeRecord `json:"data"`
}

// NewEventClient creates a new trade-event client
func NewEventClient(cfg EventClientConfig) *EventClient {
	return &EventClient{
		http: newJSONClient("event_api", cfg.BaseURL, cfg.Timeout, cfg.RequestsPerSecond),
	}
}

// FetchAllTransactions returns the global transaction feed
func (c *EventClient) FetchAllTransactions(ctx context.Context) ([]RawTradeRecord, error) {
	return c.fetch(ctx, "/api/v1/"+eventAPINetwork+"/all-transactions")
}

// FetchPoolTrades returns the trade feed of a single pool
func (c *EventClient) FetchPoolTrades(ctx context.Context, poolID types.PoolID) ([]RawTradeRecord, error) {
	return c.fetch(ctx, "/api/v1/"+eventAPINetwork+"/"+url.PathEscape(string(poolID))+"/trades")
}

func (c *EventClient) fetch(ctx context.Context, path string) ([]RawTradeRecord, error) {
	var env eventEnvelope
	if err := c.http.getJSON(ctx, path, nil, &env); err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, apperrors.NewUpstreamUnavailableError("event_api", fmt.Errorf("response status %q", env.Status))
	}
	return env.Data, nil
}
