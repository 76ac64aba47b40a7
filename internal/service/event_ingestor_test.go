package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pool-metrics/internal/adapter"
	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/registry"
	"github.com/pool-metrics/internal/types"
)

const testNow = int64(1_750_000_000)

func TestDecodeExcludesMaturedOptions(t *testing.T) {
	ingestor := NewEventIngestor(&fakeEventSource{}, registry.Default())
	records := []adapter.RawTradeRecord{
		tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow-1, ethToken, usdcToken),
		tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow+1, ethToken, usdcToken),
		tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow, ethToken, usdcToken),
	}

	byPool, stats := ingestor.Ingest(context.Background(), records, testNow)

	events := byPool[registry.EthUsdcCall]
	require.Len(t, events, 1)
	assert.Equal(t, testNow+1, events[0].Maturity)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 2, stats.Skipped)
}

func TestDecodeFields(t *testing.T) {
	ingestor := NewEventIngestor(&fakeEventSource{}, registry.Default())
	rec := tradeRecord("TradeClose", 1, 1, tokens(25, 17), 1800, testNow+86400, ethToken, usdcToken)

	ev, err := ingestor.Decode(&rec, testNow)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, registry.EthUsdcPut, ev.PoolID)
	assert.Equal(t, types.SideShort, ev.Side)
	assert.Equal(t, types.ActionClose, ev.Action)
	assert.Equal(t, 0, ev.TokensMinted.Cmp(tokens(25, 17)))
	assert.InDelta(t, 1800.0, ev.StrikePrice, 1e-9)
	assert.Equal(t, int64(1700000000), ev.Timestamp)
}

func TestResolvePool(t *testing.T) {
	ingestor := NewEventIngestor(&fakeEventSource{}, registry.Default())

	t.Run("by liquidity pool address", func(t *testing.T) {
		// The triple alone would resolve to the put pool; the address wins.
		rec := tradeRecord("TradeOpen", 0, 1, oneToken, 1800, testNow+10, ethToken, usdcToken)
		rec.LiquidityPool = ethUsdcCallLP

		ev, err := ingestor.Decode(&rec, testNow)
		require.NoError(t, err)
		assert.Equal(t, registry.EthUsdcCall, ev.PoolID)
	})

	t.Run("by option lp address with zero padding", func(t *testing.T) {
		rec := tradeRecord("TradeOpen", 0, 1, oneToken, 1800, testNow+10, "", "")
		rec.Option.LPAddress = "0x0070cad6be2c3fc48c745e4a4b70ef578d9c79b46ffac4cd93ec7b61f951c7c5c"

		ev, err := ingestor.Decode(&rec, testNow)
		require.NoError(t, err)
		assert.Equal(t, registry.EthUsdcCall, ev.PoolID)
	})

	t.Run("by asset triple", func(t *testing.T) {
		rec := tradeRecord("TradeOpen", 0, 1, oneToken, 1, testNow+10, strkToken, usdcToken)

		ev, err := ingestor.Decode(&rec, testNow)
		require.NoError(t, err)
		assert.Equal(t, registry.StrkUsdcPut, ev.PoolID)
	})

	t.Run("unknown address falls back to triple", func(t *testing.T) {
		rec := tradeRecord("TradeOpen", 0, 0, oneToken, 1, testNow+10, ethToken, strkToken)
		rec.LiquidityPool = "0x1234"

		ev, err := ingestor.Decode(&rec, testNow)
		require.NoError(t, err)
		assert.Equal(t, registry.EthStrkCall, ev.PoolID)
	})

	t.Run("unknown token is unresolved", func(t *testing.T) {
		rec := tradeRecord("TradeOpen", 0, 0, oneToken, 1, testNow+10, "0xdead", usdcToken)

		_, err := ingestor.Decode(&rec, testNow)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeUnresolvedEvent))
		assert.False(t, apperrors.IsFatal(err))
	})

	t.Run("pair without a pool is unresolved", func(t *testing.T) {
		rec := tradeRecord("TradeOpen", 0, 0, oneToken, 1, testNow+10, usdcToken, ethToken)

		_, err := ingestor.Decode(&rec, testNow)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeUnresolvedEvent))
	})
}

func TestDecodeMalformedRecords(t *testing.T) {
	ingestor := NewEventIngestor(&fakeEventSource{}, registry.Default())

	tests := []struct {
		name   string
		mutate func(r *adapter.RawTradeRecord)
	}{
		{"bad tokens", func(r *adapter.RawTradeRecord) { r.TokensMinted = "0xzz" }},
		{"bad strike", func(r *adapter.RawTradeRecord) { r.Option.StrikePrice = "" }},
		{"bad side", func(r *adapter.RawTradeRecord) { r.Option.OptionSide = 7 }},
		{"bad maturity", func(r *adapter.RawTradeRecord) { r.Option.Maturity = "soon" }},
		{"bad option type", func(r *adapter.RawTradeRecord) { r.Option.OptionType = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow+10, ethToken, usdcToken)
			tt.mutate(&rec)

			_, err := ingestor.Decode(&rec, testNow)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeDecodeError))
			assert.False(t, apperrors.IsFatal(err))
		})
	}
}

func TestIngestSkipsNonTrades(t *testing.T) {
	ingestor := NewEventIngestor(&fakeEventSource{}, registry.Default())
	settle := tradeRecord("TradeSettle", 0, 0, oneToken, 3000, testNow+10, ethToken, usdcToken)
	bad := tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow+10, "0xdead", usdcToken)
	records := []adapter.RawTradeRecord{
		{Action: "DepositLiquidity", TokensMinted: "0x1"},
		settle,
		bad,
		tradeRecord("TradeOpen", 1, 0, oneToken, 3000, testNow+10, ethToken, usdcToken),
	}

	byPool, stats := ingestor.Ingest(context.Background(), records, testNow)

	assert.Len(t, byPool[registry.EthUsdcCall], 1)
	assert.Equal(t, IngestStats{Records: 4, Accepted: 1, NotTrades: 1, Skipped: 1, Unresolved: 1}, stats)
}

func TestIngestDropsOnlyRecoverableErrors(t *testing.T) {
	ingestor := NewEventIngestor(&fakeEventSource{}, registry.Default())
	badStrike := tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow+10, ethToken, usdcToken)
	badStrike.Option.StrikePrice = "0xzz"
	records := []adapter.RawTradeRecord{
		badStrike,
		tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow+10, "0xdead", usdcToken),
		tradeRecord("TradeClose", 0, 0, oneToken, 3000, testNow+10, usdcToken, ethToken),
	}

	for idx := range records {
		_, err := ingestor.Decode(&records[idx], testNow)
		require.Error(t, err)
		assert.False(t, apperrors.IsFatal(err), "record %d", idx)
	}

	byPool, stats := ingestor.Ingest(context.Background(), records, testNow)
	assert.Empty(t, byPool)
	assert.Equal(t, IngestStats{Records: 3, Unresolved: 2, Malformed: 1}, stats)
}

func TestFetchAllEventsGroupsByPool(t *testing.T) {
	source := &fakeEventSource{all: []adapter.RawTradeRecord{
		tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow+10, ethToken, usdcToken),
		tradeRecord("TradeOpen", 0, 1, oneToken, 1800, testNow+10, ethToken, usdcToken),
		tradeRecord("TradeOpen", 1, 1, oneToken, 1800, testNow+10, ethToken, usdcToken),
	}}
	ingestor := NewEventIngestor(source, registry.Default())

	byPool, err := ingestor.FetchAllEvents(context.Background(), testNow)
	require.NoError(t, err)
	assert.Len(t, byPool[registry.EthUsdcCall], 1)
	assert.Len(t, byPool[registry.EthUsdcPut], 2)
	assert.Equal(t, 1, source.allCalls)
}

func TestFetchEventsPerPoolDropsOtherPools(t *testing.T) {
	source := &fakeEventSource{perPool: map[types.PoolID][]adapter.RawTradeRecord{
		registry.EthUsdcCall: {
			tradeRecord("TradeOpen", 0, 0, oneToken, 3000, testNow+10, ethToken, usdcToken),
			tradeRecord("TradeOpen", 0, 1, oneToken, 1800, testNow+10, ethToken, usdcToken),
		},
	}}
	ingestor := NewEventIngestor(source, registry.Default())

	events, err := ingestor.FetchEvents(context.Background(), mustPool(registry.EthUsdcCall), testNow)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, registry.EthUsdcCall, events[0].PoolID)
}

func TestFetchEventsPropagatesUpstreamErrors(t *testing.T) {
	source := &fakeEventSource{err: apperrors.NewUpstreamUnavailableError("event_api", errors.New("down"))}
	ingestor := NewEventIngestor(source, registry.Default())

	_, err := ingestor.FetchAllEvents(context.Background(), testNow)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}
