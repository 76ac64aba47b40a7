package service

import (
	"context"
	"fmt"

	"github.com/pool-metrics/internal/adapter"
	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/fixedpoint"
	"github.com/pool-metrics/internal/logging"
	"github.com/pool-metrics/internal/metrics"
	"github.com/pool-metrics/internal/registry"
	"github.com/pool-metrics/internal/types"
)

// EventSource returns raw trade records, globally or per pool
type EventSource interface {
	FetchAllTransactions(ctx context.Context) ([]adapter.RawTradeRecord, error)
	FetchPoolTrades(ctx context.Context, poolID types.PoolID) ([]adapter.RawTradeRecord, error)
}

// IngestStats counts what happened to the records of one fetch
type IngestStats struct {
	Records    int
	Accepted   int
	NotTrades  int
	Skipped    int // matured, or neither an open nor a close
	Unresolved int
	Malformed  int
	OtherPool  int
}

// EventIngestor decodes raw trade records into unmatured TradeEvents
type EventIngestor struct {
	source   EventSource
	registry *registry.Registry
}

// NewEventIngestor creates a new ingestor
func NewEventIngestor(source EventSource, reg *registry.Registry) *EventIngestor {
	return &EventIngestor{source: source, registry: reg}
}

// FetchEvents returns the unmatured trades of one pool from its own feed.
// Records that resolve to another pool are dropped.
func (i *EventIngestor) FetchEvents(ctx context.Context, pool *types.PoolConfig, nowTs int64) ([]*types.TradeEvent, error) {
	records, err := i.source.FetchPoolTrades(ctx, pool.ID)
	if err != nil {
		return nil, err
	}

	byPool, stats := i.Ingest(ctx, records, nowTs)
	events := byPool[pool.ID]
	for id, evs := range byPool {
		if id != pool.ID {
			stats.OtherPool += len(evs)
			stats.Accepted -= len(evs)
		}
	}
	i.logStats(ctx, string(pool.ID), stats)
	return events, nil
}

// FetchAllEvents fetches the global feed once and groups unmatured trades by pool
func (i *EventIngestor) FetchAllEvents(ctx context.Context, nowTs int64) (map[types.PoolID][]*types.TradeEvent, error) {
	records, err := i.source.FetchAllTransactions(ctx)
	if err != nil {
		return nil, err
	}

	byPool, stats := i.Ingest(ctx, records, nowTs)
	i.logStats(ctx, "all", stats)
	return byPool, nil
}

// Ingest decodes and resolves records. Recoverable failures drop the record
// and are counted; they never fail the batch.
func (i *EventIngestor) Ingest(ctx context.Context, records []adapter.RawTradeRecord, nowTs int64) (map[types.PoolID][]*types.TradeEvent, IngestStats) {
	logger := logging.FromContext(ctx)
	out := make(map[types.PoolID][]*types.TradeEvent)
	stats := IngestStats{Records: len(records)}

	for idx := range records {
		ev, err := i.Decode(&records[idx], nowTs)
		switch {
		case err != nil:
			if apperrors.HasCode(err, apperrors.CodeUnresolvedEvent) {
				stats.Unresolved++
				metrics.EventsDropped.WithLabelValues("unresolved").Inc()
			} else {
				stats.Malformed++
				metrics.EventsDropped.WithLabelValues("malformed").Inc()
			}
			logger.WithField("index", idx).WithError(err).Debug("Dropping trade record")
		case ev == nil:
			if records[idx].Option == nil {
				stats.NotTrades++
			} else {
				stats.Skipped++
			}
		default:
			stats.Accepted++
			out[ev.PoolID] = append(out[ev.PoolID], ev)
			metrics.EventsIngested.WithLabelValues(string(ev.PoolID)).Inc()
		}
	}
	return out, stats
}

// Decode turns one raw record into a TradeEvent. It returns (nil, nil) for
// records that are not option trades, that are neither opens nor closes,
// or whose option matures at or before nowTs.
func (i *EventIngestor) Decode(rec *adapter.RawTradeRecord, nowTs int64) (*types.TradeEvent, error) {
	opt := rec.Option
	if opt == nil {
		return nil, nil
	}

	maturity, err := opt.Maturity.Int64()
	if err != nil {
		return nil, apperrors.NewDecodeError("maturity", err)
	}
	if maturity <= nowTs {
		return nil, nil
	}

	action := types.Action(rec.Action)
	if action != types.ActionOpen && action != types.ActionClose {
		return nil, nil
	}

	var side types.Side
	switch opt.OptionSide {
	case 0:
		side = types.SideLong
	case 1:
		side = types.SideShort
	default:
		return nil, apperrors.NewDecodeError("option_side", fmt.Errorf("unknown side %d", opt.OptionSide))
	}

	tokens, err := fixedpoint.ParseHexInt(rec.TokensMinted)
	if err != nil {
		return nil, apperrors.NewDecodeError("tokens_minted", err)
	}
	strike, err := fixedpoint.DecodeMath64Hex(opt.StrikePrice)
	if err != nil {
		return nil, apperrors.NewDecodeError("strike_price", err)
	}
	// capital_transfered is validated but not used by any metric
	if rec.CapitalTransfered != "" {
		if _, err := fixedpoint.ParseHexInt(rec.CapitalTransfered); err != nil {
			return nil, apperrors.NewDecodeError("capital_transfered", err)
		}
	}

	var timestamp int64
	if rec.Timestamp != "" {
		if timestamp, err = rec.Timestamp.Int64(); err != nil {
			return nil, apperrors.NewDecodeError("timestamp", err)
		}
	}

	pool, err := i.resolvePool(rec)
	if err != nil {
		return nil, err
	}

	return &types.TradeEvent{
		PoolID:       pool.ID,
		Side:         side,
		Action:       action,
		TokensMinted: tokens,
		StrikePrice:  strike,
		Maturity:     maturity,
		Timestamp:    timestamp,
	}, nil
}

// resolvePool maps a record to a pool, first by LP address and then by the
// (base, quote, option type) triple.
func (i *EventIngestor) resolvePool(rec *adapter.RawTradeRecord) (*types.PoolConfig, error) {
	opt := rec.Option

	for _, addr := range []string{rec.LiquidityPool, opt.LPAddress} {
		if addr == "" {
			continue
		}
		lp, err := fixedpoint.ParseHexInt(addr)
		if err != nil {
			return nil, apperrors.NewDecodeError("liquidity_pool", err)
		}
		if pool, ok := i.registry.PoolByAddress(lp); ok {
			return pool, nil
		}
	}

	var optionType types.OptionType
	switch opt.OptionType {
	case 0:
		optionType = types.OptionCall
	case 1:
		optionType = types.OptionPut
	default:
		return nil, apperrors.NewDecodeError("option_type", fmt.Errorf("unknown option type %d", opt.OptionType))
	}

	base, err := i.tokenAsset(opt.BaseTokenAddress)
	if err != nil {
		return nil, err
	}
	quote, err := i.tokenAsset(opt.QuoteTokenAddress)
	if err != nil {
		return nil, err
	}

	pool, ok := i.registry.PoolByPair(base, quote, optionType)
	if !ok {
		return nil, apperrors.NewUnresolvedEventError(fmt.Sprintf("no %s pool for %s/%s", optionType, base, quote))
	}
	return pool, nil
}

func (i *EventIngestor) tokenAsset(addr string) (types.Asset, error) {
	if addr == "" {
		return "", apperrors.NewUnresolvedEventError("missing token address")
	}
	token, err := fixedpoint.ParseHexInt(addr)
	if err != nil {
		return "", apperrors.NewDecodeError("token_address", err)
	}
	asset, ok := i.registry.AssetByToken(token)
	if !ok {
		return "", apperrors.NewUnresolvedEventError("unknown token " + addr)
	}
	return asset, nil
}

func (i *EventIngestor) logStats(ctx context.Context, feed string, stats IngestStats) {
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"feed":       feed,
		"records":    stats.Records,
		"accepted":   stats.Accepted,
		"notTrades":  stats.NotTrades,
		"skipped":    stats.Skipped,
		"unresolved": stats.Unresolved,
		"malformed":  stats.Malformed,
		"otherPool":  stats.OtherPool,
	}).Info("Ingested trade events")
}
