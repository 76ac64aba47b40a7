package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/logging"
	"github.com/pool-metrics/internal/metrics"
	"github.com/pool-metrics/internal/registry"
	"github.com/pool-metrics/internal/types"
)

// PriceSource returns the average USD price of an asset over a trailing window
type PriceSource interface {
	GetAveragePrice(ctx context.Context, priceID string, windowDays int) (float64, error)
}

// PriceCache stores sampled averages between runs. Implementations may be
// unavailable; the sampler treats every cache error as a miss.
type PriceCache interface {
	GetPrice(ctx context.Context, asset types.Asset, windowDays int) (float64, bool, error)
	SetPrice(ctx context.Context, asset types.Asset, windowDays int, price float64) error
}

// PriceSampler builds the PriceSet of a run
type PriceSampler struct {
	source     PriceSource
	cache      PriceCache
	registry   *registry.Registry
	windowDays int
}

// NewPriceSampler creates a sampler. cache may be nil.
func NewPriceSampler(source PriceSource, cache PriceCache, reg *registry.Registry, windowDays int) *PriceSampler {
	return &PriceSampler{
		source:     source,
		cache:      cache,
		registry:   reg,
		windowDays: windowDays,
	}
}

// WindowDays returns the trailing window used for averaging
func (s *PriceSampler) WindowDays() int {
	return s.windowDays
}

// Sample returns a PriceSet covering every asset. Any asset that cannot be
// priced, or prices at zero, fails the whole sample with PRICE_UNAVAILABLE.
func (s *PriceSampler) Sample(ctx context.Context, assets []types.Asset) (*types.PriceSet, error) {
	logger := logging.FromContext(ctx)
	prices := make(map[types.Asset]float64, len(assets))

	for _, asset := range assets {
		price, err := s.samplePrice(ctx, asset)
		if err != nil {
			return nil, apperrors.NewPriceUnavailableError(string(asset), err)
		}
		prices[asset] = price
		metrics.AssetPrice.WithLabelValues(string(asset)).Set(price)
		logger.WithFields(map[string]interface{}{
			"asset":      asset,
			"price":      price,
			"windowDays": s.windowDays,
		}).Debug("Sampled asset price")
	}

	set, err := types.NewPriceSet(prices, assets)
	if err != nil {
		var missing *types.MissingPriceError
		if stderrors.As(err, &missing) && len(missing.Assets) > 0 {
			return nil, apperrors.NewPriceUnavailableError(string(missing.Assets[0]), err)
		}
		return nil, apperrors.NewPriceUnavailableError("unknown", err)
	}
	return set, nil
}

func (s *PriceSampler) samplePrice(ctx context.Context, asset types.Asset) (float64, error) {
	logger := logging.FromContext(ctx).WithField("asset", asset)

	if s.cache != nil {
		cached, ok, err := s.cache.GetPrice(ctx, asset, s.windowDays)
		switch {
		case err != nil:
			metrics.PriceCacheResults.WithLabelValues("error").Inc()
			logger.WithError(err).Warn("Price cache read failed, fetching from source")
		case ok && validPrice(cached):
			metrics.PriceCacheResults.WithLabelValues("hit").Inc()
			return cached, nil
		default:
			metrics.PriceCacheResults.WithLabelValues("miss").Inc()
		}
	}

	info, ok := s.registry.Asset(asset)
	if !ok {
		return 0, fmt.Errorf("asset %s is not registered", asset)
	}

	price, err := s.source.GetAveragePrice(ctx, info.PriceID, s.windowDays)
	if err != nil {
		return 0, err
	}
	if !validPrice(price) {
		return 0, fmt.Errorf("sampled price %v is not positive", price)
	}

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, asset, s.windowDays, price); err != nil {
			logger.WithError(err).Warn("Price cache write failed")
		}
	}
	return price, nil
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
