package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/logging"
	"github.com/pool-metrics/internal/metrics"
	"github.com/pool-metrics/internal/registry"
	"github.com/pool-metrics/internal/types"
)

// SnapshotSink receives the snapshot set of a successful run
type SnapshotSink interface {
	Name() string
	Write(ctx context.Context, set types.SnapshotSet, meta *types.RunMetadata) error
}

// SnapshotLoader reads the last persisted snapshot set
type SnapshotLoader interface {
	Load(ctx context.Context) (types.SnapshotSet, error)
}

// SnapshotServiceConfig holds run settings
type SnapshotServiceConfig struct {
	Mode           types.EventSourceMode
	MaxConcurrency int
	Interval       time.Duration
}

// SnapshotService orchestrates a metrics run: prices first, then the
// independent per-pool work, then assembly and output.
type SnapshotService struct {
	registry  *registry.Registry
	sampler   *PriceSampler
	positions *PositionReader
	events    *EventIngestor
	primary   SnapshotSink
	secondary []SnapshotSink
	loader    SnapshotLoader
	cfg       SnapshotServiceConfig
	now       func() time.Time

	mu         sync.RWMutex
	latest     types.SnapshotSet
	latestMeta *types.RunMetadata

	runMu sync.Mutex

	schedMu  sync.Mutex
	stopChan chan struct{}
	running  bool
}

// NewSnapshotService creates a new snapshot service. primary is required;
// secondary sinks are best effort.
func NewSnapshotService(
	reg *registry.Registry,
	sampler *PriceSampler,
	positions *PositionReader,
	events *EventIngestor,
	primary SnapshotSink,
	cfg SnapshotServiceConfig,
	secondary ...SnapshotSink,
) *SnapshotService {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = types.EventSourceGlobal
	}
	return &SnapshotService{
		registry:  reg,
		sampler:   sampler,
		positions: positions,
		events:    events,
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetLoader configures where LatestSnapshots falls back to before the first run
func (s *SnapshotService) SetLoader(loader SnapshotLoader) {
	s.loader = loader
}

// Run executes one metrics run and writes the sinks. On a fatal error no
// sink is written and the previous output is left untouched.
func (s *SnapshotService) Run(ctx context.Context) (types.SnapshotSet, *types.RunMetadata, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := s.now().UTC()
	meta := &types.RunMetadata{
		RunID:     uuid.New().String(),
		StartedAt: started,
	}
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"runId": meta.RunID,
		"mode":  s.cfg.Mode,
	})
	ctx = logging.WithLogger(ctx, logger)
	logger.Info("Starting snapshot run")

	// A failover in an earlier run must not pin this run to the secondary.
	s.positions.ResetEndpoint()

	set, err := s.compute(ctx, meta)
	if err == nil {
		err = s.writeSinks(ctx, set, meta)
	}

	elapsed := time.Since(started)
	metrics.RunDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		logger.WithError(err).WithField("duration", elapsed.String()).Error("Snapshot run failed")
		return nil, nil, err
	}

	metrics.RunsTotal.WithLabelValues("success").Inc()
	metrics.LastSuccessTimestamp.Set(float64(s.now().Unix()))
	metrics.BlockHeight.Set(float64(meta.BlockHeight))

	s.mu.Lock()
	s.latest = set
	s.latestMeta = meta
	s.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"pools":       len(set),
		"blockHeight": meta.BlockHeight,
		"duration":    elapsed.String(),
	}).Info("Snapshot run completed")
	return set, meta, nil
}

// compute builds the snapshot set without touching any sink
func (s *SnapshotService) compute(ctx context.Context, meta *types.RunMetadata) (types.SnapshotSet, error) {
	nowTs := meta.StartedAt.Unix()

	// Prices are a barrier: no pool work starts on a partial set.
	prices, err := s.sampler.Sample(ctx, s.registry.RequiredAssets())
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"assets":     prices.Assets(),
		"windowDays": s.sampler.WindowDays(),
	}).Info("Prices sampled")

	height, err := s.positions.BlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	meta.BlockHeight = height

	var globalEvents map[types.PoolID][]*types.TradeEvent
	if s.cfg.Mode == types.EventSourceGlobal {
		globalEvents, err = s.events.FetchAllEvents(ctx, nowTs)
		if err != nil {
			return nil, err
		}
	}

	pools := s.registry.Pools()
	results := make([]*types.PoolSnapshot, len(pools))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for idx, pool := range pools {
		idx, pool := idx, pool
		g.Go(func() error {
			var events []*types.TradeEvent
			if globalEvents != nil {
				events = globalEvents[pool.ID]
			} else {
				evs, err := s.events.FetchEvents(gctx, pool, nowTs)
				if err != nil {
					return err
				}
				events = evs
			}

			snap, err := s.buildPoolSnapshot(gctx, pool, events, prices, meta)
			if err != nil {
				return err
			}
			results[idx] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return AssembleSnapshots(results), nil
}

// buildPoolSnapshot computes every metric of one pool
func (s *SnapshotService) buildPoolSnapshot(
	ctx context.Context,
	pool *types.PoolConfig,
	events []*types.TradeEvent,
	prices *types.PriceSet,
	meta *types.RunMetadata,
) (*types.PoolSnapshot, error) {
	pos, err := s.positions.ReadCapital(ctx, pool)
	if err != nil {
		return nil, err
	}

	tvl, err := ComputeTVL(pool, pos, prices)
	if err != nil {
		return nil, err
	}
	openLongs, err := ComputeOpenNotional(events, pool, types.SideLong, prices)
	if err != nil {
		return nil, err
	}
	openShorts, err := ComputeOpenNotional(events, pool, types.SideShort, prices)
	if err != nil {
		return nil, err
	}

	metrics.PoolTVL.WithLabelValues(string(pool.ID)).Set(tvl)
	metrics.PoolOpenNotional.WithLabelValues(string(pool.ID), string(types.SideLong)).Set(openLongs)
	metrics.PoolOpenNotional.WithLabelValues(string(pool.ID), string(types.SideShort)).Set(openShorts)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"pool":       pool.ID,
		"events":     len(events),
		"tvl":        tvl,
		"openLongs":  openLongs,
		"openShorts": openShorts,
	}).Debug("Computed pool metrics")

	return &types.PoolSnapshot{
		PoolID:        pool.ID,
		ProtocolName:  registry.ProtocolName,
		RunDate:       meta.StartedAt.Format(time.RFC3339),
		BlockHeight:   meta.BlockHeight,
		TokenSymbol:   pool.TokenSymbol,
		TVLUSD:        tvl,
		OpenLongUSD:   openLongs,
		OpenShortUSD:  openShorts,
		MaturityLong:  WeightedAverageMaturity(events, types.SideLong),
		MaturityShort: WeightedAverageMaturity(events, types.SideShort),
		ETLTimestamp:  meta.StartedAt.Unix(),
	}, nil
}

// AssembleSnapshots keys per-pool snapshots by pool id. Nil entries are skipped.
func AssembleSnapshots(snaps []*types.PoolSnapshot) types.SnapshotSet {
	set := make(types.SnapshotSet, len(snaps))
	for _, snap := range snaps {
		if snap == nil {
			continue
		}
		set[snap.PoolID] = snap
	}
	return set
}

// writeSinks writes the primary sink, then the secondary ones. Only a
// primary failure fails the run.
func (s *SnapshotService) writeSinks(ctx context.Context, set types.SnapshotSet, meta *types.RunMetadata) error {
	logger := logging.FromContext(ctx)

	if s.primary != nil {
		if err := s.primary.Write(ctx, set, meta); err != nil {
			return fmt.Errorf("failed to write %s: %w", s.primary.Name(), err)
		}
	}

	for _, sink := range s.secondary {
		if err := sink.Write(ctx, set, meta); err != nil {
			metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			logger.WithField("sink", sink.Name()).WithError(err).Warn("Secondary sink write failed")
		}
	}
	return nil
}

// LatestSnapshots returns the snapshot set of the last successful run, or the
// persisted one when this process has not completed a run yet.
func (s *SnapshotService) LatestSnapshots(ctx context.Context) (types.SnapshotSet, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		return latest, nil
	}

	if s.loader == nil {
		return nil, apperrors.NewNotFoundError("snapshots", "latest")
	}
	return s.loader.Load(ctx)
}

// LatestMetadata returns the metadata of the last successful run, if any
func (s *SnapshotService) LatestMetadata() *types.RunMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestMeta
}

// Start runs immediately and then on every interval until Stop or ctx is done
func (s *SnapshotService) Start(ctx context.Context) error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	if s.cfg.Interval <= 0 {
		return apperrors.NewInvalidConfigError("RUN_INTERVAL", "must be positive")
	}

	s.running = true
	stop := make(chan struct{})
	s.stopChan = stop
	logger := logging.FromContext(ctx)
	logger.WithField("interval", s.cfg.Interval.String()).Info("Snapshot scheduler starting")

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			// Run logs its own failures; the next tick retries from scratch.
			_, _, _ = s.Run(ctx)

			select {
			case <-ticker.C:
			case <-stop:
				logger.Info("Snapshot scheduler stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop gracefully stops the snapshot scheduler
func (s *SnapshotService) Stop() error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if !s.running {
		return fmt.Errorf("snapshot scheduler is not running")
	}
	close(s.stopChan)
	s.running = false
	return nil
}
