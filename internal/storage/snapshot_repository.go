package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/types"
)

// SnapshotRepository keeps the latest snapshot of every pool in pool_snapshots
type SnapshotRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{
		pool: pool,
		now:  time.Now,
	}
}

// Name identifies the sink in logs and metrics
func (r *SnapshotRepository) Name() string { return "postgres" }

const upsertSnapshotQuery = `
	INSERT INTO pool_snapshots (
		pool_id,
		protocol,
		run_id,
		run_date,
		block_height,
		token_symbol,
		tvl_usd,
		open_longs_usd,
		open_shorts_usd,
		maturity_longs,
		maturity_shorts,
		etl_timestamp,
		updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (pool_id)
	DO UPDATE SET
		protocol = EXCLUDED.protocol,
		run_id = EXCLUDED.run_id,
		run_date = EXCLUDED.run_date,
		block_height = EXCLUDED.block_height,
		token_symbol = EXCLUDED.token_symbol,
		tvl_usd = EXCLUDED.tvl_usd,
		open_longs_usd = EXCLUDED.open_longs_usd,
		open_shorts_usd = EXCLUDED.open_shorts_usd,
		maturity_longs = EXCLUDED.maturity_longs,
		maturity_shorts = EXCLUDED.maturity_shorts,
		etl_timestamp = EXCLUDED.etl_timestamp,
		updated_at = EXCLUDED.updated_at
`

// Write upserts every snapshot of the run in one transaction
func (r *SnapshotRepository) Write(ctx context.Context, set types.SnapshotSet, meta *types.RunMetadata) error {
	runID := ""
	if meta != nil {
		runID = meta.RunID
	}
	updatedAt := r.now().UTC()

	batch := &pgx.Batch{}
	for id, snap := range set {
		if snap == nil {
			continue
		}
		batch.Queue(upsertSnapshotQuery,
			string(id),
			snap.ProtocolName,
			runID,
			snap.RunDate,
			int64(snap.BlockHeight), // #nosec G115 - block heights fit in int64
			snap.TokenSymbol,
			snap.TVLUSD,
			snap.OpenLongUSD,
			snap.OpenShortUSD,
			snap.MaturityLong,
			snap.MaturityShort,
			snap.ETLTimestamp,
			updatedAt,
		)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return apperrors.NewStorageError("upsert pool snapshots", err)
	}
	return nil
}

// Load returns the stored snapshots keyed by pool id
func (r *SnapshotRepository) Load(ctx context.Context) (types.SnapshotSet, error) {
	query := `
		SELECT pool_id, protocol, run_date, block_height, token_symbol,
		       tvl_usd, open_longs_usd, open_shorts_usd,
		       maturity_longs, maturity_shorts, etl_timestamp
		FROM pool_snapshots
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewStorageError("query pool snapshots", err)
	}
	defer rows.Close()

	set := make(types.SnapshotSet)
	for rows.Next() {
		var (
			snap   types.PoolSnapshot
			poolID string
			height int64
		)
		if err := rows.Scan(
			&poolID,
			&snap.ProtocolName,
			&snap.RunDate,
			&height,
			&snap.TokenSymbol,
			&snap.TVLUSD,
			&snap.OpenLongUSD,
			&snap.OpenShortUSD,
			&snap.MaturityLong,
			&snap.MaturityShort,
			&snap.ETLTimestamp,
		); err != nil {
			return nil, apperrors.NewStorageError("scan pool snapshot", err)
		}
		snap.PoolID = types.PoolID(poolID)
		snap.BlockHeight = uint64(height) // #nosec G115 - stored from a uint64
		set[snap.PoolID] = &snap
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("iterate pool snapshots", err)
	}

	if len(set) == 0 {
		return nil, apperrors.NewNotFoundError("snapshots", "pool_snapshots")
	}
	return set, nil
}

// Count returns the number of stored pools
func (r *SnapshotRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pool_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pool snapshots: %w", err)
	}
	return n, nil
}
