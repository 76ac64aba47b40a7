package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/pool-metrics/internal/types"
)

// ContractReader performs the read-only contract calls of a run
type ContractReader interface {
	GetUnlockedCapital(ctx context.Context, amm, lpToken *big.Int) (*big.Int, error)
	GetValueOfPoolPosition(ctx context.Context, amm, lpToken *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ResetEndpoint()
}

// PositionReader reads pool capital from the AMM contract
type PositionReader struct {
	reader ContractReader
	amm    *big.Int
}

// NewPositionReader creates a reader against the given AMM address
func NewPositionReader(reader ContractReader, amm *big.Int) *PositionReader {
	return &PositionReader{reader: reader, amm: amm}
}

// ReadCapital reads the unlocked capital and locked position value of a pool
func (r *PositionReader) ReadCapital(ctx context.Context, pool *types.PoolConfig) (*types.CapitalPosition, error) {
	unlocked, err := r.reader.GetUnlockedCapital(ctx, r.amm, pool.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read unlocked capital of %s: %w", pool.ID, err)
	}

	locked, err := r.reader.GetValueOfPoolPosition(ctx, r.amm, pool.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool position value of %s: %w", pool.ID, err)
	}

	return &types.CapitalPosition{
		PoolID:         pool.ID,
		UnlockedRaw:    unlocked,
		LockedValueRaw: locked,
	}, nil
}

// BlockHeight returns the current block height
func (r *PositionReader) BlockHeight(ctx context.Context) (uint64, error) {
	height, err := r.reader.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read block height: %w", err)
	}
	return height, nil
}

// ResetEndpoint starts the next run on the primary RPC endpoint
func (r *PositionReader) ResetEndpoint() {
	r.reader.ResetEndpoint()
}
