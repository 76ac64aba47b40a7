package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/types"
)

// JSONStore writes the snapshot set as a single JSON document keyed by pool id
type JSONStore struct {
	path string
}

// NewJSONStore creates a store writing to path
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Name identifies the sink in logs and metrics
func (s *JSONStore) Name() string { return "json" }

// Path returns the output file path
func (s *JSONStore) Path() string { return s.path }

// EncodeSnapshots renders the document shared by the file and object sinks
func EncodeSnapshots(set types.SnapshotSet) ([]byte, error) {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshots: %w", err)
	}
	return append(data, '\n'), nil
}

// Write replaces the output file. The document is written to a temp file in
// the same directory and renamed, so readers never see a partial file.
func (s *JSONStore) Write(ctx context.Context, set types.SnapshotSet, meta *types.RunMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeSnapshots(set)
	if err != nil {
		return apperrors.NewStorageError("encode snapshots", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewStorageError("create output directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return apperrors.NewStorageError("create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op after a successful rename
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return apperrors.NewStorageError("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return apperrors.NewStorageError("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewStorageError("close temp file", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return apperrors.NewStorageError("chmod temp file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return apperrors.NewStorageError("rename output file", err)
	}

	return nil
}

// Load reads the last written document
func (s *JSONStore) Load(ctx context.Context) (types.SnapshotSet, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, apperrors.NewNotFoundError("snapshots", s.path)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("read output file", err)
	}
	return DecodeSnapshots(data)
}

// DecodeSnapshots parses a document produced by EncodeSnapshots
func DecodeSnapshots(data []byte) (types.SnapshotSet, error) {
	var set types.SnapshotSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, apperrors.NewStorageError("decode snapshots", err)
	}
	for id, snap := range set {
		if snap == nil {
			delete(set, id)
			continue
		}
		snap.PoolID = id
	}
	return set, nil
}
