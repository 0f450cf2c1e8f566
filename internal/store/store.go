// Package store persists consolidated measurements and the run log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/energitech/consolidator/internal/db"
	"github.com/energitech/consolidator/internal/model"
)

// DefaultTable is the consolidated measurements table.
const DefaultTable = "consolidated_measurements"

// ErrNotFound is returned when a measurement or run does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateKey is returned when one upsert batch repeats an
// (asset_id, timestamp) key.
var ErrDuplicateKey = errors.New("store: duplicate key in batch")

// MeasurementFilter specifies criteria for listing measurements.
type MeasurementFilter struct {
	AssetID string    `json:"asset_id,omitempty"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Since  time.Time       `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the consolidation engine.
type Store interface {
	// Measurements

	// UpsertMeasurements merge-upserts a deduplicated batch in chunks of
	// batchSize: measured fields become coalesce(incoming, stored) and the
	// source is always overwritten. All chunks commit or none do. A batch
	// repeating a key is rejected with ErrDuplicateKey before anything is
	// written; the count returned is the number of distinct rows written.
	UpsertMeasurements(ctx context.Context, batch []model.Measurement, batchSize int) (int64, error)
	GetMeasurement(ctx context.Context, key model.Key) (*model.Measurement, error)
	ListMeasurements(ctx context.Context, filter MeasurementFilter) ([]model.Measurement, error)
	LatestMeasurement(ctx context.Context, assetID string) (*model.Measurement, error)

	// Run log
	StartRun(ctx context.Context, summary *model.RunSummary) error
	FinishRun(ctx context.Context, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.RunSummary, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 1000

func listLimit(n int) int {
	if n <= 0 || n > defaultListLimit {
		return defaultListLimit
	}
	return n
}

// checkDistinctKeys rejects a batch in which two records share a key.
func checkDistinctKeys(batch []model.Measurement) error {
	seen := make(map[model.Key]int, len(batch))
	for i, m := range batch {
		k := m.Key()
		if j, ok := seen[k]; ok {
			return eris.Wrapf(ErrDuplicateKey, "%s at positions %d and %d", k, j, i)
		}
		seen[k] = i
	}
	return nil
}

func batchSize(n int) int {
	if n <= 0 {
		return db.DefaultBatchSize
	}
	return n
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
