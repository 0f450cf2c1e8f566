package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/energitech/consolidator/internal/model"
)

// MemoryStore is a concurrency-safe in-memory Store. Having no native
// upsert clause, it reads, coalesces and writes each key under its lock.
type MemoryStore struct {
	mu sync.RWMutex

	measurements map[model.Key]model.Measurement
	runs         map[string]model.RunSummary
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		measurements: make(map[model.Key]model.Measurement),
		runs:         make(map[string]model.RunSummary),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// UpsertMeasurements stages every chunk before applying any of them, so a
// cancelled context leaves the store untouched.
func (s *MemoryStore) UpsertMeasurements(ctx context.Context, batch []model.Measurement, size int) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if err := checkDistinctKeys(batch); err != nil {
		return 0, eris.Wrap(err, "memory: upsert measurements")
	}
	size = batchSize(size)

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[model.Key]model.Measurement, len(batch))
	for start := 0; start < len(batch); start += size {
		if err := ctx.Err(); err != nil {
			return 0, eris.Wrapf(err, "memory: upsert chunk at %d", start)
		}
		end := min(start+size, len(batch))
		for _, in := range batch[start:end] {
			k := in.Key()
			if stored, ok := s.measurements[k]; ok {
				staged[k] = model.Merge(stored, in)
				continue
			}
			in.Timestamp = k.Timestamp
			staged[k] = in
		}
	}

	for k, m := range staged {
		s.measurements[k] = copyMeasurement(m)
	}
	return int64(len(staged)), nil
}

func (s *MemoryStore) GetMeasurement(_ context.Context, key model.Key) (*model.Measurement, error) {
	key.Timestamp = key.Timestamp.UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.measurements[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: measurement %s", key)
	}
	out := copyMeasurement(m)
	return &out, nil
}

func (s *MemoryStore) ListMeasurements(_ context.Context, filter MeasurementFilter) ([]model.Measurement, error) {
	s.mu.RLock()
	out := make([]model.Measurement, 0)
	for k, m := range s.measurements {
		if filter.AssetID != "" && k.AssetID != filter.AssetID {
			continue
		}
		if !filter.From.IsZero() && k.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !k.Timestamp.Before(filter.To) {
			continue
		}
		out = append(out, copyMeasurement(m))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].AssetID < out[j].AssetID
	})
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LatestMeasurement(_ context.Context, assetID string) (*model.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Measurement
	for k, m := range s.measurements {
		if k.AssetID != assetID {
			continue
		}
		if latest == nil || k.Timestamp.After(latest.Timestamp) {
			c := copyMeasurement(m)
			latest = &c
		}
	}
	if latest == nil {
		return nil, eris.Wrapf(ErrNotFound, "memory: latest measurement for %s", assetID)
	}
	return latest, nil
}

func (s *MemoryStore) StartRun(_ context.Context, summary *model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[summary.RunID]; ok {
		return eris.Errorf("memory: run %s already exists", summary.RunID)
	}
	s.runs[summary.RunID] = copyRun(summary)
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, summary *model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[summary.RunID]; !ok {
		return eris.Wrapf(ErrNotFound, "memory: run %s", summary.RunID)
	}
	s.runs[summary.RunID] = copyRun(summary)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, ok := s.runs[runID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: run %s", runID)
	}
	out := copyRun(&sum)
	return &out, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]model.RunSummary, error) {
	s.mu.RLock()
	out := make([]model.RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && r.StartedAt.Before(filter.Since) {
			continue
		}
		out = append(out, copyRun(&r))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyMeasurement(m model.Measurement) model.Measurement {
	out := m
	out.TemperatureK = copyPtr(m.TemperatureK)
	out.WindSpeedMS = copyPtr(m.WindSpeedMS)
	out.VibrationMMS = copyPtr(m.VibrationMMS)
	out.ConsumptionKWh = copyPtr(m.ConsumptionKWh)
	out.EnergyKWh = copyPtr(m.EnergyKWh)
	out.PlannedOutage = copyPtr(m.PlannedOutage)
	out.UnplannedOutage = copyPtr(m.UnplannedOutage)
	return out
}

func copyRun(r *model.RunSummary) model.RunSummary {
	out := *r
	out.Extracted = maps.Clone(r.Extracted)
	out.Warnings = slices.Clone(r.Warnings)
	out.FinishedAt = copyPtr(r.FinishedAt)
	return out
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
