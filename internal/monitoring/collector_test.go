package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energitech/consolidator/internal/model"
	"github.com/energitech/consolidator/internal/store"
)

var now = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

func seedRun(t *testing.T, st store.Store, id string, started time.Time, err error, anomalies int, warnings ...string) {
	t.Helper()
	ctx := context.Background()
	s := model.NewRunSummary(id, started)
	require.NoError(t, st.StartRun(ctx, s))
	if err == nil && anomalies < 0 {
		return // leave running
	}
	s.Anomalies = anomalies
	s.RowsWritten = 10
	s.Warnings = warnings
	s.Finish(started.Add(30*time.Second), err)
	require.NoError(t, st.FinishRun(ctx, s))
}

func newTestCollector(st store.Store) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Collect(t *testing.T) {
	st := store.NewMemory()
	seedRun(t, st, "old", now.Add(-48*time.Hour), errors.New("ignored"), 0)
	seedRun(t, st, "r1", now.Add(-3*time.Hour), nil, 2)
	seedRun(t, st, "r2", now.Add(-2*time.Hour), nil, 1, "weather_api: api unreachable")
	seedRun(t, st, "r3", now.Add(-time.Hour), errors.New("connection refused"), 0)
	seedRun(t, st, "r4", now.Add(-time.Minute), nil, -1)

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsSuccess)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.FailureRate, 0.0001)
	assert.Equal(t, 3, snap.Anomalies)
	assert.Equal(t, int64(30), snap.RowsWritten)
	assert.Equal(t, 1, snap.SourceWarns)
	assert.InDelta(t, 30.0, snap.AvgDurationS, 0.001)

	assert.Equal(t, model.RunStatusRunning, snap.LastRunStatus)
	assert.Equal(t, "r4", snap.LastRunID)
	require.NotNil(t, snap.LastSuccessAt)
	assert.Equal(t, now.Add(-2*time.Hour+30*time.Second), *snap.LastSuccessAt)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(store.NewMemory()).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailureRate)
	assert.Nil(t, snap.LastSuccessAt)
	assert.Empty(t, snap.LastRunStatus)
}

type failingRuns struct{}

func (failingRuns) ListRuns(context.Context, store.RunFilter) ([]model.RunSummary, error) {
	return nil, errors.New("db down")
}

func TestCollector_ListError(t *testing.T) {
	_, err := NewCollector(failingRuns{}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
