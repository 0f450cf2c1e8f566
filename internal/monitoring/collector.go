package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/energitech/consolidator/internal/model"
	"github.com/energitech/consolidator/internal/store"
)

// MetricsSnapshot holds a point-in-time view of consolidation health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsSuccess  int     `json:"runs_success"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailureRate  float64 `json:"failure_rate"`
	Anomalies    int     `json:"anomalies"`
	RowsWritten  int64   `json:"rows_written"`
	SourceWarns  int     `json:"source_warnings"`
	AvgDurationS float64 `json:"avg_duration_seconds"`

	// Most recent run, if any.
	LastRunStatus model.RunStatus `json:"last_run_status,omitempty"`
	LastRunID     string          `json:"last_run_id,omitempty"`
	LastRunError  string          `json:"last_run_error,omitempty"`
	LastSuccessAt *time.Time      `json:"last_success_at,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunSummary, error)
}

// Collector summarizes the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	// Runs come back newest first.
	if len(runs) > 0 {
		snap.LastRunStatus = runs[0].Status
		snap.LastRunID = runs[0].RunID
		snap.LastRunError = runs[0].Error
	}

	var totalDuration float64
	for _, r := range runs {
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusSuccess:
			snap.RunsSuccess++
			if snap.LastSuccessAt == nil && r.FinishedAt != nil {
				at := *r.FinishedAt
				snap.LastSuccessAt = &at
			}
		case model.RunStatusFailure:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
			continue
		}
		snap.Anomalies += r.Anomalies
		snap.RowsWritten += r.RowsWritten
		snap.SourceWarns += len(r.Warnings)
		totalDuration += r.DurationSeconds
	}

	if finished := snap.RunsSuccess + snap.RunsFailed; finished > 0 {
		snap.FailureRate = float64(snap.RunsFailed) / float64(finished)
		snap.AvgDurationS = totalDuration / float64(finished)
	}

	return snap, nil
}
