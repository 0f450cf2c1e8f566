package model

import "time"

// RunStatus represents the state of a consolidation run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
)

// RunSummary is the terminal report of one consolidation run.
type RunSummary struct {
	RunID           string         `json:"run_id" yaml:"run_id"`
	Status          RunStatus      `json:"status" yaml:"status"`
	StartedAt       time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds" yaml:"duration_seconds"`
	Extracted       map[Source]int `json:"extracted" yaml:"extracted"`
	Transformed     int            `json:"transformed" yaml:"transformed"`
	Anomalies       int            `json:"anomalies" yaml:"anomalies"`
	Deduplicated    int            `json:"deduplicated" yaml:"deduplicated"`
	RowsWritten     int64          `json:"rows_written" yaml:"rows_written"`
	Warnings        []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error           string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRunSummary starts a summary in the running state.
func NewRunSummary(runID string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		Status:    RunStatusRunning,
		StartedAt: startedAt.UTC(),
		Extracted: make(map[Source]int, len(Sources)),
	}
}

// Finish stamps the end time and duration and sets the terminal status.
func (s *RunSummary) Finish(at time.Time, err error) {
	at = at.UTC()
	s.FinishedAt = &at
	s.DurationSeconds = float64(at.Sub(s.StartedAt).Milliseconds()) / 1000
	if err != nil {
		s.Status = RunStatusFailure
		s.Error = err.Error()
		return
	}
	s.Status = RunStatusSuccess
}

// TotalExtracted sums the per-source extraction counts.
func (s *RunSummary) TotalExtracted() int {
	total := 0
	for _, n := range s.Extracted {
		total += n
	}
	return total
}
