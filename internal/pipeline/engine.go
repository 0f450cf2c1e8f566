// Package pipeline runs one consolidation pass: extract the three feeds,
// canonicalize, gate, deduplicate and merge-upsert the result.
package pipeline

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/energitech/consolidator/internal/model"
	"github.com/energitech/consolidator/internal/store"
	"github.com/energitech/consolidator/internal/transform"
)

// ProductionExtractor reads the production ledger, staging remote files in tmpDir.
type ProductionExtractor interface {
	Extract(ctx context.Context, tmpDir string) ([]transform.ProductionRow, error)
}

// SensorExtractor reads recent telemetry rows.
type SensorExtractor interface {
	Extract(ctx context.Context) ([]transform.SensorRow, error)
}

// WeatherExtractor reads the hourly forecast.
type WeatherExtractor interface {
	Extract(ctx context.Context) (*transform.WeatherPayload, error)
}

// Sources groups the extractors. A nil extractor contributes nothing.
type Sources struct {
	Production ProductionExtractor
	Sensor     SensorExtractor
	Weather    WeatherExtractor
}

// Options tunes one engine.
type Options struct {
	TmpDir         string
	BatchSize      int
	FallbackAssets []string
	Location       *time.Location
	Rules          []transform.RangeRule
}

// Engine consolidates the feeds into the store.
type Engine struct {
	sources Sources
	store   store.Store
	opts    Options
	tf      *transform.Transformer
	gate    *transform.Gate
	metrics *Metrics

	now   func() time.Time
	newID func() string
}

// New creates an Engine. metrics may be nil. Empty opts.Rules selects the
// default plausibility ranges.
func New(st store.Store, sources Sources, opts Options, metrics *Metrics) (*Engine, error) {
	gate, err := transform.NewGate(opts.Rules...)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: quality gate")
	}
	return &Engine{
		sources: sources,
		store:   st,
		opts:    opts,
		tf:      transform.New(opts.Location),
		gate:    gate,
		metrics: metrics,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}, nil
}

// extraction holds the raw output of the three feeds.
type extraction struct {
	production []transform.ProductionRow
	sensor     []transform.SensorRow
	weather    *transform.WeatherPayload
	warnings   []string
}

// Run executes one consolidation pass. The returned summary is always
// non-nil and carries the terminal status; the error is non-nil only when
// the write step failed.
func (e *Engine) Run(ctx context.Context) (*model.RunSummary, error) {
	summary := model.NewRunSummary(e.newID(), e.now())
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", summary.RunID))
	log.Info("pipeline: run started")

	if err := e.store.StartRun(ctx, summary); err != nil {
		log.Warn("pipeline: failed to record run start", zap.Error(err))
	}

	cleanup := e.prepareTmpDir(log)
	defer cleanup()

	ex := e.extract(ctx, log)
	summary.Warnings = ex.warnings

	anomalies, err := e.consolidate(ctx, log, ex, summary)
	summary.Finish(e.now(), err)

	if finishErr := e.store.FinishRun(context.WithoutCancel(ctx), summary); finishErr != nil {
		log.Warn("pipeline: failed to record run end", zap.Error(finishErr))
	}
	e.metrics.observe(summary, anomalies)

	fields := []zap.Field{
		zap.String("status", string(summary.Status)),
		zap.Int("extracted", summary.TotalExtracted()),
		zap.Int("transformed", summary.Transformed),
		zap.Int("anomalies", summary.Anomalies),
		zap.Int("deduplicated", summary.Deduplicated),
		zap.Int64("rows_written", summary.RowsWritten),
		zap.Float64("duration_s", summary.DurationSeconds),
	}
	if err != nil {
		log.Error("pipeline: run failed", append(fields, zap.Error(err))...)
		return summary, err
	}
	log.Info("pipeline: run complete", fields...)
	return summary, nil
}

// prepareTmpDir creates the staging directory and returns a func removing
// it again. A directory that already existed is left in place.
func (e *Engine) prepareTmpDir(log *zap.Logger) func() {
	dir := e.opts.TmpDir
	if dir == "" {
		return func() {}
	}
	if _, err := os.Stat(dir); err == nil {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("pipeline: failed to create tmp dir", zap.String("dir", dir), zap.Error(err))
		return func() {}
	}
	return func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("pipeline: failed to remove tmp dir", zap.String("dir", dir), zap.Error(err))
		}
	}
}

// extract reads the three feeds concurrently. A failing feed is logged,
// recorded as a warning and contributes nothing.
func (e *Engine) extract(ctx context.Context, log *zap.Logger) extraction {
	var (
		ex extraction
		mu sync.Mutex
	)
	fail := func(src model.Source, err error) {
		log.Warn("pipeline: source unavailable", zap.String("source", string(src)), zap.Error(err))
		e.metrics.sourceFailed(src)
		mu.Lock()
		ex.warnings = append(ex.warnings, string(src)+": "+err.Error())
		mu.Unlock()
	}

	var g errgroup.Group

	if e.sources.Sensor != nil {
		g.Go(func() error {
			rows, err := e.sources.Sensor.Extract(ctx)
			if err != nil {
				fail(model.SourceSensorTelemetry, err)
				return nil
			}
			ex.sensor = rows
			return nil
		})
	}

	if e.sources.Production != nil {
		g.Go(func() error {
			rows, err := e.sources.Production.Extract(ctx, e.opts.TmpDir)
			if err != nil {
				fail(model.SourceProductionLedger, err)
				return nil
			}
			ex.production = rows
			return nil
		})
	}

	if e.sources.Weather != nil {
		g.Go(func() error {
			payload, err := e.sources.Weather.Extract(ctx)
			if err != nil {
				fail(model.SourceWeatherAPI, err)
				return nil
			}
			ex.weather = payload
			return nil
		})
	}

	_ = g.Wait()
	sort.Strings(ex.warnings)
	return ex
}

// consolidate maps, gates, deduplicates and writes the extracted rows,
// filling in summary as it goes. It returns the per-field anomaly counts.
func (e *Engine) consolidate(ctx context.Context, log *zap.Logger, ex extraction, summary *model.RunSummary) (map[string]int, error) {
	sensor := e.tf.Sensor(ex.sensor)
	production := e.tf.Production(ex.production)

	assets := ActiveAssets(e.opts.FallbackAssets, sensor, production)
	var weather []model.Measurement
	if ex.weather != nil {
		weather = e.tf.Weather(ex.weather, assets)
	}

	summary.Extracted[model.SourceSensorTelemetry] = len(ex.sensor)
	summary.Extracted[model.SourceProductionLedger] = len(ex.production)
	summary.Extracted[model.SourceWeatherAPI] = 0
	if ex.weather != nil {
		summary.Extracted[model.SourceWeatherAPI] = len(ex.weather.Hourly.Time)
	}

	batch := make([]model.Measurement, 0, len(sensor)+len(production)+len(weather))
	batch = append(batch, sensor...)
	batch = append(batch, production...)
	batch = append(batch, weather...)
	batch = transform.EnforceAll(batch)
	summary.Transformed = len(batch)

	batch, gate := e.gate.Apply(batch)
	summary.Anomalies = gate.Total

	batch = transform.Deduplicate(batch)
	summary.Deduplicated = len(batch)

	log.Info("pipeline: batch prepared",
		zap.Strings("assets", assets),
		zap.Int("records", len(batch)),
		zap.Int("anomalies", gate.Total),
	)

	if len(batch) == 0 {
		return gate.ByField, nil
	}

	written, err := e.store.UpsertMeasurements(ctx, batch, e.opts.BatchSize)
	if err != nil {
		return gate.ByField, eris.Wrap(err, "pipeline: write consolidated batch")
	}
	summary.RowsWritten = written
	return gate.ByField, nil
}

// ActiveAssets returns the sorted union of asset ids seen in the batches,
// or fallback when none carry an id.
func ActiveAssets(fallback []string, batches ...[]model.Measurement) []string {
	seen := make(map[string]struct{})
	for _, b := range batches {
		for _, m := range b {
			if m.AssetID != "" {
				seen[m.AssetID] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		out := make([]string, 0, len(fallback))
		for _, id := range fallback {
			if id = transform.NormalizeAssetID(id); id != "" {
				out = append(out, id)
			}
		}
		return out
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
