package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energitech/consolidator/internal/model"
)

var ts0 = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// backends returns every Store with native or emulated merge semantics that
// can run without external services.
func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestSQLite(t),
		"memory": NewMemory(),
	}
}

func TestStore_InsertThenGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := model.Measurement{
				AssetID:         "T001",
				Timestamp:       ts0,
				EnergyKWh:       model.Float(850),
				PlannedOutage:   model.Bool(true),
				UnplannedOutage: model.Bool(false),
				Source:          model.SourceProductionLedger,
			}
			n, err := s.UpsertMeasurements(ctx, []model.Measurement{in}, 500)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			got, err := s.GetMeasurement(ctx, in.Key())
			require.NoError(t, err)
			assert.Equal(t, "T001", got.AssetID)
			assert.True(t, ts0.Equal(got.Timestamp))
			assert.Equal(t, 850.0, *got.EnergyKWh)
			assert.True(t, *got.PlannedOutage)
			assert.False(t, *got.UnplannedOutage)
			assert.Nil(t, got.WindSpeedMS)
			assert.Equal(t, model.SourceProductionLedger, got.Source)
		})
	}
}

func TestStore_AbsentNeverOverwritesPresent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := model.Key{AssetID: "T001", Timestamp: ts0}

			_, err := s.UpsertMeasurements(ctx, []model.Measurement{
				{AssetID: "T001", Timestamp: ts0, WindSpeedMS: model.Float(5.0), Source: model.SourceSensorTelemetry},
			}, 500)
			require.NoError(t, err)

			_, err = s.UpsertMeasurements(ctx, []model.Measurement{
				{AssetID: "T001", Timestamp: ts0, Source: model.SourceWeatherAPI},
			}, 500)
			require.NoError(t, err)

			got, err := s.GetMeasurement(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, got.WindSpeedMS)
			assert.Equal(t, 5.0, *got.WindSpeedMS)
			assert.Equal(t, model.SourceWeatherAPI, got.Source)

			_, err = s.UpsertMeasurements(ctx, []model.Measurement{
				{AssetID: "T001", Timestamp: ts0, WindSpeedMS: model.Float(7.2), Source: model.SourceSensorTelemetry},
			}, 500)
			require.NoError(t, err)

			got, err = s.GetMeasurement(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, 7.2, *got.WindSpeedMS)
			assert.Equal(t, model.SourceSensorTelemetry, got.Source)
		})
	}
}

func TestStore_SensorThenWeatherUnion(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.UpsertMeasurements(ctx, []model.Measurement{
				{AssetID: "T001", Timestamp: ts0, WindSpeedMS: model.Float(12.3), Source: model.SourceSensorTelemetry},
			}, 500)
			require.NoError(t, err)
			_, err = s.UpsertMeasurements(ctx, []model.Measurement{
				{AssetID: "T001", Timestamp: ts0, TemperatureK: model.Float(280.1), Source: model.SourceWeatherAPI},
			}, 500)
			require.NoError(t, err)

			all, err := s.ListMeasurements(ctx, MeasurementFilter{})
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, 12.3, *all[0].WindSpeedMS)
			assert.Equal(t, 280.1, *all[0].TemperatureK)
			assert.Equal(t, model.SourceWeatherAPI, all[0].Source)
		})
	}
}

func TestStore_ZeroAndFalseAreValues(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := model.Key{AssetID: "T002", Timestamp: ts0}
			_, err := s.UpsertMeasurements(ctx, []model.Measurement{
				{AssetID: "T002", Timestamp: ts0, EnergyKWh: model.Float(900), PlannedOutage: model.Bool(true), Source: model.SourceProductionLedger},
			}, 500)
			require.NoError(t, err)
			_, err = s.UpsertMeasurements(ctx, []model.Measurement{
				{AssetID: "T002", Timestamp: ts0, EnergyKWh: model.Float(0), PlannedOutage: model.Bool(false), Source: model.SourceProductionLedger},
			}, 500)
			require.NoError(t, err)

			got, err := s.GetMeasurement(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, 0.0, *got.EnergyKWh)
			assert.False(t, *got.PlannedOutage)
		})
	}
}

func TestStore_IdempotentResubmit(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			batch := []model.Measurement{
				{AssetID: "T001", Timestamp: ts0, WindSpeedMS: model.Float(3), Source: model.SourceSensorTelemetry},
				{AssetID: "T002", Timestamp: ts0, EnergyKWh: model.Float(10), Source: model.SourceProductionLedger},
			}
			_, err := s.UpsertMeasurements(ctx, batch, 1)
			require.NoError(t, err)
			first, err := s.ListMeasurements(ctx, MeasurementFilter{})
			require.NoError(t, err)

			n, err := s.UpsertMeasurements(ctx, batch, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
			second, err := s.ListMeasurements(ctx, MeasurementFilter{})
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestStore_RejectsDuplicateKeysInBatch(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			batch := []model.Measurement{
				{AssetID: "T001", Timestamp: ts0, WindSpeedMS: model.Float(5), Source: model.SourceSensorTelemetry},
				{AssetID: "T002", Timestamp: ts0, EnergyKWh: model.Float(10), Source: model.SourceProductionLedger},
				{AssetID: "T001", Timestamp: ts0.In(time.FixedZone("CEST", 7200)), TemperatureK: model.Float(280), Source: model.SourceWeatherAPI},
			}
			n, err := s.UpsertMeasurements(ctx, batch, 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDuplicateKey))
			assert.Equal(t, int64(0), n)

			got, err := s.ListMeasurements(ctx, MeasurementFilter{})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_ChunkedWriteAndList(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var batch []model.Measurement
			for i := range 7 {
				for _, asset := range []string{"T001", "T002"} {
					batch = append(batch, model.Measurement{
						AssetID:     asset,
						Timestamp:   ts0.Add(time.Duration(i) * time.Hour),
						WindSpeedMS: model.Float(float64(i)),
						Source:      model.SourceWeatherAPI,
					})
				}
			}
			n, err := s.UpsertMeasurements(ctx, batch, 3)
			require.NoError(t, err)
			assert.Equal(t, int64(14), n)

			got, err := s.ListMeasurements(ctx, MeasurementFilter{
				AssetID: "T002",
				From:    ts0.Add(2 * time.Hour),
				To:      ts0.Add(5 * time.Hour),
			})
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.True(t, ts0.Add(2*time.Hour).Equal(got[0].Timestamp))
			assert.True(t, ts0.Add(4*time.Hour).Equal(got[2].Timestamp))

			limited, err := s.ListMeasurements(ctx, MeasurementFilter{Limit: 4})
			require.NoError(t, err)
			require.Len(t, limited, 4)
			assert.Equal(t, "T001", limited[0].AssetID)
			assert.Equal(t, "T002", limited[1].AssetID)

			latest, err := s.LatestMeasurement(ctx, "T001")
			require.NoError(t, err)
			assert.True(t, ts0.Add(6*time.Hour).Equal(latest.Timestamp))
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetMeasurement(ctx, model.Key{AssetID: "NOPE", Timestamp: ts0})
			assert.True(t, errors.Is(err, ErrNotFound))
			_, err = s.LatestMeasurement(ctx, "NOPE")
			assert.True(t, errors.Is(err, ErrNotFound))
			_, err = s.GetRun(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
			err = s.FinishRun(ctx, &model.RunSummary{RunID: "missing"})
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStore_RunLogIsolatedFromCaller(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sum := model.NewRunSummary("iso-1", ts0)
			sum.Extracted[model.SourceSensorTelemetry] = 3
			sum.Warnings = []string{"weather_api: timeout"}
			require.NoError(t, s.StartRun(ctx, sum))

			sum.Extracted[model.SourceSensorTelemetry] = 99
			sum.Warnings[0] = "mutated"

			got, err := s.GetRun(ctx, "iso-1")
			require.NoError(t, err)
			assert.Equal(t, 3, got.Extracted[model.SourceSensorTelemetry])
			assert.Equal(t, []string{"weather_api: timeout"}, got.Warnings)

			got.Extracted[model.SourceSensorTelemetry] = 7
			got.Warnings[0] = "also mutated"
			again, err := s.GetRun(ctx, "iso-1")
			require.NoError(t, err)
			assert.Equal(t, 3, again.Extracted[model.SourceSensorTelemetry])
			assert.Equal(t, "weather_api: timeout", again.Warnings[0])
		})
	}
}

func TestStore_RunLog(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := range 3 {
				sum := model.NewRunSummary(fmt.Sprintf("run-%d", i), ts0.Add(time.Duration(i)*time.Minute))
				require.NoError(t, s.StartRun(ctx, sum))
				sum.Extracted[model.SourceSensorTelemetry] = 10 * i
				sum.RowsWritten = int64(i)
				var runErr error
				if i == 1 {
					runErr = errors.New("write failed")
				}
				sum.Finish(sum.StartedAt.Add(2*time.Second), runErr)
				require.NoError(t, s.FinishRun(ctx, sum))
			}

			got, err := s.GetRun(ctx, "run-2")
			require.NoError(t, err)
			assert.Equal(t, model.RunStatusSuccess, got.Status)
			assert.Equal(t, 20, got.Extracted[model.SourceSensorTelemetry])
			assert.Equal(t, 2.0, got.DurationSeconds)

			runs, err := s.ListRuns(ctx, RunFilter{})
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, "run-2", runs[0].RunID)
			assert.Equal(t, "run-0", runs[2].RunID)

			failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailure})
			require.NoError(t, err)
			require.Len(t, failed, 1)
			assert.Equal(t, "write failed", failed[0].Error)

			recent, err := s.ListRuns(ctx, RunFilter{Since: ts0.Add(time.Minute), Limit: 1})
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.Equal(t, "run-2", recent[0].RunID)
		})
	}
}
