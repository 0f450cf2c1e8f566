package source

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/db"
	"github.com/energitech/consolidator/internal/resilience"
	"github.com/energitech/consolidator/internal/transform"
)

// DefaultLookback is the telemetry window read by one run.
const DefaultLookback = 24 * time.Hour

const sensorQuery = `SELECT turbine_id, ts_utc, wind_speed_mps, temperature_k, vibration_mm_s, consumption_kwh
FROM raw_measurements
WHERE ts_utc >= now() - make_interval(mins => $1)
ORDER BY ts_utc, turbine_id`

// SensorSource reads recent rows from the raw_measurements table.
type SensorSource struct {
	pool     db.Pool
	lookback time.Duration
	retry    resilience.RetryConfig
	log      *zap.Logger
}

// NewSensorSource creates a SensorSource reading the last lookback of telemetry.
func NewSensorSource(pool db.Pool, lookback time.Duration, retry resilience.RetryConfig) *SensorSource {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	retry.OnRetry = resilience.RetryLogger("sensor", "query")
	return &SensorSource{
		pool:     pool,
		lookback: lookback,
		retry:    retry,
		log:      zap.L().With(zap.String("component", "source.sensor")),
	}
}

// Extract returns telemetry rows newer than now minus the lookback window.
func (s *SensorSource) Extract(ctx context.Context) ([]transform.SensorRow, error) {
	rows, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]transform.SensorRow, error) {
		return s.query(ctx)
	})
	if err != nil {
		return nil, eris.Wrap(err, "sensor: query raw measurements")
	}
	s.log.Info("sensor rows read", zap.Int("rows", len(rows)), zap.Duration("lookback", s.lookback))
	return rows, nil
}

func (s *SensorSource) query(ctx context.Context) ([]transform.SensorRow, error) {
	rows, err := s.pool.Query(ctx, sensorQuery, int(s.lookback.Minutes()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transform.SensorRow
	for rows.Next() {
		var (
			r                            transform.SensorRow
			wind, temp, vib, consumption pgtype.Float8
		)
		if err := rows.Scan(&r.TurbineID, &r.Timestamp, &wind, &temp, &vib, &consumption); err != nil {
			return nil, eris.Wrap(err, "scan row")
		}
		r.WindMS = float8Ptr(wind)
		r.TemperatureK = float8Ptr(temp)
		r.VibrationMMS = float8Ptr(vib)
		r.ConsumptionKWh = float8Ptr(consumption)
		out = append(out, r)
	}
	return out, rows.Err()
}

func float8Ptr(f pgtype.Float8) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
