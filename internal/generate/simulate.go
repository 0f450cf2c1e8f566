package generate

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/db"
)

const insertRawMeasurement = `INSERT INTO raw_measurements
	(turbine_id, ts_utc, wind_speed_mps, temperature_k, vibration_mm_s, consumption_kwh)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (turbine_id, ts_utc) DO NOTHING`

// Reading is one simulated telemetry sample.
type Reading struct {
	TurbineID      string
	Timestamp      time.Time
	WindMS         float64
	TemperatureK   float64
	VibrationMMS   float64
	ConsumptionKWh float64
}

// Simulator inserts synthetic telemetry into raw_measurements.
type Simulator struct {
	pool db.Pool
	rng  *rand.Rand
	now  func() time.Time
}

// NewSimulator creates a Simulator; seed nil draws a random seed.
func NewSimulator(pool db.Pool, seed *uint64) *Simulator {
	s := rand.Uint64()
	if seed != nil {
		s = *seed
	}
	return &Simulator{
		pool: pool,
		rng:  rand.New(rand.NewPCG(s, s>>1|1)),
		now:  time.Now,
	}
}

// Reading draws one plausible sample for turbine at ts.
func (s *Simulator) Reading(turbine string, ts time.Time) Reading {
	wind := round2(max(0, 7+s.rng.NormFloat64()*3.5))
	return Reading{
		TurbineID:      turbine,
		Timestamp:      ts,
		WindMS:         wind,
		TemperatureK:   round2(283.15 + s.rng.NormFloat64()*6),
		VibrationMMS:   round2(0.5 + wind*0.15 + s.rng.Float64()),
		ConsumptionKWh: round2(5 + s.rng.Float64()*20),
	}
}

// InsertCurrent inserts one reading per turbine for the current UTC minute.
// Rows that already exist for that minute are left untouched. It returns
// the number of rows inserted.
func (s *Simulator) InsertCurrent(ctx context.Context, turbines []string) (int64, error) {
	ts := s.now().UTC().Truncate(time.Minute)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "simulate: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var inserted int64
	for _, id := range turbines {
		r := s.Reading(id, ts)
		tag, err := tx.Exec(ctx, insertRawMeasurement,
			r.TurbineID, r.Timestamp, r.WindMS, r.TemperatureK, r.VibrationMMS, r.ConsumptionKWh)
		if err != nil {
			return 0, eris.Wrapf(err, "simulate: insert %s", id)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "simulate: commit")
	}

	zap.L().Info("simulated sensor readings inserted",
		zap.Time("timestamp", ts),
		zap.Int("turbines", len(turbines)),
		zap.Int64("inserted", inserted),
	)
	return inserted, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
