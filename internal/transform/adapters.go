package transform

import (
	"time"

	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/model"
)

// ProductionRow is one line of a production ledger, as read from the file.
type ProductionRow struct {
	Date            string
	TurbineID       string
	EnergyKWh       string
	PlannedOutage   string
	UnplannedOutage string
}

// SensorRow is one telemetry row, renamed to canonical names at the query boundary.
type SensorRow struct {
	TurbineID      string
	Timestamp      time.Time
	TemperatureK   *float64
	WindMS         *float64
	VibrationMMS   *float64
	ConsumptionKWh *float64
}

// WeatherPayload is the hourly forecast document returned by the weather API.
type WeatherPayload struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Timezone  string        `json:"timezone"`
	Hourly    WeatherHourly `json:"hourly"`
}

// WeatherHourly holds parallel arrays indexed by hour offset. Values are
// kept loosely typed so a single malformed sample degrades to absent.
type WeatherHourly struct {
	Time          []string `json:"time"`
	Temperature2m []any    `json:"temperature_2m"`
	WindSpeed10m  []any    `json:"wind_speed_10m"`
	// Older API revisions used the unseparated key.
	LegacyWindSpeed10m []any `json:"windspeed_10m"`
}

func (h WeatherHourly) wind() []any {
	if len(h.WindSpeed10m) > 0 {
		return h.WindSpeed10m
	}
	return h.LegacyWindSpeed10m
}

// Transformer maps raw rows from each feed onto canonical measurements.
type Transformer struct {
	loc *time.Location
	log *zap.Logger
}

// New creates a Transformer that reads naive timestamps in loc.
func New(loc *time.Location) *Transformer {
	if loc == nil {
		loc = time.UTC
	}
	return &Transformer{
		loc: loc,
		log: zap.L().With(zap.String("component", "transform")),
	}
}

// Location returns the zone used for naive timestamps.
func (t *Transformer) Location() *time.Location { return t.loc }

// ProductionRecord maps one ledger row. It reports false when the row has
// no asset id or no parseable date.
func (t *Transformer) ProductionRecord(row ProductionRow) (model.Measurement, bool) {
	asset := NormalizeAssetID(row.TurbineID)
	ts, ok := ParseTimestamp(row.Date, t.loc)
	if asset == "" || !ok {
		return model.Measurement{}, false
	}
	return model.Measurement{
		AssetID:         asset,
		Timestamp:       ts,
		EnergyKWh:       ToFloat(row.EnergyKWh),
		PlannedOutage:   model.Bool(CoerceFlag(row.PlannedOutage)),
		UnplannedOutage: model.Bool(CoerceFlag(row.UnplannedOutage)),
		Source:          model.SourceProductionLedger,
	}, true
}

// SensorRecord maps one telemetry row.
func (t *Transformer) SensorRecord(row SensorRow) (model.Measurement, bool) {
	asset := NormalizeAssetID(row.TurbineID)
	ts, ok := ParseTimestamp(row.Timestamp, t.loc)
	if asset == "" || !ok {
		return model.Measurement{}, false
	}
	return model.Measurement{
		AssetID:        asset,
		Timestamp:      ts,
		TemperatureK:   ToFloat(row.TemperatureK),
		WindSpeedMS:    ToFloat(row.WindMS),
		VibrationMMS:   ToFloat(row.VibrationMMS),
		ConsumptionKWh: ToFloat(row.ConsumptionKWh),
		Source:         model.SourceSensorTelemetry,
	}, true
}

// Production maps a batch of ledger rows, dropping rows that cannot be keyed.
func (t *Transformer) Production(rows []ProductionRow) []model.Measurement {
	out := make([]model.Measurement, 0, len(rows))
	for i, row := range rows {
		m, ok := t.ProductionRecord(row)
		if !ok {
			t.log.Warn("dropping production row without key",
				zap.Int("row", i), zap.String("turbine_id", row.TurbineID), zap.String("date", row.Date))
			continue
		}
		out = append(out, m)
	}
	return out
}

// Sensor maps a batch of telemetry rows, dropping rows that cannot be keyed.
func (t *Transformer) Sensor(rows []SensorRow) []model.Measurement {
	out := make([]model.Measurement, 0, len(rows))
	for i, row := range rows {
		m, ok := t.SensorRecord(row)
		if !ok {
			t.log.Warn("dropping sensor row without key",
				zap.Int("row", i), zap.String("turbine_id", row.TurbineID))
			continue
		}
		out = append(out, m)
	}
	return out
}

// Weather fans every hourly sample out to one measurement per active asset.
// Hours whose time cannot be parsed are skipped.
func (t *Transformer) Weather(p *WeatherPayload, assets []string) []model.Measurement {
	if p == nil || len(assets) == 0 {
		return nil
	}
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		if id := NormalizeAssetID(a); id != "" {
			ids = append(ids, id)
		}
	}

	temps := p.Hourly.Temperature2m
	winds := p.Hourly.wind()
	out := make([]model.Measurement, 0, len(p.Hourly.Time)*len(ids))
	for i, raw := range p.Hourly.Time {
		ts, ok := ParseTimestamp(raw, t.loc)
		if !ok {
			continue
		}
		temp := CelsiusToKelvin(at(temps, i))
		wind := KmhToMS(at(winds, i))
		for _, id := range ids {
			out = append(out, model.Measurement{
				AssetID:      id,
				Timestamp:    ts,
				TemperatureK: clone(temp),
				WindSpeedMS:  clone(wind),
				Source:       model.SourceWeatherAPI,
			})
		}
	}
	return out
}

func at(vals []any, i int) any {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func clone(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
