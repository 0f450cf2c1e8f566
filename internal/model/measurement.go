// Package model defines the canonical measurement record and run bookkeeping types.
package model

import (
	"time"
)

// Source identifies the upstream feed that produced a measurement.
type Source string

const (
	SourceProductionLedger Source = "production_ledger"
	SourceSensorTelemetry  Source = "sensor_telemetry"
	SourceWeatherAPI       Source = "weather_api"
)

// Sources lists every feed in extraction order.
var Sources = []Source{SourceSensorTelemetry, SourceProductionLedger, SourceWeatherAPI}

// Valid reports whether s is a known feed.
func (s Source) Valid() bool {
	switch s {
	case SourceProductionLedger, SourceSensorTelemetry, SourceWeatherAPI:
		return true
	default:
		return false
	}
}

// Key is the identity of a consolidated record.
type Key struct {
	AssetID   string
	Timestamp time.Time
}

// String renders the key as "ASSET@RFC3339".
func (k Key) String() string {
	return k.AssetID + "@" + k.Timestamp.UTC().Format(time.RFC3339)
}

// Measurement is the canonical record every source is normalized into.
// A nil pointer field means the value is absent, which is distinct from zero.
type Measurement struct {
	AssetID         string    `json:"asset_id"`
	Timestamp       time.Time `json:"timestamp"`
	TemperatureK    *float64  `json:"temperature_k"`
	WindSpeedMS     *float64  `json:"wind_speed_ms"`
	VibrationMMS    *float64  `json:"vibration_mm_s"`
	ConsumptionKWh  *float64  `json:"consumption_kwh"`
	EnergyKWh       *float64  `json:"energy_kwh"`
	PlannedOutage   *bool     `json:"planned_outage"`
	UnplannedOutage *bool     `json:"unplanned_outage"`
	Source          Source    `json:"source"`
}

// Key returns the (asset, timestamp) identity of m.
func (m Measurement) Key() Key {
	return Key{AssetID: m.AssetID, Timestamp: m.Timestamp.UTC()}
}

// Columns is the canonical column order shared by every store backend.
var Columns = []string{
	"asset_id",
	"timestamp",
	"temperature_k",
	"wind_speed_ms",
	"vibration_mm_s",
	"consumption_kwh",
	"energy_kwh",
	"planned_outage",
	"unplanned_outage",
	"source",
}

// KeyColumns are the columns forming the unique constraint.
var KeyColumns = []string{"asset_id", "timestamp"}

// MeasuredColumns are the columns merged with COALESCE on conflict.
var MeasuredColumns = []string{
	"temperature_k",
	"wind_speed_ms",
	"vibration_mm_s",
	"consumption_kwh",
	"energy_kwh",
	"planned_outage",
	"unplanned_outage",
}

// Values returns m's fields in Columns order.
func (m Measurement) Values() []any {
	return []any{
		m.AssetID,
		m.Timestamp.UTC(),
		m.TemperatureK,
		m.WindSpeedMS,
		m.VibrationMMS,
		m.ConsumptionKWh,
		m.EnergyKWh,
		m.PlannedOutage,
		m.UnplannedOutage,
		string(m.Source),
	}
}

// Merge applies the upsert rule to a stored record: every measured field
// becomes coalesce(incoming, stored) and the source is always overwritten.
func Merge(stored, incoming Measurement) Measurement {
	out := stored
	out.TemperatureK = coalesce(incoming.TemperatureK, stored.TemperatureK)
	out.WindSpeedMS = coalesce(incoming.WindSpeedMS, stored.WindSpeedMS)
	out.VibrationMMS = coalesce(incoming.VibrationMMS, stored.VibrationMMS)
	out.ConsumptionKWh = coalesce(incoming.ConsumptionKWh, stored.ConsumptionKWh)
	out.EnergyKWh = coalesce(incoming.EnergyKWh, stored.EnergyKWh)
	out.PlannedOutage = coalesce(incoming.PlannedOutage, stored.PlannedOutage)
	out.UnplannedOutage = coalesce(incoming.UnplannedOutage, stored.UnplannedOutage)
	out.Source = incoming.Source
	return out
}

func coalesce[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
