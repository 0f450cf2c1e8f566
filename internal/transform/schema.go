package transform

import (
	"github.com/energitech/consolidator/internal/model"
)

// Enforce returns m in canonical form: trimmed upper-case asset id, UTC
// timestamp at second precision, and no non-finite measured values. Every
// unset field stays nil. Enforce is idempotent.
func Enforce(m model.Measurement) model.Measurement {
	out := model.Measurement{
		AssetID:         NormalizeAssetID(m.AssetID),
		TemperatureK:    ToFloat(m.TemperatureK),
		WindSpeedMS:     ToFloat(m.WindSpeedMS),
		VibrationMMS:    ToFloat(m.VibrationMMS),
		ConsumptionKWh:  ToFloat(m.ConsumptionKWh),
		EnergyKWh:       ToFloat(m.EnergyKWh),
		PlannedOutage:   cloneBool(m.PlannedOutage),
		UnplannedOutage: cloneBool(m.UnplannedOutage),
		Source:          m.Source,
	}
	if !m.Timestamp.IsZero() {
		out.Timestamp = canonicalTime(m.Timestamp)
	}
	return out
}

// EnforceAll applies Enforce to every record of batch in place.
func EnforceAll(batch []model.Measurement) []model.Measurement {
	for i := range batch {
		batch[i] = Enforce(batch[i])
	}
	return batch
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
