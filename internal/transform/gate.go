package transform

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/energitech/consolidator/internal/model"
)

// RangeRule bounds one measured field. Values outside [Min, Max] are nulled.
type RangeRule struct {
	Field string
	Min   float64
	Max   float64
	get   func(*model.Measurement) **float64
}

func (r RangeRule) apply(m *model.Measurement) bool {
	p := r.get(m)
	if *p == nil {
		return false
	}
	v := **p
	if v >= r.Min && v <= r.Max {
		return false
	}
	*p = nil
	return true
}

// Fields checked by the default gate.
const (
	FieldWindSpeed   = "wind_speed_ms"
	FieldTemperature = "temperature_k"
	FieldVibration   = "vibration_mm_s"
	FieldEnergy      = "energy_kwh"
	FieldConsumption = "consumption_kwh"
	FieldOutage      = "outage_flags"
)

var rangeFields = map[string]func(*model.Measurement) **float64{
	FieldWindSpeed:   func(m *model.Measurement) **float64 { return &m.WindSpeedMS },
	FieldTemperature: func(m *model.Measurement) **float64 { return &m.TemperatureK },
	FieldVibration:   func(m *model.Measurement) **float64 { return &m.VibrationMMS },
	FieldEnergy:      func(m *model.Measurement) **float64 { return &m.EnergyKWh },
	FieldConsumption: func(m *model.Measurement) **float64 { return &m.ConsumptionKWh },
}

// NewRangeRule builds a rule for one of the numeric measured fields.
func NewRangeRule(field string, lo, hi float64) (RangeRule, error) {
	get, ok := rangeFields[field]
	if !ok {
		return RangeRule{}, eris.Errorf("transform: no range rule for field %q (known: %s)", field, knownRangeFields())
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return RangeRule{}, eris.Errorf("transform: invalid range [%v, %v] for %s", lo, hi, field)
	}
	return RangeRule{Field: field, Min: lo, Max: hi, get: get}, nil
}

func knownRangeFields() string {
	names := make([]string, 0, len(rangeFields))
	for f := range rangeFields {
		names = append(names, f)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// DefaultRules are the physical plausibility ranges for turbine measurements.
func DefaultRules() []RangeRule {
	return []RangeRule{
		{Field: FieldWindSpeed, Min: 0, Max: 42, get: rangeFields[FieldWindSpeed]},
		{Field: FieldTemperature, Min: 200, Max: 330, get: rangeFields[FieldTemperature]},
		{Field: FieldVibration, Min: 0, Max: 25, get: rangeFields[FieldVibration]},
		{Field: FieldEnergy, Min: 0, Max: math.Inf(1), get: rangeFields[FieldEnergy]},
		{Field: FieldConsumption, Min: 0, Max: math.Inf(1), get: rangeFields[FieldConsumption]},
	}
}

// GateResult counts the values nulled by a gate pass.
type GateResult struct {
	Total   int
	ByField map[string]int
}

// Gate nulls implausible values. Records are never dropped.
type Gate struct {
	rules []RangeRule
}

// NewGate builds a gate from rules; no rules means DefaultRules. Rules
// built as struct literals are resolved by Field; an unknown field or an
// inverted range is an error.
func NewGate(rules ...RangeRule) (*Gate, error) {
	if len(rules) == 0 {
		return &Gate{rules: DefaultRules()}, nil
	}
	resolved := make([]RangeRule, 0, len(rules))
	for _, r := range rules {
		rr, err := NewRangeRule(r.Field, r.Min, r.Max)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, rr)
	}
	return &Gate{rules: resolved}, nil
}

// Apply checks every record of batch in place and returns it with the
// anomaly counts. A record claiming both a planned and an unplanned outage
// has both flags nulled and counts as one anomaly.
func (g *Gate) Apply(batch []model.Measurement) ([]model.Measurement, GateResult) {
	res := GateResult{ByField: make(map[string]int)}
	for i := range batch {
		m := &batch[i]
		for _, r := range g.rules {
			if r.apply(m) {
				res.Total++
				res.ByField[r.Field]++
			}
		}
		if m.PlannedOutage != nil && m.UnplannedOutage != nil && *m.PlannedOutage && *m.UnplannedOutage {
			m.PlannedOutage = nil
			m.UnplannedOutage = nil
			res.Total++
			res.ByField[FieldOutage]++
		}
	}
	return batch, res
}
