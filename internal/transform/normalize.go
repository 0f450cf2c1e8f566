// Package transform normalizes production, sensor and weather rows into
// canonical measurements and cleans the merged batch before persistence.
package transform

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// offsetLayouts carry an explicit UTC offset.
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
	// ISO-8601 basic offsets and the hour-only form Postgres prints.
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02T15:04Z0700",
	"2006-01-02 15:04Z0700",
	"2006-01-02T15:04:05Z07",
	"2006-01-02 15:04:05Z07",
	"2006-01-02T15:04Z07",
	"2006-01-02 15:04Z07",
}

// naiveLayouts have no offset and are read in the ingestion time zone.
var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// CelsiusToKelvin converts a temperature to Kelvin rounded to 2 decimals.
// Non-numeric input yields nil.
func CelsiusToKelvin(c any) *float64 {
	v := ToFloat(c)
	if v == nil {
		return nil
	}
	k := round2(*v + 273.15)
	return &k
}

// KmhToMS converts a speed in km/h to m/s rounded to 2 decimals.
// Non-numeric input yields nil.
func KmhToMS(kmh any) *float64 {
	v := ToFloat(kmh)
	if v == nil {
		return nil
	}
	ms := round2(*v / 3.6)
	return &ms
}

// ToFloat reads a numeric value from a loosely typed input. Blank strings,
// NaN, infinities and anything non-numeric yield nil.
func ToFloat(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case *float64:
		if x == nil {
			return nil
		}
		f = *x
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return nil
		}
		f = p
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		if !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = p
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ParseTimestamp converts a structured time or a string into a UTC instant
// truncated to the second. Strings without an offset are read in loc.
// Unparseable input is logged and reported as absent.
func ParseTimestamp(value any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return canonicalTime(v), true
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return canonicalTime(*v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range offsetLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return canonicalTime(t), true
			}
		}
		for _, layout := range naiveLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return canonicalTime(t), true
			}
		}
		zap.L().Warn("transform: unparseable timestamp", zap.String("value", v))
		return time.Time{}, false
	default:
		if value != nil {
			zap.L().Warn("transform: unsupported timestamp type", zap.Any("value", value))
		}
		return time.Time{}, false
	}
}

// CoerceFlag reads a 0/1-style outage flag. Missing, blank and non-numeric
// values are false; numeric values are true when their integer part is non-zero.
func CoerceFlag(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case *bool:
		return v != nil && *v
	}
	f := ToFloat(value)
	if f == nil {
		return false
	}
	return math.Trunc(*f) != 0
}

// NormalizeAssetID trims and upper-cases an asset identifier.
func NormalizeAssetID(id string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(id))
}

func canonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
