package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energitech/consolidator/internal/fetcher"
	"github.com/energitech/consolidator/internal/resilience"
)

const forecastJSON = `{
  "latitude": 48.86, "longitude": 2.35, "timezone": "Europe/Paris",
  "hourly": {
    "time": ["2024-03-01T00:00", "2024-03-01T01:00"],
    "temperature_2m": [5.2, null],
    "wind_speed_10m": [18.0, 21.6]
  }
}`

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		MaxRetries:        1,
		RequestsPerSecond: 1000,
		Timeout:           5 * time.Second,
	})
}

func TestWeatherSource_URL(t *testing.T) {
	s := NewWeatherSource(WeatherConfig{Latitude: 48.8566, Longitude: 2.3522, Timezone: "Europe/Paris"}, testFetcher(), nil)
	u, err := s.URL()
	require.NoError(t, err)
	assert.Equal(t,
		"https://api.open-meteo.com/v1/forecast?hourly=temperature_2m%2Cwind_speed_10m&latitude=48.8566&longitude=2.3522&timezone=Europe%2FParis",
		u)
}

func TestWeatherSource_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Europe/Paris", r.URL.Query().Get("timezone"))
		assert.Equal(t, "temperature_2m,wind_speed_10m", r.URL.Query().Get("hourly"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(forecastJSON))
	}))
	defer srv.Close()

	s := NewWeatherSource(WeatherConfig{BaseURL: srv.URL, Latitude: 48.86, Longitude: 2.35, Timezone: "Europe/Paris"}, testFetcher(), nil)
	p, err := s.Extract(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-03-01T00:00", "2024-03-01T01:00"}, p.Hourly.Time)
	require.Len(t, p.Hourly.Temperature2m, 2)
	assert.Nil(t, p.Hourly.Temperature2m[1])
	assert.Len(t, p.Hourly.WindSpeed10m, 2)
}

func TestWeatherSource_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker("weather-test", resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	s := NewWeatherSource(WeatherConfig{BaseURL: srv.URL}, testFetcher(), breaker)

	for range 2 {
		_, err := s.Extract(context.Background())
		require.Error(t, err)
	}

	_, err := s.Extract(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
}
