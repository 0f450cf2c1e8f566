package source

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/fetcher"
	"github.com/energitech/consolidator/internal/resilience"
	"github.com/energitech/consolidator/internal/transform"
)

// DefaultWeatherURL is the Open-Meteo forecast endpoint.
const DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"

// weatherVariables are the hourly series requested from the API.
const weatherVariables = "temperature_2m,wind_speed_10m"

// WeatherConfig locates the site whose forecast is read.
type WeatherConfig struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	// Timezone is passed to the API so hourly times come back as naive
	// local times in the same zone the transformer localizes with.
	Timezone string
}

// WeatherSource reads the hourly forecast for the wind farm site.
type WeatherSource struct {
	cfg     WeatherConfig
	fetcher fetcher.Fetcher
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewWeatherSource creates a WeatherSource. Calls go through breaker.
func NewWeatherSource(cfg WeatherConfig, f fetcher.Fetcher, breaker *gobreaker.CircuitBreaker) *WeatherSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeatherURL
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if breaker == nil {
		breaker = resilience.NewBreaker("weather", resilience.BreakerConfig{})
	}
	return &WeatherSource{
		cfg:     cfg,
		fetcher: f,
		breaker: breaker,
		log:     zap.L().With(zap.String("component", "source.weather")),
	}
}

// URL returns the request URL for the configured site.
func (s *WeatherSource) URL() (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", eris.Wrap(err, "weather: parse base url")
	}
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(s.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(s.cfg.Longitude, 'f', -1, 64))
	q.Set("hourly", weatherVariables)
	q.Set("timezone", s.cfg.Timezone)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Extract fetches and decodes the hourly forecast document.
func (s *WeatherSource) Extract(ctx context.Context) (*transform.WeatherPayload, error) {
	reqURL, err := s.URL()
	if err != nil {
		return nil, err
	}

	payload, err := resilience.Execute(s.breaker, func() (*transform.WeatherPayload, error) {
		return fetcher.FetchJSON[transform.WeatherPayload](ctx, s.fetcher, reqURL)
	})
	if err != nil {
		return nil, eris.Wrap(err, "weather: fetch forecast")
	}

	s.log.Info("weather forecast read",
		zap.Int("hours", len(payload.Hourly.Time)),
		zap.String("timezone", payload.Timezone),
	)
	return payload, nil
}
