package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/config"
	"github.com/energitech/consolidator/internal/db"
	"github.com/energitech/consolidator/internal/fetcher"
	"github.com/energitech/consolidator/internal/pipeline"
	"github.com/energitech/consolidator/internal/resilience"
	"github.com/energitech/consolidator/internal/source"
	"github.com/energitech/consolidator/internal/store"
)

// initStore opens the configured consolidated table backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "consolidator.db"
		}
		return store.NewSQLite(dsn, cfg.Pipeline.Table)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}, cfg.Pipeline.Table)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// engineEnv holds the store, the engine and the resources they borrow.
// Callers should defer env.Close().
type engineEnv struct {
	Store   store.Store
	Engine  *pipeline.Engine
	Metrics *pipeline.Metrics

	closers []func()
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine opens and migrates the store, builds the enabled sources and
// wires them into an Engine.
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &engineEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	sources, err := buildSources(ctx, cfg, st, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	loc, err := cfg.Pipeline.Location()
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Metrics = pipeline.NewMetrics()
	eng, err := pipeline.New(st, sources, pipeline.Options{
		TmpDir:         cfg.Paths.TmpDir,
		BatchSize:      cfg.Pipeline.BatchSize,
		FallbackAssets: cfg.Pipeline.FallbackAssets,
		Location:       loc,
	}, env.Metrics)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Engine = eng
	return env, nil
}

// buildSources constructs the enabled extractors. The sensor source reuses
// the store's pool when both point at the same database.
func buildSources(ctx context.Context, c *config.Config, st store.Store, env *engineEnv) (pipeline.Sources, error) {
	var sources pipeline.Sources

	if p := c.Sources.Production; p.Enabled {
		var drop source.RemoteDrop
		if p.FTPURL != "" {
			drop = fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: secs(p.TimeoutSecs)})
		}
		sources.Production = source.NewProductionSource(source.ProductionConfig{
			Dir:       p.Dir,
			FTPURL:    p.FTPURL,
			Prefix:    p.Prefix,
			Delimiter: p.Delimiter,
		}, drop)
	}

	if s := c.Sources.Sensor; s.Enabled {
		pool, err := sensorPool(ctx, c, st, env)
		if err != nil {
			return sources, err
		}
		if pool != nil {
			sources.Sensor = source.NewSensorSource(pool,
				time.Duration(s.LookbackMinutes)*time.Minute,
				resilience.FromRetryConfig(s.MaxAttempts, s.InitialBackoffMs, s.MaxBackoffMs),
			)
		}
	}

	if w := c.Sources.Weather; w.Enabled {
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:           secs(w.TimeoutSecs),
			MaxRetries:        w.MaxRetries,
			RequestsPerSecond: w.RequestsPerSecond,
		})
		sources.Weather = source.NewWeatherSource(source.WeatherConfig{
			BaseURL:   w.BaseURL,
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
			Timezone:  c.Pipeline.Timezone,
		}, f, resilience.NewBreaker("weather", resilience.FromBreakerConfig(w.BreakerFailures, w.BreakerResetSecs)))
	}

	return sources, nil
}

// sensorPool returns the pool telemetry is read from, or nil when no
// Postgres database is configured for it.
func sensorPool(ctx context.Context, c *config.Config, st store.Store, env *engineEnv) (db.Pool, error) {
	dsn := c.Sources.Sensor.DatabaseURL
	if ps, ok := st.(*store.PostgresStore); ok && (dsn == "" || dsn == c.Store.DatabaseURL) {
		return ps.Pool(), nil
	}
	if dsn == "" {
		zap.L().Warn("sensor source enabled but no database configured, skipping",
			zap.String("store_driver", c.Store.Driver),
		)
		return nil, nil
	}

	pool, err := store.NewPool(ctx, dsn, nil)
	if err != nil {
		return nil, eris.Wrap(err, "open sensor database")
	}
	env.closers = append(env.closers, pool.Close)
	return pool, nil
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
