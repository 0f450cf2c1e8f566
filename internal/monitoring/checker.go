package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates the run log on a ticker and posts alerts. An alert
// type that stays breached is sent once; it is sent again only after a
// check in which it cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger

	mu     sync.Mutex
	active map[AlertType]bool
}

// NewChecker creates a background run log checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
		active:    make(map[AlertType]bool),
	}
}

// Run checks once immediately and then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	c.log.Info("run log checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("run log checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot, sends the alerts that were not already
// active and returns them.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: collect run metrics", zap.Error(err))
		return nil
	}

	fresh := c.transition(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	c.log.Warn("monitoring: alerts raised",
		zap.Int("raised", len(fresh)),
		zap.Int("sent", sent),
		zap.Float64("failure_rate", snap.FailureRate),
		zap.Int("anomalies", snap.Anomalies),
	)
	return fresh
}

// transition records which alert types are breached now and returns the
// alerts that were not breached on the previous check.
func (c *Checker) transition(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.active[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.active {
		if !now[t] {
			c.log.Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	c.active = now
	return fresh
}
