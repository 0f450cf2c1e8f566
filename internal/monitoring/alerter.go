package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/config"
	"github.com/energitech/consolidator/internal/model"
	"github.com/energitech/consolidator/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLastRunFailed AlertType = "last_run_failed"
	AlertFailureRate   AlertType = "failure_rate"
	AlertAnomalySpike  AlertType = "anomaly_spike"
	AlertStale         AlertType = "stale_consolidation"
)

// minFinishedRuns is how many finished runs the failure-rate check needs.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.FromRetryConfig(3, 200, 2000)
	retry.OnRetry = resilience.RetryLogger("webhook", "send alert")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.LastRunStatus == model.RunStatusFailure {
		alerts = append(alerts, Alert{
			Type:     AlertLastRunFailed,
			Severity: "high",
			Message:  fmt.Sprintf("Consolidation run %s failed: %s", snap.LastRunID, snap.LastRunError),
			Details: map[string]any{
				"run_id": snap.LastRunID,
				"error":  snap.LastRunError,
			},
			Timestamp: now,
		})
	}

	finished := snap.RunsSuccess + snap.RunsFailed
	if finished >= minFinishedRuns && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.AnomalyThreshold > 0 && snap.Anomalies > a.cfg.AnomalyThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAnomalySpike,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d values nulled by the quality gate in last %dh (threshold %d)",
				snap.Anomalies, snap.LookbackHours, a.cfg.AnomalyThreshold,
			),
			Details: map[string]any{
				"anomalies": snap.Anomalies,
				"threshold": a.cfg.AnomalyThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 {
		limit := time.Duration(a.cfg.StaleAfterHours) * time.Hour
		if snap.LastSuccessAt == nil || snap.CollectedAt.Sub(*snap.LastSuccessAt) > limit {
			details := map[string]any{"stale_after_hours": a.cfg.StaleAfterHours}
			if snap.LastSuccessAt != nil {
				details["last_success_at"] = snap.LastSuccessAt.Format(time.RFC3339)
			}
			alerts = append(alerts, Alert{
				Type:      AlertStale,
				Severity:  "medium",
				Message:   fmt.Sprintf("No successful consolidation in the last %dh", a.cfg.StaleAfterHours),
				Details:   details,
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL. 429 and 5xx
// responses are retried.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "monitoring: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
