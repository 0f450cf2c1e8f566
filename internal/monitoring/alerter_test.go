package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energitech/consolidator/internal/config"
	"github.com/energitech/consolidator/internal/model"
)

func alertTypes(alerts []Alert) []AlertType {
	out := make([]AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestAlerter_Evaluate(t *testing.T) {
	recent := now.Add(-time.Hour)
	old := now.Add(-72 * time.Hour)

	tests := []struct {
		name string
		cfg  config.MonitoringConfig
		snap MetricsSnapshot
		want []AlertType
	}{
		{
			name: "healthy",
			cfg:  config.MonitoringConfig{FailureRateThreshold: 0.2, AnomalyThreshold: 100, StaleAfterHours: 24},
			snap: MetricsSnapshot{RunsSuccess: 5, LastRunStatus: model.RunStatusSuccess, LastSuccessAt: &recent, CollectedAt: now},
			want: []AlertType{},
		},
		{
			name: "last run failed",
			cfg:  config.MonitoringConfig{FailureRateThreshold: 0.9},
			snap: MetricsSnapshot{RunsSuccess: 4, RunsFailed: 1, FailureRate: 0.2, LastRunStatus: model.RunStatusFailure, LastRunID: "r9"},
			want: []AlertType{AlertLastRunFailed},
		},
		{
			name: "failure rate needs enough runs",
			cfg:  config.MonitoringConfig{FailureRateThreshold: 0.2},
			snap: MetricsSnapshot{RunsSuccess: 1, RunsFailed: 1, FailureRate: 0.5, LastRunStatus: model.RunStatusSuccess},
			want: []AlertType{},
		},
		{
			name: "failure rate breached",
			cfg:  config.MonitoringConfig{FailureRateThreshold: 0.2},
			snap: MetricsSnapshot{RunsSuccess: 2, RunsFailed: 2, FailureRate: 0.5, LastRunStatus: model.RunStatusSuccess},
			want: []AlertType{AlertFailureRate},
		},
		{
			name: "anomaly spike and stale",
			cfg:  config.MonitoringConfig{FailureRateThreshold: 1, AnomalyThreshold: 10, StaleAfterHours: 24},
			snap: MetricsSnapshot{Anomalies: 11, LastSuccessAt: &old, CollectedAt: now},
			want: []AlertType{AlertAnomalySpike, AlertStale},
		},
		{
			name: "never succeeded is stale",
			cfg:  config.MonitoringConfig{FailureRateThreshold: 1, StaleAfterHours: 6},
			snap: MetricsSnapshot{CollectedAt: now},
			want: []AlertType{AlertStale},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewAlerter(tt.cfg).Evaluate(&tt.snap)
			assert.Equal(t, tt.want, alertTypes(got))
		})
	}
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var a Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		assert.Equal(t, AlertLastRunFailed, a.Type)
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	alerts := a.Evaluate(&MetricsSnapshot{LastRunStatus: model.RunStatusFailure, LastRunID: "r1", LastRunError: "boom"})
	require.Len(t, alerts, 1)

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	a.retry.InitialBackoff = time.Millisecond
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStale}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	a.retry.InitialBackoff = time.Millisecond
	assert.Equal(t, 1, a.SendAlerts(context.Background(), []Alert{{Type: AlertLastRunFailed}}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertStale}}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertStale}}))
}
