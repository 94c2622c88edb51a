package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		RiskThreshold:        4,
	}, nil)

	snap := &MetricsSnapshot{
		RunsTotal:    100,
		RunsComplete: 95,
		RunsFailed:   5,
		RunsFailRate: 0.05,
		MaxMeanRisk:  3.5,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10}, nil)

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsComplete:  12,
		RunsFailed:    8,
		RunsFailRate:  0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10}, nil)

	// Only 3 finished runs, below the 5-run minimum for a failure rate alert.
	snap := &MetricsSnapshot{RunsTotal: 3, RunsComplete: 1, RunsFailed: 2, RunsFailRate: 0.666}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	m := NewMetricsForTesting()
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		RiskThreshold:        3,
		MinValidRatio:        0.5,
	}, m)

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsComplete:  10,
		RunsFailed:    10,
		RunsFailRate:  0.5,
		MaxMeanRisk:   4.2,
		AvgValidRatio: 0.2,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 3)
	types := make(map[AlertType]bool)
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertHighRisk])
	assert.True(t, types[AlertLowCoverage])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues(string(AlertHighRisk))))
}

func TestAlerter_Evaluate_ZeroThresholdsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 1}, nil)
	snap := &MetricsSnapshot{RunsComplete: 3, MaxMeanRisk: 999, AvgValidRatio: 0}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, nil)
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertHighRisk, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, nil)
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertHighRisk}}))
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"}, nil)
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}, nil)
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertHighRisk}}))
}
