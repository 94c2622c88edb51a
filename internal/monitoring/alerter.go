package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertHighRisk       AlertType = "high_risk"
	AlertLowCoverage    AlertType = "low_coverage"
)

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
	cfg     config.MonitoringConfig
	client  *http.Client
	clock   clockwork.Clock
	metrics *Metrics
}

// NewAlerter creates a new Alerter with the given monitoring config. Metrics
// may be nil.
func NewAlerter(cfg config.MonitoringConfig, metrics *Metrics) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.clock.Now().UTC()

	// Check run failure rate.
	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= 5 && snap.RunsFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunsFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunsFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Check composite risk level.
	if a.cfg.RiskThreshold > 0 && snap.MaxMeanRisk > a.cfg.RiskThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertHighRisk,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Mean composite risk %.2f exceeds threshold %.2f in last %dh",
				snap.MaxMeanRisk, a.cfg.RiskThreshold, snap.LookbackHours,
			),
			Details: map[string]any{
				"max_mean_risk": snap.MaxMeanRisk,
				"avg_mean_risk": snap.AvgMeanRisk,
				"threshold":     a.cfg.RiskThreshold,
			},
			Timestamp: now,
		})
	}

	// Check coverage of valid pixels.
	if a.cfg.MinValidRatio > 0 && snap.RunsComplete > 0 && snap.AvgValidRatio < a.cfg.MinValidRatio {
		alerts = append(alerts, Alert{
			Type:     AlertLowCoverage,
			Severity: "low",
			Message: fmt.Sprintf(
				"Valid pixel ratio %.1f%% below minimum %.1f%% in last %dh",
				snap.AvgValidRatio*100, a.cfg.MinValidRatio*100, snap.LookbackHours,
			),
			Details: map[string]any{
				"valid_ratio": snap.AvgValidRatio,
				"minimum":     a.cfg.MinValidRatio,
			},
			Timestamp: now,
		})
	}

	if a.metrics != nil {
		for _, al := range alerts {
			a.metrics.AlertsTotal.WithLabelValues(string(al.Type)).Inc()
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

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
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
