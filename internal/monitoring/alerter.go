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

	"github.com/sells-group/dnm-router/internal/config"
	"github.com/sells-group/dnm-router/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStoreUnavailable AlertType = "store_unavailable"
	AlertCircuitOpen      AlertType = "circuit_open"
	AlertReviewBacklog    AlertType = "review_backlog"
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
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     time.Second,
			OnRetry:        resilience.RetryLogger("monitoring.webhook"),
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if !snap.StoreAvailable() {
		alerts = append(alerts, Alert{
			Type:     AlertStoreUnavailable,
			Severity: "high",
			Message:  "Decision memory unreachable: " + snap.StoreError,
			Details: map[string]any{
				"error": snap.StoreError,
			},
			Timestamp: now,
		})
	}

	// An open breaker means answers cannot be persisted.
	if snap.CircuitState == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   "Decision memory circuit breaker is open; review answers are being rejected",
			Timestamp: now,
		})
	}

	if a.cfg.PendingQuestionsThreshold > 0 && snap.PendingQuestions > a.cfg.PendingQuestionsThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d pending review questions across %d sessions exceed threshold %d",
				snap.PendingQuestions, snap.ActiveSessions, a.cfg.PendingQuestionsThreshold,
			),
			Details: map[string]any{
				"pending_questions": snap.PendingQuestions,
				"active_sessions":   snap.ActiveSessions,
				"threshold":         a.cfg.PendingQuestionsThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// webhookPayload carries the alert fields plus a one-line text summary that
// chat webhooks render directly.
type webhookPayload struct {
	Alert
	Text string `json:"text"`
}

func summary(a Alert) string {
	return fmt.Sprintf("[dnm-router] %s %s: %s", a.Severity, a.Type, a.Message)
}

// SendAlerts delivers alerts to the configured webhook URL, retrying 5xx
// responses and transport errors. Returns the number delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
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

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(webhookPayload{Alert: alert, Text: summary(alert)})
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
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
