// Package alert pushes check outcomes to an operator webhook. Reports on
// stdout feed CI; the webhook feeds humans between CI runs.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/replcheck/internal/latency"
	"github.com/sells-group/replcheck/internal/reconcile"
)

// Type identifies the kind of alert.
type Type string

const (
	TypeReconcileFailed  Type = "reconcile_failed"
	TypeReconcileErrored Type = "reconcile_errored"
	TypeLagExceeded      Type = "lag_exceeded"
)

// Alert is a single webhook payload.
type Alert struct {
	Type      Type           `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns completed runs into webhook deliveries.
type Alerter struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// New creates an alerter. An empty webhookURL disables delivery.
func New(webhookURL string) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// EvaluateRuns returns one alert per failed or errored reconciliation run.
// Passed runs never alert.
func (a *Alerter) EvaluateRuns(runs []*reconcile.Run) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	for _, r := range runs {
		switch r.Status {
		case reconcile.StatusFailed:
			alerts = append(alerts, Alert{
				Type:     TypeReconcileFailed,
				Severity: "high",
				Message: fmt.Sprintf(
					"table %s failed reconciliation: %d discrepancies over %d sampled keys",
					r.Table, len(r.Records), r.SampledKeys,
				),
				Details: map[string]any{
					"run_id":         r.ID,
					"table":          r.Table,
					"counts":         r.Counts,
					"mismatch_ratio": r.MismatchRatio,
					"in_flight":      r.InFlight,
				},
				Timestamp: now,
			})
		case reconcile.StatusErrored:
			alerts = append(alerts, Alert{
				Type:     TypeReconcileErrored,
				Severity: "high",
				Message:  fmt.Sprintf("table %s reconciliation errored: %s", r.Table, r.Error),
				Details: map[string]any{
					"run_id": r.ID,
					"table":  r.Table,
					"error":  r.Error,
				},
				Timestamp: now,
			})
		}
	}
	return alerts
}

// EvaluateLatency alerts when the measurement breached the lag bound.
func (a *Alerter) EvaluateLatency(rep *latency.Report) []Alert {
	if !rep.MaxLagExceeded {
		return nil
	}
	return []Alert{{
		Type:     TypeLagExceeded,
		Severity: "high",
		Message: fmt.Sprintf(
			"replication lag p95 %s breached bound %s (%d unresolved of %d probes)",
			rep.P95, rep.MaxLag, rep.Unresolved, len(rep.Samples),
		),
		Details: map[string]any{
			"p50_ns":     rep.P50,
			"p95_ns":     rep.P95,
			"p99_ns":     rep.P99,
			"unresolved": rep.Unresolved,
			"errored":    rep.Errored,
		},
		Timestamp: a.now().UTC(),
	}}
}

// Send delivers alerts to the webhook. Returns the number successfully sent;
// delivery failures are logged, never fatal.
func (a *Alerter) Send(ctx context.Context, alerts []Alert) int {
	if a.webhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("alert: delivery failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("alert: sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "alert: marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "alert: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "alert: post")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("alert: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
