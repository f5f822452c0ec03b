// Package notify delivers lifecycle transition events to the audit and
// notification layer. Delivery is best-effort: sink failures are
// counted and logged, never propagated into the transition itself.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/metrics"
)

// Sink receives transition events.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver handles one transition. Errors are reported by the
	// dispatcher; they never fail the transition.
	Deliver(ctx context.Context, t action.Transition) error
}

// Dispatch sends the transition to every sink, logging and counting
// failures. It is called from the controller's transition paths and
// must stay cheap; webhook sinks bound their own request time.
func Dispatch(ctx context.Context, sinks []Sink, t action.Transition) {
	for _, sink := range sinks {
		if err := sink.Deliver(ctx, t); err != nil {
			metrics.NotifyDeliveriesTotal.WithLabelValues(sink.Name(), "error").Inc()
			log.Warn().Err(err).
				Str("sink", sink.Name()).
				Str("subject", t.Action.SubjectID).
				Str("old", string(t.OldStatus)).
				Str("new", string(t.NewStatus)).
				Msg("notify: delivery failed")
			continue
		}
		metrics.NotifyDeliveriesTotal.WithLabelValues(sink.Name(), "ok").Inc()
	}
}

// LogSink writes transitions to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(ctx context.Context, t action.Transition) error {
	log.Info().
		Str("subject", t.Action.SubjectID).
		Str("scope", t.Action.ScopeID).
		Str("kind", string(t.Action.Kind)).
		Str("old", string(t.OldStatus)).
		Str("new", string(t.NewStatus)).
		Uint64("revision", t.Action.Revision).
		Time("at", t.At).
		Msg("notify: action transition")
	return nil
}

// Recorder persists transitions; implemented by the bolt audit store.
type Recorder interface {
	Record(ctx context.Context, t action.Transition) error
}

// AuditSink persists every transition to the audit trail.
type AuditSink struct {
	Store Recorder
}

func (AuditSink) Name() string { return "audit" }

func (s AuditSink) Deliver(ctx context.Context, t action.Transition) error {
	return s.Store.Record(ctx, t)
}

// WebhookSink posts transition events as JSON to an operator endpoint.
type WebhookSink struct {
	URL    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink with a bounded-per-request
// client so slow endpoints cannot back up the dispatcher.
func NewWebhookSink(url string) *WebhookSink {
	client := &http.Client{
		Transport: cleanhttp.DefaultPooledTransport(),
		Timeout:   5 * time.Second,
	}
	return &WebhookSink{URL: url, client: client}
}

func (*WebhookSink) Name() string { return "webhook" }

// webhookPayload is the wire form of a transition event.
type webhookPayload struct {
	SubjectID string     `json:"subject_id"`
	ScopeID   string     `json:"scope_id"`
	Kind      string     `json:"kind"`
	OldStatus string     `json:"old_status"`
	NewStatus string     `json:"new_status"`
	IssuerID  string     `json:"issuer_id"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	At        time.Time  `json:"at"`
}

func (s *WebhookSink) Deliver(ctx context.Context, t action.Transition) error {
	payload, err := json.Marshal(webhookPayload{
		SubjectID: t.Action.SubjectID,
		ScopeID:   t.Action.ScopeID,
		Kind:      string(t.Action.Kind),
		OldStatus: string(t.OldStatus),
		NewStatus: string(t.NewStatus),
		IssuerID:  t.Action.IssuerID,
		Reason:    t.Action.Reason,
		ExpiresAt: t.Action.ExpiresAt,
		At:        t.At,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
