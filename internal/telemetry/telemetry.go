// Package telemetry publishes pipeline-observability events over NATS.
//
// Unlike the teacher's ETL sync-status events, these are fire-and-forget
// signals describing how a single ProcessQuery turn moved through the
// coordinator: which stage completed, whether a clarification fired, and
// which confidence tier the final answer landed in. Nothing downstream of
// this package blocks on delivery — a publish failure is logged and
// swallowed, since losing a telemetry event must never fail a user's turn.
//
// Usage:
//
//	pub, err := telemetry.NewPublisher(cfg.NATS, logger)
//	if err != nil {
//	    log.Fatal("failed to create telemetry publisher:", err)
//	}
//	defer pub.Close()
//
//	pub.StageCompleted(ctx, telemetry.StageEvent{ThreadID: threadID, Stage: "template_search"})
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nl2sqlcore/pipeline/internal/config"
)

// Event subjects.
const (
	// SubjectStageCompleted is published after each coordinator stage ends.
	SubjectStageCompleted = "pipeline.stage.completed"
	// SubjectClarificationFired is published whenever process_query returns
	// a ClarificationRequest instead of a terminal response.
	SubjectClarificationFired = "pipeline.clarification.fired"
	// SubjectConfidenceTier is published once per turn that ends in a
	// successful response, with the confidence tier (auto_apply, confirm,
	// clarify) that response's confidence falls in. Turns ending in a
	// clarification or an error publish no tier event.
	SubjectConfidenceTier = "pipeline.confidence.tier"
)

// Publisher publishes pipeline telemetry events to NATS.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
	mu     sync.Mutex
}

// NewPublisher connects to NATS and returns a telemetry Publisher. A nil
// Publisher (returned alongside a non-nil error) must never be used; callers
// that want telemetry to be best-effort at startup should fall back to
// Noop{} instead of ignoring the error.
func NewPublisher(cfg config.NATSConfig, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}

	nc, err := nats.Connect(url,
		nats.Name("nl2sql-pipeline-telemetry"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("telemetry NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("telemetry NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to connect to NATS: %w", err)
	}

	logger.Info("telemetry publisher connected", slog.String("url", url))

	return &Publisher{conn: nc, logger: logger.With(slog.String("component", "telemetry"))}, nil
}

// Close closes the underlying NATS connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

func (p *Publisher) publish(subject string, data interface{}) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		p.logger.Warn("telemetry: failed to marshal event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}

	if err := conn.Publish(subject, payload); err != nil {
		p.logger.Warn("telemetry: publish failed", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}

	p.logger.Debug("telemetry event published", slog.String("subject", subject))
}

// StageEvent describes a single coordinator stage's completion.
type StageEvent struct {
	ThreadID   string    `json:"thread_id"`
	TurnID     string    `json:"turn_id,omitempty"`
	Stage      string    `json:"stage"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// ClarificationEvent describes a clarification returned instead of a
// terminal response.
type ClarificationEvent struct {
	ThreadID string    `json:"thread_id"`
	TurnID   string    `json:"turn_id,omitempty"`
	Stage    string    `json:"stage"`
	At       time.Time `json:"at"`
}

// ConfidenceTierEvent describes which routing tier a finished turn fell
// into, per spec §4.1's confidence table.
type ConfidenceTierEvent struct {
	ThreadID    string    `json:"thread_id"`
	TurnID      string    `json:"turn_id,omitempty"`
	QuerySource string    `json:"query_source"`
	Confidence  float64   `json:"confidence"`
	Tier        string    `json:"tier"` // auto_apply, confirm, clarify
	At          time.Time `json:"at"`
}

// StageCompleted publishes a StageEvent. ctx is accepted for signature
// symmetry with the rest of the pipeline's I/O calls, though nats.Conn's
// core Publish is not itself context-aware.
func (p *Publisher) StageCompleted(_ context.Context, ev StageEvent) {
	ev.At = nowUTC()
	p.publish(SubjectStageCompleted, ev)
}

// ClarificationFired publishes a ClarificationEvent.
func (p *Publisher) ClarificationFired(_ context.Context, ev ClarificationEvent) {
	ev.At = nowUTC()
	p.publish(SubjectClarificationFired, ev)
}

// ConfidenceTier publishes a ConfidenceTierEvent.
func (p *Publisher) ConfidenceTier(_ context.Context, ev ConfidenceTierEvent) {
	ev.At = nowUTC()
	p.publish(SubjectConfidenceTier, ev)
}

// Tier classifies a confidence score into the routing tier named in spec
// §4.1's confidence table.
func Tier(confidence, confirmLow, confirmHigh float64) string {
	switch {
	case confidence >= confirmHigh:
		return "auto_apply"
	case confidence >= confirmLow:
		return "confirm"
	default:
		return "clarify"
	}
}

var nowUTC = func() time.Time { return time.Now().UTC() }
