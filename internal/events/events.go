// Package events publishes job lifecycle events to NATS so other systems can
// follow pipeline progress without polling the API.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

// Event is one job lifecycle notification.
type Event struct {
	JobID     string          `json:"job_id"`
	Status    store.JobStatus `json:"status"`
	Phase     string          `json:"phase,omitempty"`
	Progress  int             `json:"progress"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher sends job events. The zero Publisher (and a nil one) drops
// everything, so callers never need to branch on whether events are enabled.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect builds a Publisher from config. An empty URL disables publishing
// and returns a nil Publisher without error.
func Connect(cfg config.EventsConfig) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", cfg.URL, err)
	}
	slog.Info("Event publisher connected", slog.String("url", cfg.URL),
		slog.String("subject", cfg.Subject))
	return &Publisher{conn: conn, subject: cfg.Subject}, nil
}

// Publish emits one event. Failures are logged, never propagated: events are
// advisory and must not fail the pipeline.
func (p *Publisher) Publish(ev Event) {
	if p == nil || p.conn == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Event encode failed", logfields.JobID(ev.JobID), logfields.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", p.subject, ev.Status)
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Warn("Event publish failed", logfields.JobID(ev.JobID), logfields.Error(err))
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
