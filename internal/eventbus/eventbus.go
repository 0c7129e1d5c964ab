// Package eventbus is a thin wrapper over a plain NATS connection used
// to announce observability ticks (the renewer's cron heartbeat) to
// anything else on the deployment that cares to listen. It is a no-op
// when NATS_URL is unset, since the capture plane itself never depends
// on NATS for correctness (spec.md treats NATS as wholly optional
// ambient infrastructure). Grounded on
// packages/go-core/natsclient/client.go, trimmed to the plain-NATS
// (non-JetStream) publish path the notification-service's cron scheduler
// uses for ephemeral tick events.
package eventbus

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bus publishes fire-and-forget events. A nil *nats.Conn makes every
// Publish a no-op, so callers never need a separate "enabled" check.
type Bus struct {
	conn *nats.Conn
	log  *zap.Logger
}

// Connect dials url, or returns a no-op Bus if url is empty.
func Connect(url string, log *zap.Logger) (*Bus, error) {
	if url == "" {
		return &Bus{log: log}, nil
	}
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info("NATS connected", zap.String("url", url))
	return &Bus{conn: nc, log: log}, nil
}

// Publish sends data on subject, logging (not returning) any failure —
// event-bus ticks are best-effort observability, never load-bearing.
func (b *Bus) Publish(subject string, data []byte) {
	if b.conn == nil {
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the underlying connection, if any.
func (b *Bus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
