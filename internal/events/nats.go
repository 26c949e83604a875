package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// NATSBus publishes run events to <prefix>.<run-id>.events.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

var _ Publisher = (*NATSBus)(nil)

// Connect dials url and returns a bus that closes the connection on Close.
func Connect(url, prefix string, logger *zap.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("archagent"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	b := NewNATSBus(nc, prefix, logger)
	b.owned = true
	return b, nil
}

// NewNATSBus wraps an existing connection.
func NewNATSBus(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "archagent.runs"
	}
	return &NATSBus{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject for runID's events.
func (b *NATSBus) Subject(runID string) string {
	return b.prefix + "." + subjectToken(runID) + ".events"
}

func (b *NATSBus) Publish(_ context.Context, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(b.Subject(ev.RunID), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe calls fn for each event of runID until the returned func is called.
// Use "*" as runID to receive every run.
func (b *NATSBus) Subscribe(runID string, fn func(orchestrator.Event)) (func() error, error) {
	subject := b.prefix + ".*.events"
	if runID != "*" {
		subject = b.Subject(runID)
	}
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev orchestrator.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

// Flush waits for the server to process buffered publishes.
func (b *NATSBus) Flush() error {
	return b.nc.Flush()
}

// Close drains the connection when the bus created it.
func (b *NATSBus) Close() error {
	if !b.owned {
		return nil
	}
	return b.nc.Drain()
}

// subjectToken replaces characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
