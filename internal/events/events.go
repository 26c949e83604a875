// Package events fans run events out to in-process subscribers and NATS.
package events

import (
	"context"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// Publisher delivers one run event.
type Publisher interface {
	Publish(ctx context.Context, ev orchestrator.Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, orchestrator.Event) error { return nil }

// Multi publishes to each publisher in order and returns the first error after trying all.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev orchestrator.Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
