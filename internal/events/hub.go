package events

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// Hub is an in-process fan-out of run events keyed by run ID.
//
// Slow subscribers lose events rather than block the run: each subscription has a
// bounded buffer and a full buffer drops the newest event. Terminal events are always
// delivered and close the channel.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	buffer int
}

type subscription struct {
	ch     chan orchestrator.Event
	closed bool
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[string]map[*subscription]struct{}), buffer: buffer}
}

// Subscribe returns a channel of runID's future events and a cancel func.
// The channel is closed after the terminal event or on cancel.
func (h *Hub) Subscribe(runID string) (<-chan orchestrator.Event, func()) {
	sub := &subscription{ch: make(chan orchestrator.Event, h.buffer)}

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*subscription]struct{})
	}
	h.subs[runID][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.remove(runID, sub)
	}
	return sub.ch, cancel
}

// Publish delivers ev to every subscriber of ev.RunID.
func (h *Hub) Publish(_ context.Context, ev orchestrator.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.RunID] {
		if ev.Terminal() {
			// Make room so the terminal event is never the one dropped.
			select {
			case sub.ch <- ev:
			default:
				<-sub.ch
				sub.ch <- ev
			}
			h.remove(ev.RunID, sub)
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

// remove must be called with h.mu held.
func (h *Hub) remove(runID string, sub *subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	delete(h.subs[runID], sub)
	if len(h.subs[runID]) == 0 {
		delete(h.subs, runID)
	}
}
