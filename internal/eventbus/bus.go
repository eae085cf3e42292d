package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler reacts to published events. Handlers with a lower priority
// run first.
type Handler interface {
	ID() string
	Handles() []EventType
	Priority() int
	Handle(ctx context.Context, event *Event) error
}

// Bus dispatches events to registered handlers and fans them out to
// streaming subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	subs     map[int]chan *Event
	nextSub  int
	logger   *slog.Logger
}

// New creates an empty event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan *Event),
		logger: logger,
	}
}

// Register adds a handler. Handlers are sorted by priority on each
// dispatch, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch sends an event to every handler that handles its type, in
// priority order. Handler errors are logged but do not stop the chain.
// Streaming subscribers that cannot keep up miss the event rather than
// block the publisher.
func (b *Bus) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: nil event")
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	subs := make([]chan *Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("eventbus: context cancelled: %w", err)
		}
		if err := h.Handle(ctx, event); err != nil {
			b.logger.Warn("event handler failed",
				"handler", h.ID(), "event", event.Type, "error", err)
		}
	}

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe returns a buffered stream of events and a cancel func that
// releases it.
func (b *Bus) Subscribe() (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan *Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// matchingHandlers must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
