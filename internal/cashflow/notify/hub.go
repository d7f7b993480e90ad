package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// Hub fans events out to in-process subscribers. Slow subscribers lose events
// instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan cashflow.RecalcEvent
	nextID  int
	buffer  int
	dropped int
}

// NewHub builds a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[int]chan cashflow.RecalcEvent), buffer: buffer}
}

// Subscribe registers a subscriber. The returned cancel func closes the channel.
func (h *Hub) Subscribe() (<-chan cashflow.RecalcEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan cashflow.RecalcEvent, h.buffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish implements cashflow.ChangeNotifier.
func (h *Hub) Publish(ctx context.Context, event cashflow.RecalcEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.dropped++
		}
	}
	return nil
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Multi publishes to every notifier and joins their errors.
type Multi []cashflow.ChangeNotifier

// Publish implements cashflow.ChangeNotifier.
func (m Multi) Publish(ctx context.Context, event cashflow.RecalcEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
