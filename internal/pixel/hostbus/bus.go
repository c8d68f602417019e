// Package hostbus is an in-memory host event bus for pixel runtimes. Deliveries
// are serialised per bus, like the single-threaded loop of a browser page.
package hostbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"example.com/better-analytics/internal/pixel"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("host bus closed")

// Bus implements pixel.Analytics. Handlers run while the delivery lock is held,
// so a handler must not call Deliver or Publish on the same bus synchronously.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]pixel.Handler
	closed bool

	deliverMu sync.Mutex
	now       func() time.Time
}

func New() *Bus {
	return &Bus{subs: make(map[string][]pixel.Handler), now: time.Now}
}

// Subscribe registers h for name. There is no unsubscribe.
func (b *Bus) Subscribe(name string, h pixel.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], h)
}

// Subscribers reports how many handlers listen on name.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// Deliver hands ev to every subscriber of ev.Name in registration order and
// collects their acknowledgments.
func (b *Bus) Deliver(ev pixel.Event) []pixel.Ack {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}
	handlers := b.handlers(ev.Name)

	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	acks := make([]pixel.Ack, 0, len(handlers))
	for _, h := range handlers {
		acks = append(acks, h(ev))
	}
	return acks
}

// Publish delivers payload under name and reports whether any subscriber accepted it.
func (b *Bus) Publish(ctx context.Context, name string, payload any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return false, ErrClosed
	}
	acks := b.Deliver(pixel.Event{Name: name, Data: payload})
	return len(acks) > 0, nil
}

// Close makes later publishes fail; page unload in the hosting page.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *Bus) handlers(name string) []pixel.Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]pixel.Handler(nil), b.subs[name]...)
}
