// Package flow provides the in-process plumbing between connector
// components: an event broker and a maintenance scheduler.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"slackflow/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Broker is an in-process, goroutine-safe event bus connecting the Slack
// components to each other and to observers.
type Broker struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewBroker creates a broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Publish fans out an event to matching typed subscribers and all-event
// subscribers. Each handler runs in its own goroutine. Panicking handlers
// are recovered.
//
// The closed check and the wait-group adds happen under the same lock
// that Close takes to flip closed, so no handler can join the wait group
// after Close has started waiting.
func (b *Broker) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		return
	}

	for _, sub := range b.typed[event.Type] {
		b.dispatch(ctx, event, sub)
	}
	for _, sub := range b.allSubs {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Broker) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Broker) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				b.typed[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Broker) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Close prevents new publishes and waits for in-flight handlers to finish.
// Close is idempotent.
func (b *Broker) Close() {
	b.mu.Lock()
	already := b.closed.Swap(true)
	b.mu.Unlock()
	if already {
		return
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Broker)(nil)
