// Package event is a small in-process event bus.
//
// WHY AN EVENT BUS?
// User creation has two best-effort side effects: a queue message and a
// welcome email. Neither is allowed to slow down or fail the HTTP response.
// Instead of calling the queue and mail clients inline, the service publishes
// a UserCreated event and returns; a dispatcher goroutine delivers the event
// to every subscriber. A subscriber failure is logged and isolated — it can
// never propagate back into the request path.
//
// This is the same decoupling a message broker gives you, scaled down to one
// process and one channel. The real broker sits BEHIND one of the
// subscribers (the queue publisher), not in front of the request.
package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// UserCreated is emitted after a user record has been committed.
// Payload is the record serialized as JSON — exactly the bytes the queue
// subscriber forwards to the broker.
type UserCreated struct {
	Email   string
	Payload []byte
}

// Handler consumes a UserCreated event. Handlers run on the dispatcher
// goroutine, one event at a time, and get their own context with a
// deadline — the originating HTTP request may be long gone.
type Handler func(ctx context.Context, ev UserCreated) error

// handlerTimeout bounds a single delivery (broker publish or SMTP send).
const handlerTimeout = 30 * time.Second

// Bus fans out events to subscribers on a single dispatcher goroutine.
type Bus struct {
	logger   *slog.Logger
	events   chan UserCreated
	handlers []Handler
	done     chan struct{}
	once     sync.Once
}

// New creates a Bus and starts its dispatcher.
//
// BUFFERED CHANNEL:
// Publish does a buffered send, so a burst of creations doesn't block HTTP
// responses on a slow SMTP server. If the buffer ever fills, Publish drops
// the event and logs it — delivery here is best-effort by contract.
func New(logger *slog.Logger) *Bus {
	b := &Bus{
		logger: logger,
		events: make(chan UserCreated, 64),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for future events.
// Must be called during wiring, before any Publish — there is no locking
// around the handler list once the dispatcher is consuming.
func (b *Bus) Subscribe(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event for delivery. It never blocks and never fails
// the caller; a full buffer means the event is dropped with a log line.
func (b *Bus) Publish(ev UserCreated) {
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("event bus full, dropping event",
			slog.String("email", ev.Email),
		)
	}
}

// dispatch delivers events to all handlers until the channel is closed.
func (b *Bus) dispatch() {
	defer close(b.done)

	for ev := range b.events {
		for _, h := range b.handlers {
			b.deliver(h, ev)
		}
	}
}

// deliver runs one handler for one event, catching panics so a buggy
// subscriber can't kill the dispatcher.
func (b *Bus) deliver(h Handler, ev UserCreated) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.Any("panic", r),
				slog.String("email", ev.Email),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := h(ctx, ev); err != nil {
		// Best-effort: log and move on. The user is already created.
		b.logger.Error("event handler failed",
			slog.String("email", ev.Email),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops accepting events and waits for in-flight deliveries to finish.
// Safe to call more than once.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.events)
	})
	<-b.done
}
