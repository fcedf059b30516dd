package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler receives decoded events. Handlers run synchronously on the
// channel's reader goroutine in registration order, so frame-arrival order is
// preserved across subscribers.
type Handler func(Event)

type subscription struct {
	id uuid.UUID
	fn Handler
}

// Dispatcher is the typed publish/subscribe registry between the channel's
// frame decoder and UI subscribers.
type Dispatcher struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	subs map[string][]subscription
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.With().Str("component", "dispatcher").Logger(),
		subs:   make(map[string][]subscription),
	}
}

// On registers a handler for the named event and returns its unsubscribe
// function. Unsubscribe is idempotent: the second call finds nothing to remove
// and is a no-op. Multiple handlers on one event are invoked in registration
// order.
func (d *Dispatcher) On(event string, fn Handler) (unsubscribe func()) {
	id := uuid.New()

	d.mu.Lock()
	d.subs[event] = append(d.subs[event], subscription{id: id, fn: fn})
	d.mu.Unlock()

	return func() { d.off(event, id) }
}

func (d *Dispatcher) off(event string, id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[event]
	for i, sub := range subs {
		if sub.id == id {
			d.subs[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// HandlerCount reports the current number of handlers for an event.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[event])
}

// Emit delivers ev to every handler registered for its name, synchronously
// and in registration order. The channel is the normal publisher; tests and
// embedders may inject events directly. A panicking handler is caught and
// logged so it cannot block delivery to the others or tear down the channel.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	subs := append([]subscription(nil), d.subs[ev.EventName()]...)
	d.mu.RUnlock()

	for _, sub := range subs {
		d.invoke(ev, sub)
	}
}

func (d *Dispatcher) invoke(ev Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("event", ev.EventName()).
				Str("subscription", sub.id.String()).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
	}()
	sub.fn(ev)
}
