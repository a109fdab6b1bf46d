// Package events provides the request event bus shared by the jr adapter,
// the stats aggregator, the Prometheus collector, and the Locust bridge.
//
// The adapter is a producer only. Everything that turns invocations into
// numbers subscribes a Listener.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// RequestEvent is the structured outcome of one simulated request.
//
// Field names mirror Locust's request event so records can be forwarded
// to a Locust master without translation.
type RequestEvent struct {
	RequestType    string
	Name           string
	ResponseTime   float64 // milliseconds
	ResponseLength int64
	Response       any
	Context        any
	Exception      error // nil on success

	// StartTime is when the request began (wall clock).
	StartTime time.Time

	// UserID identifies the simulated user that produced the event (-1 if unknown).
	UserID int
}

// Failed reports whether the event carries an exception.
func (e RequestEvent) Failed() bool {
	return e.Exception != nil
}

// Duration returns the response time as a time.Duration.
func (e RequestEvent) Duration() time.Duration {
	return time.Duration(e.ResponseTime * float64(time.Millisecond))
}

// Listener receives request events.
type Listener interface {
	OnRequest(ev RequestEvent)
}

// ListenerFunc adapts a plain function to a Listener.
type ListenerFunc func(ev RequestEvent)

// OnRequest calls f(ev).
func (f ListenerFunc) OnRequest(ev RequestEvent) {
	f(ev)
}

// Firer is the producer side of the bus.
type Firer interface {
	Fire(ev RequestEvent)
}

// Bus is a synchronous fan-out of request events.
//
// Fire delivers to every subscribed listener, in subscription order, on
// the caller's goroutine. Safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	listeners []*subscription
	fired     atomic.Int64
}

type subscription struct {
	l Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l and returns a function that removes it again.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	sub := &subscription{l: l}

	b.mu.Lock()
	b.listeners = append(b.listeners, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.listeners {
				if s == sub {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Fire delivers ev to all listeners.
func (b *Bus) Fire(ev RequestEvent) {
	b.fired.Add(1)

	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()

	for _, s := range listeners {
		s.l.OnRequest(ev)
	}
}

// Fired returns the number of events fired since creation.
func (b *Bus) Fired() int64 {
	return b.fired.Load()
}

// ListenerCount returns the number of subscribed listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
