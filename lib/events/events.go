// Package events relays connection lifecycle notifications to observers.
//
// Emission never blocks the caller: events are queued on a buffered channel
// and delivered in order by a single dispatcher goroutine. Only the final
// event passed to CloseWith waits for room in the queue. Observer panics
// are recovered and logged so a misbehaving observer cannot disturb the
// component that emitted the event.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// DefaultBufferSize is used when NewNotifier is given a non-positive size.
const DefaultBufferSize = 100

// EventType categorizes lifecycle events.
type EventType int

const (
	// EventConnect is emitted when a session starts its handshake.
	EventConnect EventType = iota
	// EventReady is emitted when a session is fully usable.
	EventReady
	// EventReconnecting is emitted when an established session redials.
	// It is informational only.
	EventReconnecting
	// EventClose is emitted when a session's connection has closed.
	EventClose
	// EventEnd is emitted after EventClose once the session is finished.
	EventEnd
	// EventError is emitted when a session reports an error.
	EventError
	// EventDisconnected is emitted once, after every session of a pool has
	// been destroyed.
	EventDisconnected
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventReady:
		return "ready"
	case EventReconnecting:
		return "reconnecting"
	case EventClose:
		return "close"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification about a connection of type C.
type Event[C any] struct {
	// Type is the category of this event.
	Type EventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Conn is the connection the event is about. Zero for EventDisconnected.
	Conn C

	// Err carries the failure for EventError and the termination error,
	// if any, for EventClose and EventEnd.
	Err error
}

// Observer receives events.
type Observer[C any] interface {
	HandleEvent(Event[C])
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc[C any] func(Event[C])

// HandleEvent calls f(e).
func (f ObserverFunc[C]) HandleEvent(e Event[C]) {
	f(e)
}

// Handlers is an Observer with one optional callback per event type.
// Nil callbacks are skipped.
type Handlers[C any] struct {
	OnConnect      func(conn C)
	OnReady        func(conn C)
	OnReconnecting func(conn C)
	OnClose        func(conn C, err error)
	OnEnd          func(conn C, err error)
	OnError        func(err error, conn C)
	OnDisconnected func()
}

// HandleEvent dispatches e to the matching callback.
func (h Handlers[C]) HandleEvent(e Event[C]) {
	switch e.Type {
	case EventConnect:
		if h.OnConnect != nil {
			h.OnConnect(e.Conn)
		}
	case EventReady:
		if h.OnReady != nil {
			h.OnReady(e.Conn)
		}
	case EventReconnecting:
		if h.OnReconnecting != nil {
			h.OnReconnecting(e.Conn)
		}
	case EventClose:
		if h.OnClose != nil {
			h.OnClose(e.Conn, e.Err)
		}
	case EventEnd:
		if h.OnEnd != nil {
			h.OnEnd(e.Conn, e.Err)
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(e.Err, e.Conn)
		}
	case EventDisconnected:
		if h.OnDisconnected != nil {
			h.OnDisconnected()
		}
	}
}

// Notifier fans events out to subscribed observers.
type Notifier[C any] struct {
	logger *slog.Logger

	mu        sync.RWMutex
	observers map[uint64]Observer[C]
	nextID    uint64
	closed    bool

	events  chan Event[C]
	done    chan struct{}
	dropped atomic.Uint64
}

// NewNotifier creates a notifier and starts its dispatcher.
// Call Close to stop it.
func NewNotifier[C any](bufferSize int, logger *slog.Logger) *Notifier[C] {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier[C]{
		logger:    logger,
		observers: make(map[uint64]Observer[C]),
		events:    make(chan Event[C], bufferSize),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

// Subscribe registers o and returns a function that removes it.
func (n *Notifier[C]) Subscribe(o Observer[C]) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.observers[id] = o
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.observers, id)
		n.mu.Unlock()
	}
}

// Emit queues e for delivery. If the buffer is full the event is dropped
// and counted; see Dropped. Emit after Close is a no-op.
func (n *Notifier[C]) Emit(e Event[C]) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.events <- e:
	default:
		n.dropped.Inc()
		n.logger.Warn("event dropped, observer queue full", "event", e.Type.String())
	}
}

// EmitType queues an event of type t about conn.
func (n *Notifier[C]) EmitType(t EventType, conn C, err error) {
	n.Emit(Event[C]{Type: t, Conn: conn, Err: err})
}

// Dropped returns the number of events dropped because the buffer was full.
func (n *Notifier[C]) Dropped() uint64 {
	return n.dropped.Load()
}

// Close delivers the events already queued and stops the dispatcher.
// It is safe to call more than once.
func (n *Notifier[C]) Close() {
	n.close(nil)
}

// CloseWith stops accepting events and queues final behind the events
// already queued, waiting for room when the buffer is full, so final is
// never dropped. It returns once everything has been delivered. Only the
// first Close or CloseWith queues anything.
func (n *Notifier[C]) CloseWith(final Event[C]) {
	if final.Timestamp.IsZero() {
		final.Timestamp = time.Now()
	}
	n.close(&final)
}

func (n *Notifier[C]) close(final *Event[C]) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	// Emit sends while holding the read lock, so once closed is set no
	// other sender remains.
	n.closed = true
	n.mu.Unlock()

	if final != nil {
		n.events <- *final
	}
	close(n.events)
	<-n.done
}

func (n *Notifier[C]) run() {
	defer close(n.done)
	for e := range n.events {
		n.deliver(e)
	}
}

func (n *Notifier[C]) deliver(e Event[C]) {
	n.mu.RLock()
	observers := make([]Observer[C], 0, len(n.observers))
	for _, o := range n.observers {
		observers = append(observers, o)
	}
	n.mu.RUnlock()

	for _, o := range observers {
		n.safeCall(o, e)
	}
}

func (n *Notifier[C]) safeCall(o Observer[C], e Event[C]) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("observer panicked", "event", e.Type.String(), "panic", fmt.Sprint(r))
		}
	}()
	o.HandleEvent(e)
}
