package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// Handler receives a normalized session event.
type Handler func(types.AIResponse)

// handlerEntry pairs a handler with an id so unsubscribe can find it.
type handlerEntry struct {
	id uint64
	fn Handler
}

// Dispatcher fans inbound session events out to per-type and wildcard
// handlers. It uses watermill's gochannel for infrastructure while keeping
// direct-call semantics to preserve type information.
type Dispatcher struct {
	mu sync.RWMutex

	// Watermill pub/sub infrastructure for potential future middleware or
	// distributed routing.
	pubsub *gochannel.GoChannel

	byType   map[types.EventType][]handlerEntry
	wildcard []handlerEntry

	nextID uint64
	closed bool
}

// NewDispatcher creates a dispatcher with no handlers registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		byType: make(map[types.EventType][]handlerEntry),
	}
}

func (d *Dispatcher) newID() uint64 {
	return atomic.AddUint64(&d.nextID, 1)
}

// On registers a handler for one event type. It returns an unsubscribe
// function.
func (d *Dispatcher) On(eventType types.EventType, fn Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return func() {}
	}

	id := d.newID()
	d.byType[eventType] = append(d.byType[eventType], handlerEntry{id: id, fn: fn})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		entries := d.byType[eventType]
		for i, entry := range entries {
			if entry.id == id {
				d.byType[eventType] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// OnAny registers a wildcard handler invoked for every event, after all
// type-specific handlers. It returns an unsubscribe function.
func (d *Dispatcher) OnAny(fn Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return func() {}
	}

	id := d.newID()
	d.wildcard = append(d.wildcard, handlerEntry{id: id, fn: fn})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, entry := range d.wildcard {
			if entry.id == id {
				d.wildcard = append(d.wildcard[:i], d.wildcard[i+1:]...)
				break
			}
		}
	}
}

// Dispatch delivers the event synchronously: type-specific handlers first,
// then wildcard handlers, each in registration order. It returns after every
// handler has run.
func (d *Dispatcher) Dispatch(resp types.AIResponse) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(d.byType[resp.Type])+len(d.wildcard))
	for _, entry := range d.byType[resp.Type] {
		handlers = append(handlers, entry.fn)
	}
	for _, entry := range d.wildcard {
		handlers = append(handlers, entry.fn)
	}
	d.mu.RUnlock()

	for _, fn := range handlers {
		fn(resp)
	}
}

// Close drops all handlers. Subsequent Dispatch calls are no-ops and
// subsequent registrations return inert unsubscribe functions.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.byType = make(map[types.EventType][]handlerEntry)
	d.wildcard = nil
	d.mu.Unlock()

	return d.pubsub.Close()
}

// PubSub exposes the underlying watermill GoChannel for middleware or a
// future switch to a distributed backend.
func (d *Dispatcher) PubSub() *gochannel.GoChannel {
	return d.pubsub
}
