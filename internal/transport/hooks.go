package transport

import (
	"sync"
	"sync/atomic"

	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// Hooks tracks the handler registrations shared by both transports: event,
// connect, disconnect and error handlers, each with an unsubscribe func.
// Emit* calls handlers synchronously in registration order.
type Hooks struct {
	mu         sync.RWMutex
	event      []eventEntry
	connect    []funcEntry
	disconnect []funcEntry
	err        []errEntry
	nextID     uint64
}

type eventEntry struct {
	id uint64
	fn func(types.SessionEvent)
}

type funcEntry struct {
	id uint64
	fn func()
}

type errEntry struct {
	id uint64
	fn func(error)
}

// NewHooks creates an empty handler set.
func NewHooks() *Hooks {
	return &Hooks{}
}

func (h *Hooks) newID() uint64 {
	return atomic.AddUint64(&h.nextID, 1)
}

// OnEvent registers an inbound event handler.
func (h *Hooks) OnEvent(fn func(types.SessionEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.newID()
	h.event = append(h.event, eventEntry{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.event {
			if entry.id == id {
				h.event = append(h.event[:i], h.event[i+1:]...)
				break
			}
		}
	}
}

// OnConnect registers a connection-open handler.
func (h *Hooks) OnConnect(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.newID()
	h.connect = append(h.connect, funcEntry{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.connect {
			if entry.id == id {
				h.connect = append(h.connect[:i], h.connect[i+1:]...)
				break
			}
		}
	}
}

// OnDisconnect registers a connection-close handler.
func (h *Hooks) OnDisconnect(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.newID()
	h.disconnect = append(h.disconnect, funcEntry{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.disconnect {
			if entry.id == id {
				h.disconnect = append(h.disconnect[:i], h.disconnect[i+1:]...)
				break
			}
		}
	}
}

// OnError registers a connection-error handler.
func (h *Hooks) OnError(fn func(error)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.newID()
	h.err = append(h.err, errEntry{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.err {
			if entry.id == id {
				h.err = append(h.err[:i], h.err[i+1:]...)
				break
			}
		}
	}
}

// EmitEvent delivers an inbound event to all event handlers.
func (h *Hooks) EmitEvent(ev types.SessionEvent) {
	h.mu.RLock()
	handlers := make([]func(types.SessionEvent), len(h.event))
	for i, entry := range h.event {
		handlers[i] = entry.fn
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// EmitConnect notifies connection-open handlers.
func (h *Hooks) EmitConnect() {
	h.mu.RLock()
	handlers := make([]func(), len(h.connect))
	for i, entry := range h.connect {
		handlers[i] = entry.fn
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn()
	}
}

// EmitDisconnect notifies connection-close handlers.
func (h *Hooks) EmitDisconnect() {
	h.mu.RLock()
	handlers := make([]func(), len(h.disconnect))
	for i, entry := range h.disconnect {
		handlers[i] = entry.fn
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn()
	}
}

// EmitError notifies error handlers. Errors delivered here are always
// locally recovered; they never close the connection themselves.
func (h *Hooks) EmitError(err error) {
	h.mu.RLock()
	handlers := make([]func(error), len(h.err))
	for i, entry := range h.err {
		handlers[i] = entry.fn
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(err)
	}
}
