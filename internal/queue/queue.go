// Package queue buffers outbound session messages while no transport is
// open.
package queue

import (
	"sync"

	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// Pending is the ordered set of messages accumulated while disconnected.
// Drain hands the whole batch to the caller exactly once, in push order, so
// a reconnect replays each queued message once and never twice.
type Pending struct {
	mu    sync.Mutex
	items []types.SessionMessage
}

// New creates an empty pending queue.
func New() *Pending {
	return &Pending{}
}

// Push appends a message to the queue.
func (p *Pending) Push(msg types.SessionMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, msg)
}

// Drain returns all queued messages in FIFO order and clears the queue
// atomically.
func (p *Pending) Drain() []types.SessionMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	items := p.items
	p.items = nil
	return items
}

// Len returns the number of queued messages.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
