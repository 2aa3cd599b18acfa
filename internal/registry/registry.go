// Package registry tracks in-flight generation requests and drives their
// status state machine from protocol traffic.
package registry

import (
	"sync"
	"time"

	"github.com/codeloom-ai/codeloom-go/internal/logging"
	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// Registry is the in-memory map of request id to request state, shared by
// whichever transport is active. Entries are created when a generate message
// is transmitted, mutated only by Apply/ApplyOutbound, and deleted as soon as
// they reach a terminal status.
type Registry struct {
	mu       sync.RWMutex
	requests map[string]*types.ActiveRequest
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{requests: make(map[string]*types.ActiveRequest)}
}

// Begin inserts a running entry for a transmitted generate message. A second
// Begin for a live id is ignored; id reuse after terminal removal is allowed.
func (r *Registry) Begin(msg types.SessionMessage) {
	if msg.Type != types.MessageGenerate || msg.RequestID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[msg.RequestID]; exists {
		logging.Warn().Str("requestId", msg.RequestID).Msg("duplicate generate for live request id")
		return
	}

	r.requests[msg.RequestID] = &types.ActiveRequest{
		ID:        msg.RequestID,
		Status:    types.StatusRunning,
		Prompt:    msg.Message,
		ProjectID: msg.ProjectID,
		StartedAt: time.Now(),
	}
}

// Apply mutates the registry from one inbound event. Events for unknown
// request ids (including late events for already-removed requests) are
// dropped without error.
func (r *Registry) Apply(ev types.SessionEvent) {
	if ev.RequestID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[ev.RequestID]
	if !ok {
		return
	}

	// Telemetry fields update regardless of event type.
	if ev.Data != nil {
		mergeTelemetry(req, ev.Data)
	}

	switch ev.Type {
	case types.EventRequestStarted:
		req.Status = types.StatusRunning
	case types.EventRequestCancelled, types.EventError:
		req.Status = types.StatusCancelled
		delete(r.requests, req.ID)
	case types.EventComplete:
		req.Status = types.StatusCompleted
		delete(r.requests, req.ID)
	case types.EventQuestion:
		if ev.RequiresApproval() {
			req.Status = types.StatusAwaitingPermission
		}
	}
}

// ApplyOutbound mutates the registry from a locally issued control message.
// Pause and resume take effect locally; cancel does not (the terminal
// request_cancelled event from the backend removes the entry).
func (r *Registry) ApplyOutbound(msg types.SessionMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[msg.RequestID]
	if !ok {
		return
	}

	switch msg.Type {
	case types.MessagePause:
		if req.Status == types.StatusRunning {
			req.Status = types.StatusPaused
		}
	case types.MessageResume:
		if req.Status == types.StatusPaused {
			req.Status = types.StatusRunning
		}
	case types.MessageApprove, types.MessageReject:
		if req.Status == types.StatusAwaitingPermission {
			req.Status = types.StatusRunning
			req.Permissions = nil
		}
	}
}

func mergeTelemetry(req *types.ActiveRequest, data *types.EventData) {
	if data.QueuePosition != nil {
		req.QueuePosition = *data.QueuePosition
	}
	if data.EstimatedTokens != nil {
		req.EstimatedTokens = *data.EstimatedTokens
	}
	if data.RemainingTokens != nil {
		req.RemainingTokens = *data.RemainingTokens
	}
	if data.Progress != nil {
		req.Progress = *data.Progress
	}
	if data.Stage != "" {
		req.Stage = data.Stage
	}
	if len(data.Permissions) > 0 {
		req.Permissions = data.Permissions
	}
}

// Get returns a copy of the tracked request, if present.
func (r *Registry) Get(id string) (types.ActiveRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return types.ActiveRequest{}, false
	}
	return *req, true
}

// List returns copies of all tracked requests, in unspecified order.
func (r *Registry) List() []types.ActiveRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ActiveRequest, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, *req)
	}
	return out
}

// Len returns the number of tracked requests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.requests)
}

// Clear removes all tracked requests. Used on facade teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = make(map[string]*types.ActiveRequest)
}
