package types

import "time"

// RequestStatus is the lifecycle state of an in-flight request.
type RequestStatus string

const (
	StatusRunning            RequestStatus = "running"
	StatusPaused             RequestStatus = "paused"
	StatusAwaitingPermission RequestStatus = "awaiting_permission"
	StatusCancelled          RequestStatus = "cancelled"
	StatusCompleted          RequestStatus = "completed"
)

// Terminal reports whether the status ends a request's lifecycle.
func (s RequestStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// ActiveRequest is one in-flight generation tracked by the request registry.
type ActiveRequest struct {
	ID        string        `json:"id"`
	Status    RequestStatus `json:"status"`
	Prompt    string        `json:"prompt"`
	ProjectID string        `json:"projectId,omitempty"`
	StartedAt time.Time     `json:"startedAt"`

	// Live telemetry, updated from inbound events.
	EstimatedTokens int                    `json:"estimatedTokens,omitempty"`
	RemainingTokens int                    `json:"remainingTokens,omitempty"`
	Progress        float64                `json:"progress,omitempty"`
	Stage           string                 `json:"stage,omitempty"`
	QueuePosition   int                    `json:"queuePosition,omitempty"`
	Permissions     []PermissionDescriptor `json:"permissions,omitempty"`
}
