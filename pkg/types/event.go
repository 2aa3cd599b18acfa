package types

// EventType is the tag of an inbound session event.
type EventType string

const (
	EventProgress            EventType = "progress"
	EventCode                EventType = "code"
	EventComplete            EventType = "complete"
	EventError               EventType = "error"
	EventQuestion            EventType = "question"
	EventTypingStart         EventType = "typing_start"
	EventTypingStop          EventType = "typing_stop"
	EventRequestStarted      EventType = "request_started"
	EventRequestCancelled    EventType = "request_cancelled"
	EventInternalAction      EventType = "internal_action"
	EventPong                EventType = "pong"
	EventSubscriptionUpdated EventType = "subscription_updated"
)

// SessionEvent is an inbound event from the generation backend. RequestID
// matches an outbound generate/control message, except for connection-level
// events such as pong. Unknown JSON fields are ignored for forward
// compatibility.
type SessionEvent struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId,omitempty"`

	// Message is human-readable, Content is machine-usable (e.g. generated
	// code for code events).
	Message string `json:"message,omitempty"`
	Content string `json:"content,omitempty"`

	Data *EventData `json:"data,omitempty"`

	// Retry hints for error events.
	Retryable  bool `json:"retryable,omitempty"`
	RetryAfter int  `json:"retryAfter,omitempty"` // seconds

	// Suggested follow-up actions.
	NextActions []string `json:"nextActions,omitempty"`

	Usage *TokenUsage `json:"usage,omitempty"`
}

// EventData carries free-form per-event telemetry. Fields are pointers where
// zero is a meaningful value, so absent and zero can be told apart.
type EventData struct {
	QueuePosition   *int     `json:"queuePosition,omitempty"`
	EstimatedTokens *int     `json:"estimatedTokens,omitempty"`
	RemainingTokens *int     `json:"remainingTokens,omitempty"`
	Progress        *float64 `json:"progress,omitempty"`
	Stage           string   `json:"stage,omitempty"`

	// Permission flow.
	Permissions      []PermissionDescriptor `json:"permissions,omitempty"`
	RequiresApproval bool                   `json:"requiresApproval,omitempty"`
}

// RequiresApproval reports whether the event asks the client to approve or
// reject pending permission descriptors before the backend proceeds.
func (e SessionEvent) RequiresApproval() bool {
	return e.Data != nil && e.Data.RequiresApproval
}

// Terminal reports whether the event ends the lifecycle of its request.
func (e SessionEvent) Terminal() bool {
	switch e.Type {
	case EventComplete, EventError, EventRequestCancelled:
		return true
	}
	return false
}

// TokenUsage contains token accounting for a request.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// TransportKind identifies which transport delivered an event.
type TransportKind string

const (
	TransportDuplex TransportKind = "duplex"
	TransportStream TransportKind = "stream"
	TransportNone   TransportKind = "none"
)

// AIResponse is the normalized shape forwarded to subscribers regardless of
// which transport produced the event.
type AIResponse struct {
	SessionEvent
	Transport TransportKind `json:"-"`
}
