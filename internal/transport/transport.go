// Package transport defines the contract both session transports implement,
// so the session facade can hold one value and stay agnostic about whether
// the duplex or the streaming channel is active.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// State is the connection state of a transport.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Transport is one of the two session channels. Implementations normalize
// all inbound traffic into types.SessionEvent and apply it to the shared
// request registry before invoking event handlers.
type Transport interface {
	// Connect opens the channel. It is a no-op when already open or
	// opening.
	Connect(ctx context.Context) error

	// Disconnect closes the channel and cancels any pending reconnect
	// attempt.
	Disconnect()

	// Send transmits or queues an outbound message. Connection failures
	// are reported through error handlers, never through Send's return
	// value; Send only errors when the message itself cannot be carried
	// by this transport.
	Send(msg types.SessionMessage) error

	// Capabilities reports which control operations this transport can
	// carry.
	Capabilities() types.Capabilities

	// Kind identifies the transport in normalized events.
	Kind() types.TransportKind

	// State returns the current connection state.
	State() State

	// OnEvent registers a handler for normalized inbound events. Handlers
	// run synchronously in arrival order. Returns an unsubscribe func.
	OnEvent(fn func(types.SessionEvent)) func()

	// OnConnect registers a handler invoked after the channel opens.
	OnConnect(fn func()) func()

	// OnDisconnect registers a handler invoked after the channel closes.
	OnDisconnect(fn func()) func()

	// OnError registers a handler for connection-level errors.
	OnError(fn func(error)) func()
}

// ErrNotConnected is returned when an operation needs an active transport
// and none is available.
var ErrNotConnected = errors.New("no active transport")

// CapabilityError reports that the caller invoked an operation the active
// transport cannot carry. It is always surfaced synchronously so calling
// code can branch on it.
type CapabilityError struct {
	Op        string
	Transport types.TransportKind
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("operation %q is not supported over the %s transport", e.Op, e.Transport)
}

// IsCapabilityError reports whether err is (or wraps) a CapabilityError.
func IsCapabilityError(err error) bool {
	var capErr *CapabilityError
	return errors.As(err, &capErr)
}
