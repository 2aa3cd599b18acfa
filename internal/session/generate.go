package session

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/codeloom-ai/codeloom-go/internal/transport"
	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// GenerateOptions describes one generation request.
type GenerateOptions struct {
	// RequestID is caller-assigned and must be unique among concurrently
	// active requests; when empty a ULID is generated.
	RequestID string

	Prompt       string
	ProjectID    string
	ActiveFile   string
	SelectedCode string
	Model        string
	Mode         string

	// Action ids the caller has already approved or rejected.
	ApprovedActions []string
	RejectedActions []string
}

// GenerateCode starts a generation request, auto-connecting first when no
// transport is active. It returns the request id used, which subscribers
// will see on every event for this request.
func (c *Client) GenerateCode(ctx context.Context, opts GenerateOptions) (string, error) {
	c.mu.Lock()
	disconnected := c.active == nil
	c.mu.Unlock()
	if disconnected {
		if err := c.Connect(ctx); err != nil {
			return "", fmt.Errorf("connect: %w", err)
		}
	}

	requestID := opts.RequestID
	if requestID == "" {
		requestID = ulid.Make().String()
	}

	c.mu.Lock()
	active := c.active
	caps := c.caps
	approved := append(append([]string{}, c.approvedActions...), opts.ApprovedActions...)
	rejected := append(append([]string{}, c.rejectedActions...), opts.RejectedActions...)
	c.mu.Unlock()

	if active == nil {
		return "", transport.ErrNotConnected
	}
	if !caps.MultiRequest && c.reg.Len() > 0 {
		return "", &transport.CapabilityError{Op: "concurrent generate", Transport: active.Kind()}
	}

	msg := types.SessionMessage{
		Type:            types.MessageGenerate,
		RequestID:       requestID,
		Message:         opts.Prompt,
		ProjectID:       opts.ProjectID,
		ActiveFile:      opts.ActiveFile,
		SelectedCode:    opts.SelectedCode,
		Model:           opts.Model,
		Mode:            opts.Mode,
		ApprovedActions: approved,
		RejectedActions: rejected,
	}
	if err := active.Send(msg); err != nil {
		return "", err
	}
	return requestID, nil
}

// CancelRequest asks the backend to cancel an in-flight request.
// Cancellation is cooperative: the registry entry is removed when the
// terminal request_cancelled (or error) event arrives.
func (c *Client) CancelRequest(requestID string) error {
	return c.control("cancel", func(caps types.Capabilities) bool { return caps.Cancel },
		types.SessionMessage{Type: types.MessageCancel, RequestID: requestID})
}

// ModifyRequest steers an in-flight request with an updated prompt.
func (c *Client) ModifyRequest(requestID, prompt string) error {
	return c.control("modify", func(caps types.Capabilities) bool { return caps.Modify },
		types.SessionMessage{Type: types.MessageModify, RequestID: requestID, Message: prompt})
}

// PauseRequest pauses an in-flight request.
func (c *Client) PauseRequest(requestID string) error {
	return c.control("pause", func(caps types.Capabilities) bool { return caps.Pause },
		types.SessionMessage{Type: types.MessagePause, RequestID: requestID})
}

// ResumeRequest resumes a paused request.
func (c *Client) ResumeRequest(requestID string) error {
	return c.control("resume", func(caps types.Capabilities) bool { return caps.Resume },
		types.SessionMessage{Type: types.MessageResume, RequestID: requestID})
}

// Answer replies to a question event that does not require a permission
// decision.
func (c *Client) Answer(requestID, text string) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil {
		return transport.ErrNotConnected
	}
	return active.Send(types.SessionMessage{
		Type:      types.MessageAnswer,
		RequestID: requestID,
		Message:   text,
	})
}

// ApprovePermissions approves pending permission descriptors. Over the
// duplex channel the approval is sent immediately; over the streaming
// channel it is recorded locally and echoed on the next generate call, which
// is how the reduced transport still supports permissions.
func (c *Client) ApprovePermissions(requestID string, permissionIDs []string) error {
	return c.permissionReply(types.MessageApprove, requestID, permissionIDs)
}

// RejectPermissions rejects pending permission descriptors. See
// ApprovePermissions for transport behavior.
func (c *Client) RejectPermissions(requestID string, permissionIDs []string) error {
	return c.permissionReply(types.MessageReject, requestID, permissionIDs)
}

func (c *Client) permissionReply(msgType types.MessageType, requestID string, permissionIDs []string) error {
	c.mu.Lock()
	active := c.active
	caps := c.caps
	c.mu.Unlock()

	if active == nil {
		return transport.ErrNotConnected
	}
	if !caps.Permissions {
		return &transport.CapabilityError{Op: string(msgType), Transport: active.Kind()}
	}

	msg := types.SessionMessage{Type: msgType, RequestID: requestID, PermissionIDs: permissionIDs}

	if active.Kind() == types.TransportStream {
		c.mu.Lock()
		if msgType == types.MessageApprove {
			c.approvedActions = append(c.approvedActions, permissionIDs...)
		} else {
			c.rejectedActions = append(c.rejectedActions, permissionIDs...)
		}
		c.mu.Unlock()
		c.reg.ApplyOutbound(msg)
		return nil
	}
	return active.Send(msg)
}

// control gates and sends one mid-flight control message.
func (c *Client) control(op string, allowed func(types.Capabilities) bool, msg types.SessionMessage) error {
	c.mu.Lock()
	active := c.active
	caps := c.caps
	c.mu.Unlock()

	if active == nil {
		return transport.ErrNotConnected
	}
	if !allowed(caps) {
		return &transport.CapabilityError{Op: op, Transport: active.Kind()}
	}
	return active.Send(msg)
}
