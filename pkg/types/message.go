// Package types provides the wire-level data types for the Codeloom
// session protocol.
package types

// MessageType is the tag of an outbound session message.
type MessageType string

const (
	MessageGenerate MessageType = "generate"
	MessageModify   MessageType = "modify"
	MessageCancel   MessageType = "cancel"
	MessagePause    MessageType = "pause"
	MessageResume   MessageType = "resume"
	MessageAnswer   MessageType = "answer"
	MessageApprove  MessageType = "approve"
	MessageReject   MessageType = "reject"
	MessagePing     MessageType = "ping"
)

// SessionMessage is an outbound message to the generation backend.
// Every message carries a caller-assigned RequestID that must be unique
// among concurrently active requests on the connection.
type SessionMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId"`

	// Generate/modify/answer payload fields.
	Message      string `json:"message,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
	ActiveFile   string `json:"activeFile,omitempty"`
	SelectedCode string `json:"selectedCode,omitempty"`
	Model        string `json:"model,omitempty"`
	Mode         string `json:"mode,omitempty"`

	// Previously approved/rejected action ids, echoed on generate so the
	// backend can skip re-asking.
	ApprovedActions []string `json:"approvedActions,omitempty"`
	RejectedActions []string `json:"rejectedActions,omitempty"`

	// Permission descriptor ids being approved or rejected.
	PermissionIDs []string `json:"permissionIds,omitempty"`
}

// IsControl reports whether the message is a mid-flight control message
// (anything that steers an already-started request).
func (m SessionMessage) IsControl() bool {
	switch m.Type {
	case MessageCancel, MessagePause, MessageResume, MessageModify:
		return true
	}
	return false
}
