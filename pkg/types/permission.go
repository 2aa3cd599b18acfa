package types

// PermissionKind classifies the sensitive action a permission descriptor
// guards.
type PermissionKind string

const (
	PermFileWrite PermissionKind = "file_write"
	PermFileRead  PermissionKind = "file_read"
	PermShell     PermissionKind = "shell"
	PermNetwork   PermissionKind = "network"
	PermInstall   PermissionKind = "install"
)

// PermissionDescriptor is a server-issued item requiring explicit client-side
// approval or rejection before the backend proceeds.
type PermissionDescriptor struct {
	ID          string         `json:"id"`
	Kind        PermissionKind `json:"kind"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
