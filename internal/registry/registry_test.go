package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

func generate(id, prompt string) types.SessionMessage {
	return types.SessionMessage{Type: types.MessageGenerate, RequestID: id, Message: prompt}
}

func intPtr(v int) *int             { return &v }
func floatPtr(v float64) *float64   { return &v }

func TestRegistry_BeginTracksRunningRequest(t *testing.T) {
	r := New()
	r.Begin(generate("r1", "add error handling"))

	req, ok := r.Get("r1")
	require.True(t, ok)
	assert.Equal(t, types.StatusRunning, req.Status)
	assert.Equal(t, "add error handling", req.Prompt)
	assert.False(t, req.StartedAt.IsZero())
}

func TestRegistry_BeginIgnoresNonGenerate(t *testing.T) {
	r := New()
	r.Begin(types.SessionMessage{Type: types.MessageCancel, RequestID: "r1"})
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DuplicateLiveIDIgnored(t *testing.T) {
	r := New()
	r.Begin(generate("r1", "first"))
	r.Begin(generate("r1", "second"))

	req, _ := r.Get("r1")
	assert.Equal(t, "first", req.Prompt)
}

func TestRegistry_TerminalEventsDeleteEntry(t *testing.T) {
	for _, eventType := range []types.EventType{
		types.EventComplete,
		types.EventError,
		types.EventRequestCancelled,
	} {
		r := New()
		r.Begin(generate("r1", "p"))
		r.Apply(types.SessionEvent{Type: eventType, RequestID: "r1"})

		_, ok := r.Get("r1")
		assert.False(t, ok, "entry should be deleted after %s", eventType)

		// Late events for the removed id are no-ops, not errors.
		r.Apply(types.SessionEvent{Type: types.EventProgress, RequestID: "r1",
			Data: &types.EventData{Progress: floatPtr(99)}})
		assert.Equal(t, 0, r.Len())
	}
}

func TestRegistry_IDReuseAfterTerminalRemoval(t *testing.T) {
	r := New()
	r.Begin(generate("r1", "first"))
	r.Apply(types.SessionEvent{Type: types.EventComplete, RequestID: "r1"})

	r.Begin(generate("r1", "second"))
	req, ok := r.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "second", req.Prompt)
}

func TestRegistry_UnknownRequestIDDropped(t *testing.T) {
	r := New()
	r.Apply(types.SessionEvent{Type: types.EventProgress, RequestID: "ghost"})
	r.Apply(types.SessionEvent{Type: types.EventPong}) // connection-level, no id
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_TelemetryMergedRegardlessOfType(t *testing.T) {
	r := New()
	r.Begin(generate("r1", "p"))

	// Telemetry arrives on a typing_start event, which has no status effect.
	r.Apply(types.SessionEvent{
		Type:      types.EventTypingStart,
		RequestID: "r1",
		Data: &types.EventData{
			QueuePosition:   intPtr(3),
			EstimatedTokens: intPtr(1200),
			RemainingTokens: intPtr(800),
			Progress:        floatPtr(40),
			Stage:           "planning",
		},
	})

	req, _ := r.Get("r1")
	assert.Equal(t, types.StatusRunning, req.Status)
	assert.Equal(t, 3, req.QueuePosition)
	assert.Equal(t, 1200, req.EstimatedTokens)
	assert.Equal(t, 800, req.RemainingTokens)
	assert.Equal(t, 40.0, req.Progress)
	assert.Equal(t, "planning", req.Stage)
}

func TestRegistry_QuestionRequiringApproval(t *testing.T) {
	r := New()
	r.Begin(generate("r1", "p"))

	perms := []types.PermissionDescriptor{{ID: "p1", Kind: types.PermShell, Title: "Run tests"}}
	r.Apply(types.SessionEvent{
		Type:      types.EventQuestion,
		RequestID: "r1",
		Data:      &types.EventData{RequiresApproval: true, Permissions: perms},
	})

	req, _ := r.Get("r1")
	assert.Equal(t, types.StatusAwaitingPermission, req.Status)
	assert.Equal(t, perms, req.Permissions)

	// Approval resumes the request and clears pending descriptors.
	r.ApplyOutbound(types.SessionMessage{Type: types.MessageApprove, RequestID: "r1", PermissionIDs: []string{"p1"}})
	req, _ = r.Get("r1")
	assert.Equal(t, types.StatusRunning, req.Status)
	assert.Empty(t, req.Permissions)
}

func TestRegistry_QuestionWithoutApprovalKeepsRunning(t *testing.T) {
	r := New()
	r.Begin(generate("r1", "p"))

	r.Apply(types.SessionEvent{Type: types.EventQuestion, RequestID: "r1",
		Message: "Which framework do you prefer?"})

	req, _ := r.Get("r1")
	assert.Equal(t, types.StatusRunning, req.Status)
}

func TestRegistry_PauseResume(t *testing.T) {
	r := New()
	r.Begin(generate("r1", "p"))

	r.ApplyOutbound(types.SessionMessage{Type: types.MessagePause, RequestID: "r1"})
	req, _ := r.Get("r1")
	assert.Equal(t, types.StatusPaused, req.Status)

	// Resume only applies to paused requests.
	r.ApplyOutbound(types.SessionMessage{Type: types.MessageResume, RequestID: "r1"})
	req, _ = r.Get("r1")
	assert.Equal(t, types.StatusRunning, req.Status)

	r.ApplyOutbound(types.SessionMessage{Type: types.MessageResume, RequestID: "r1"})
	req, _ = r.Get("r1")
	assert.Equal(t, types.StatusRunning, req.Status)
}

func TestRegistry_RequestStartedScenario(t *testing.T) {
	// The end-to-end shape: generate -> running, progress updates telemetry
	// without a status change, complete removes the entry.
	r := New()
	r.Begin(generate("r1", "p"))

	r.Apply(types.SessionEvent{Type: types.EventRequestStarted, RequestID: "r1"})
	req, ok := r.Get("r1")
	require.True(t, ok)
	assert.Equal(t, types.StatusRunning, req.Status)

	r.Apply(types.SessionEvent{Type: types.EventProgress, RequestID: "r1",
		Data: &types.EventData{Progress: floatPtr(40), Stage: "planning"}})
	req, _ = r.Get("r1")
	assert.Equal(t, 40.0, req.Progress)
	assert.Equal(t, types.StatusRunning, req.Status)

	r.Apply(types.SessionEvent{Type: types.EventComplete, RequestID: "r1"})
	_, ok = r.Get("r1")
	assert.False(t, ok)
}

func TestRegistry_ListAndClear(t *testing.T) {
	r := New()
	r.Begin(generate("r1", "a"))
	r.Begin(generate("r2", "b"))

	assert.Len(t, r.List(), 2)
	r.Clear()
	assert.Equal(t, 0, r.Len())
}
