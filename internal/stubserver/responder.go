package stubserver

import (
	"fmt"
	"strings"

	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// DefaultResponder scripts a plausible generation: planning progress, a code
// event echoing the prompt, and completion. Prompts mentioning "install"
// additionally raise a permission question, answered by approvedActions on a
// follow-up generate.
func DefaultResponder(msg types.SessionMessage) []types.SessionEvent {
	events := []types.SessionEvent{
		{
			Type: types.EventProgress,
			Data: &types.EventData{
				Progress:        floatPtr(10),
				Stage:           "planning",
				EstimatedTokens: intPtr(1200),
			},
		},
	}

	if strings.Contains(strings.ToLower(msg.Message), "install") && len(msg.ApprovedActions) == 0 {
		events = append(events, types.SessionEvent{
			Type:    types.EventQuestion,
			Message: "This change needs to install a dependency.",
			Data: &types.EventData{
				RequiresApproval: true,
				Permissions: []types.PermissionDescriptor{
					{ID: "perm-install-1", Kind: types.PermInstall, Title: "Install npm package"},
				},
			},
		})
		return events
	}

	events = append(events,
		types.SessionEvent{
			Type:    types.EventCode,
			Content: fmt.Sprintf("// generated for: %s\n", msg.Message),
			Data:    &types.EventData{Progress: floatPtr(80), Stage: "writing"},
		},
		types.SessionEvent{
			Type:  types.EventComplete,
			Usage: &types.TokenUsage{Input: 200, Output: 950, Total: 1150},
		},
	)
	return events
}
