package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// streamBody is the generation payload of the streaming endpoint. It mirrors
// the logical content of a generate message.
type streamBody struct {
	Message         string   `json:"message"`
	ProjectID       string   `json:"projectId,omitempty"`
	ActiveFile      string   `json:"activeFile,omitempty"`
	SelectedCode    string   `json:"selectedCode,omitempty"`
	Model           string   `json:"model,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	ApprovedActions []string `json:"approvedActions,omitempty"`
	RejectedActions []string `json:"rejectedActions,omitempty"`
}

// sseWriter wraps http.ResponseWriter for the chunked event stream.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeRecord writes one "data: <json>" record and flushes it.
func (s *sseWriter) writeRecord(ev types.SessionEvent) error {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeDone writes the literal end-of-stream terminator.
func (s *sseWriter) writeDone() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

// handleStream serves one generation as a chunked stream of data records
// terminated by [DONE]. The stream carries no request ids; the client tags
// events with the id it assigned.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var body streamBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sse, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	events := s.respond(types.SessionMessage{
		Type:            types.MessageGenerate,
		Message:         body.Message,
		ProjectID:       body.ProjectID,
		ActiveFile:      body.ActiveFile,
		SelectedCode:    body.SelectedCode,
		Model:           body.Model,
		Mode:            body.Mode,
		ApprovedActions: body.ApprovedActions,
		RejectedActions: body.RejectedActions,
	})

	for _, ev := range events {
		ev.RequestID = ""
		if err := sse.writeRecord(ev); err != nil {
			return
		}
	}
	sse.writeDone()
}
