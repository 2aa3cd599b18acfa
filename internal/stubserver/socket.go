package stubserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/codeloom-ai/codeloom-go/internal/logging"
	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Stub backend, local use only.
	},
}

// socketConn serializes writes; the responder goroutine and the read loop
// both emit events.
type socketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *socketConn) writeEvent(ev types.SessionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

// handleSocket upgrades the duplex channel after validating the session
// credential carried as a connection parameter.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if !s.validToken(r.URL.Query().Get("token")) {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("stub socket upgrade failed")
		return
	}
	defer conn.Close()

	sc := &socketConn{conn: conn}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg types.SessionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Mirror the real backend: bad frames are dropped, the
			// connection survives.
			logging.Warn().Err(err).Msg("stub socket dropping malformed message")
			continue
		}

		s.dispatchMessage(sc, msg)
	}
}

// dispatchMessage reacts to one client message the way the real backend
// does, using the configured responder for generation scripts.
func (s *Server) dispatchMessage(sc *socketConn, msg types.SessionMessage) {
	switch msg.Type {
	case types.MessageGenerate, types.MessageModify:
		events := s.respond(msg)
		go func() {
			_ = sc.writeEvent(types.SessionEvent{
				Type:      types.EventRequestStarted,
				RequestID: msg.RequestID,
			})
			for _, ev := range events {
				ev.RequestID = msg.RequestID
				if sc.writeEvent(ev) != nil {
					return
				}
			}
		}()

	case types.MessageCancel:
		_ = sc.writeEvent(types.SessionEvent{
			Type:      types.EventRequestCancelled,
			RequestID: msg.RequestID,
		})

	case types.MessageApprove, types.MessageReject:
		// The backend resumes the request after a permission decision.
		_ = sc.writeEvent(types.SessionEvent{
			Type:      types.EventRequestStarted,
			RequestID: msg.RequestID,
		})

	case types.MessagePing:
		_ = sc.writeEvent(types.SessionEvent{Type: types.EventPong})

	case types.MessagePause, types.MessageResume, types.MessageAnswer:
		// Acknowledged implicitly; the stub keeps no per-request state.
	}
}
