// Package stubserver implements a scriptable Codeloom backend exposing the
// three external interfaces the client speaks: the session credential
// endpoint, the duplex WebSocket channel, and the streaming generation
// endpoint. It backs integration tests and `codeloom serve-stub` for local
// development.
package stubserver

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// Responder produces the scripted event sequence for one generate message.
// Events are emitted in order; the server fills in the request id for the
// duplex channel and omits it for the streaming channel.
type Responder func(msg types.SessionMessage) []types.SessionEvent

// Server is the stub backend.
type Server struct {
	router *chi.Mux

	mu        sync.Mutex
	tokens    map[string]bool
	responder Responder
}

// New creates a stub server with the default echo responder.
func New() *Server {
	s := &Server{
		tokens:    make(map[string]bool),
		responder: DefaultResponder,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/api/auth/ws-token", s.issueToken)
	r.Get("/ws/ai-agent", s.handleSocket)
	r.Post("/api/ai/stream", s.handleStream)

	s.router = r
	return s
}

// Handler returns the HTTP handler for the stub backend.
func (s *Server) Handler() http.Handler { return s.router }

// SetResponder replaces the event script. Tests use this to drive specific
// protocol sequences.
func (s *Server) SetResponder(fn Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = fn
}

func (s *Server) respond(msg types.SessionMessage) []types.SessionEvent {
	s.mu.Lock()
	fn := s.responder
	s.mu.Unlock()
	return fn(msg)
}

// issueToken hands out a short-lived session credential. The real backend
// validates the caller's authentication cookie here; the stub only records
// the token so the socket handler can check it.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	token, err := generateToken()
	if err != nil {
		http.Error(w, "token generation failed", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (s *Server) validToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token]
}

// generateToken generates a secure random token.
func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:22], nil
}
