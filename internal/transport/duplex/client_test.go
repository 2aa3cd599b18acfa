package duplex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom-ai/codeloom-go/internal/registry"
	"github.com/codeloom-ai/codeloom-go/internal/stubserver"
	"github.com/codeloom-ai/codeloom-go/internal/transport"
	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// collector gathers events delivered by the client.
type collector struct {
	mu     sync.Mutex
	events []types.SessionEvent
}

func (c *collector) add(ev types.SessionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []types.SessionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.SessionEvent{}, c.events...)
}

func (c *collector) waitFor(t *testing.T, pred func([]types.SessionEvent) bool) []types.SessionEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", c.snapshot())
		case <-time.After(5 * time.Millisecond):
			evs := c.snapshot()
			if pred(evs) {
				return evs
			}
		}
	}
}

func hasTerminal(id string) func([]types.SessionEvent) bool {
	return func(evs []types.SessionEvent) bool {
		for _, ev := range evs {
			if ev.RequestID == id && ev.Terminal() {
				return true
			}
		}
		return false
	}
}

func newTestClient(t *testing.T, baseURL string) (*Client, *registry.Registry, *collector) {
	t.Helper()
	reg := registry.New()
	c := New(Config{
		BaseURL:                  baseURL,
		PingInterval:             time.Minute,
		ReconnectInitialInterval: time.Millisecond,
		MaxReconnectAttempts:     2,
	}, reg)
	t.Cleanup(c.Disconnect)

	col := &collector{}
	c.OnEvent(col.add)
	return c, reg, col
}

func TestClient_ConnectAndGenerate(t *testing.T) {
	stub := stubserver.New()
	ts := httptest.NewServer(stub.Handler())
	defer ts.Close()

	c, reg, col := newTestClient(t, ts.URL)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, transport.StateConnected, c.State())

	require.NoError(t, c.Send(types.SessionMessage{
		Type:      types.MessageGenerate,
		RequestID: "r1",
		Message:   "add a retry helper",
	}))

	evs := col.waitFor(t, hasTerminal("r1"))

	var kinds []types.EventType
	for _, ev := range evs {
		kinds = append(kinds, ev.Type)
	}
	assert.Equal(t, []types.EventType{
		types.EventRequestStarted,
		types.EventProgress,
		types.EventCode,
		types.EventComplete,
	}, kinds)

	// Terminal events delete the registry entry.
	assert.Equal(t, 0, reg.Len())
}

func TestClient_QueuedMessagesFlushInOrderOnConnect(t *testing.T) {
	stub := stubserver.New()
	ts := httptest.NewServer(stub.Handler())
	defer ts.Close()

	c, _, col := newTestClient(t, ts.URL)

	// Queue while disconnected; the first Send also triggers Connect.
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, c.Send(types.SessionMessage{
			Type:      types.MessageGenerate,
			RequestID: id,
			Message:   "prompt " + id,
		}))
	}

	evs := col.waitFor(t, func(evs []types.SessionEvent) bool {
		started := 0
		for _, ev := range evs {
			if ev.Type == types.EventRequestStarted {
				started++
			}
		}
		return started == 3
	})

	// The stub acknowledges each generate in receipt order, so the
	// request_started order proves FIFO flush.
	var startedOrder []string
	for _, ev := range evs {
		if ev.Type == types.EventRequestStarted {
			startedOrder = append(startedOrder, ev.RequestID)
		}
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, startedOrder)
	assert.Equal(t, 0, c.PendingCount())
}

func TestClient_RegistryScenario(t *testing.T) {
	stub := stubserver.New()
	stub.SetResponder(func(msg types.SessionMessage) []types.SessionEvent {
		progress := 40.0
		return []types.SessionEvent{
			{Type: types.EventProgress, Data: &types.EventData{Progress: &progress, Stage: "planning"}},
			{Type: types.EventComplete},
		}
	})
	ts := httptest.NewServer(stub.Handler())
	defer ts.Close()

	reg := registry.New()
	c := New(Config{BaseURL: ts.URL, PingInterval: time.Minute}, reg)
	defer c.Disconnect()

	type probe struct {
		req types.ActiveRequest
		ok  bool
	}
	probes := make(chan probe, 4)
	c.OnEvent(func(ev types.SessionEvent) {
		// Handlers run after the registry mutation for the same event.
		if ev.Type == types.EventProgress || ev.Type == types.EventComplete {
			req, ok := reg.Get("r1")
			probes <- probe{req: req, ok: ok}
		}
	})

	require.NoError(t, c.Send(types.SessionMessage{Type: types.MessageGenerate, RequestID: "r1", Message: "p"}))

	progressProbe := <-probes
	require.True(t, progressProbe.ok)
	assert.Equal(t, types.StatusRunning, progressProbe.req.Status)
	assert.Equal(t, 40.0, progressProbe.req.Progress)
	assert.Equal(t, "planning", progressProbe.req.Stage)

	completeProbe := <-probes
	assert.False(t, completeProbe.ok, "entry must be gone once complete is processed")
}

func TestClient_MalformedFramesAreDropped(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/ws-token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"t"}`))
	})
	mux.HandleFunc("/ws/ai-agent", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"progress","requestId":"r1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{{{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"complete","requestId":"r1"}`))
		// Keep the connection open until the client is done.
		_, _, _ = conn.ReadMessage()
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, _, col := newTestClient(t, ts.URL)
	require.NoError(t, c.Connect(context.Background()))

	evs := col.waitFor(t, hasTerminal("r1"))
	require.Len(t, evs, 2)
	assert.Equal(t, types.EventProgress, evs[0].Type)
	assert.Equal(t, types.EventComplete, evs[1].Type)
}

func TestClient_ConnectFailsWhenCredentialEndpointErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, _, _ := newTestClient(t, ts.URL)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session credential")
	assert.Equal(t, transport.StateDisconnected, c.State())
}

func TestClient_ReconnectStopsAtCap(t *testing.T) {
	stub := stubserver.New()
	ts := httptest.NewServer(stub.Handler())

	reg := registry.New()
	c := New(Config{
		BaseURL:                  ts.URL,
		PingInterval:             time.Minute,
		ReconnectInitialInterval: time.Millisecond,
		MaxReconnectAttempts:     2,
	}, reg)
	defer c.Disconnect()

	errs := make(chan error, 16)
	c.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	require.NoError(t, c.Connect(context.Background()))

	// Kill the backend so the close triggers reconnects that keep failing.
	ts.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-errs:
			if strings.Contains(err.Error(), "reconnect attempts exhausted") {
				assert.Equal(t, transport.StateDisconnected, c.State())
				return
			}
		case <-deadline:
			t.Fatal("never saw the reconnect cap error")
		}
	}
}

func TestClient_DisconnectSuppressesReconnect(t *testing.T) {
	stub := stubserver.New()
	ts := httptest.NewServer(stub.Handler())
	defer ts.Close()

	c, _, _ := newTestClient(t, ts.URL)
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	assert.Equal(t, transport.StateDisconnected, c.State())

	// Give any stray reconnect a chance to fire; state must not change.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, transport.StateDisconnected, c.State())
}

func TestClient_ExplicitConnectCancelsScheduledRetry(t *testing.T) {
	var dials atomic.Int64
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/ws-token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"t"}`))
	})
	mux.HandleFunc("/ws/ai-agent", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		// The first connection drops immediately so the client arms a
		// retry timer; later ones stay open.
		if dials.Add(1) == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	reg := registry.New()
	c := New(Config{
		BaseURL:                  ts.URL,
		PingInterval:             time.Minute,
		ReconnectInitialInterval: 300 * time.Millisecond,
		MaxReconnectAttempts:     5,
	}, reg)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))

	// Wait for the drop to schedule a retry, then connect explicitly
	// before the timer fires.
	require.Eventually(t, func() bool {
		return c.State() == transport.StateReconnecting
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, transport.StateConnected, c.State())

	// The cancelled timer must not dial a duplicate connection.
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, int64(2), dials.Load())
	assert.Equal(t, transport.StateConnected, c.State())
}

func TestClient_DisconnectDuringConnect(t *testing.T) {
	stub := stubserver.New()
	inner := stub.Handler()
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the credential fetch so Disconnect lands mid-Connect.
		if r.URL.Path == "/api/auth/ws-token" {
			<-release
		}
		inner.ServeHTTP(w, r)
	})
	ts := httptest.NewServer(handler)
	defer ts.Close()

	c, _, _ := newTestClient(t, ts.URL)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	c.Disconnect()
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, transport.StateDisconnected, c.State())

	// The disconnect must stick even though the dial succeeded after it.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, transport.StateDisconnected, c.State())
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	stub := stubserver.New()
	ts := httptest.NewServer(stub.Handler())
	defer ts.Close()

	c, _, _ := newTestClient(t, ts.URL)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, transport.StateConnected, c.State())
}

func TestClient_SocketURL(t *testing.T) {
	reg := registry.New()
	for _, tt := range []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/ai-agent?token=abc"},
		{"https://codeloom.example.com", "wss://codeloom.example.com/ws/ai-agent?token=abc"},
	} {
		c := New(Config{BaseURL: tt.base}, reg)
		got, err := c.socketURL("abc")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	c := New(Config{BaseURL: "ftp://nope"}, reg)
	_, err := c.socketURL("abc")
	assert.Error(t, err)
}

func TestClient_PongUpdatesLastPong(t *testing.T) {
	stub := stubserver.New()
	ts := httptest.NewServer(stub.Handler())
	defer ts.Close()

	reg := registry.New()
	c := New(Config{
		BaseURL:      ts.URL,
		PingInterval: 10 * time.Millisecond,
	}, reg)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return !c.LastPong().IsZero()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClient_KeepaliveFrameShape(t *testing.T) {
	data, err := json.Marshal(types.SessionMessage{Type: types.MessagePing, RequestID: keepaliveRequestID})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","requestId":"keepalive"}`, string(data))
}
