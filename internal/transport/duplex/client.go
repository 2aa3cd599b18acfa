// Package duplex implements the persistent full-duplex session channel over
// WebSocket. It owns one authenticated connection and translates between raw
// wire frames and typed session messages/events.
package duplex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/codeloom-ai/codeloom-go/internal/logging"
	"github.com/codeloom-ai/codeloom-go/internal/queue"
	"github.com/codeloom-ai/codeloom-go/internal/registry"
	"github.com/codeloom-ai/codeloom-go/internal/transport"
	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

const (
	// DefaultTokenPath is the session credential endpoint.
	DefaultTokenPath = "/api/auth/ws-token"
	// DefaultSocketPath is the duplex connection path.
	DefaultSocketPath = "/ws/ai-agent"
	// DefaultHandshakeTimeout bounds the WebSocket dial.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultPingInterval is the keepalive ping cadence.
	DefaultPingInterval = 30 * time.Second
	// DefaultReconnectInitialInterval is the base reconnect delay, doubled
	// per attempt.
	DefaultReconnectInitialInterval = time.Second
	// DefaultReconnectMaxInterval caps a single reconnect delay.
	DefaultReconnectMaxInterval = 30 * time.Second
	// DefaultMaxReconnectAttempts caps automatic reconnects; once reached,
	// reconnection stops until an explicit new Connect.
	DefaultMaxReconnectAttempts = 5

	// keepaliveRequestID tags connection-level ping messages; the backend
	// answers with a pong carrying no request id.
	keepaliveRequestID = "keepalive"
)

// Config holds duplex channel configuration.
type Config struct {
	// BaseURL is the http(s) base of the backend, e.g. "https://codeloom.dev".
	BaseURL string
	// TokenPath overrides the session credential endpoint path.
	TokenPath string
	// SocketPath overrides the duplex connection path.
	SocketPath string

	HandshakeTimeout         time.Duration
	PingInterval             time.Duration
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	MaxReconnectAttempts     int

	// HTTPClient performs the credential fetch. Its cookie jar supplies the
	// caller's ambient authentication cookie. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath
	}
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReconnectInitialInterval <= 0 {
		c.ReconnectInitialInterval = DefaultReconnectInitialInterval
	}
	if c.ReconnectMaxInterval <= 0 {
		c.ReconnectMaxInterval = DefaultReconnectMaxInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// Client is the duplex channel client. All outbound messages flow through
// Send; while disconnected they accumulate in the pending queue and are
// flushed in FIFO order exactly once when a connection opens.
type Client struct {
	cfg     Config
	reg     *registry.Registry
	pending *queue.Pending
	hooks   *transport.Hooks

	mu          sync.Mutex
	conn        *websocket.Conn
	state       transport.State
	manualClose bool
	attempts    int
	retry       *time.Timer
	retryDelay  backoff.BackOff
	pingStop    chan struct{}
	lastPong    time.Time
}

// New creates a duplex client sharing the given request registry.
func New(cfg Config, reg *registry.Registry) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		reg:        reg,
		pending:    queue.New(),
		hooks:      transport.NewHooks(),
		state:      transport.StateDisconnected,
		retryDelay: newReconnectBackoff(cfg),
	}
}

// newReconnectBackoff builds the reconnect delay schedule: base delay doubled
// per attempt up to the max interval, no jitter so the schedule is
// deterministic. The attempt cap is enforced separately.
func newReconnectBackoff(cfg Config) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectInitialInterval
	b.MaxInterval = cfg.ReconnectMaxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Kind implements transport.Transport.
func (c *Client) Kind() types.TransportKind { return types.TransportDuplex }

// Capabilities implements transport.Transport. The duplex channel carries
// every control operation.
func (c *Client) Capabilities() types.Capabilities { return types.FullCapabilities() }

// State implements transport.Transport.
func (c *Client) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnEvent implements transport.Transport.
func (c *Client) OnEvent(fn func(types.SessionEvent)) func() { return c.hooks.OnEvent(fn) }

// OnConnect implements transport.Transport.
func (c *Client) OnConnect(fn func()) func() { return c.hooks.OnConnect(fn) }

// OnDisconnect implements transport.Transport.
func (c *Client) OnDisconnect(fn func()) func() { return c.hooks.OnDisconnect(fn) }

// OnError implements transport.Transport.
func (c *Client) OnError(fn func(error)) func() { return c.hooks.OnError(fn) }

// LastPong returns when the backend last answered a keepalive ping.
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// PendingCount returns the number of queued outbound messages.
func (c *Client) PendingCount() int { return c.pending.Len() }

// Connect opens the duplex channel: fetch a short-lived session credential,
// dial the WebSocket with the credential appended, then flush the pending
// queue and notify connection handlers. A no-op when already open or
// opening. An explicit Connect also re-arms reconnection after a manual
// Disconnect or an exhausted attempt cap.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == transport.StateConnected || c.state == transport.StateConnecting {
		c.mu.Unlock()
		return nil
	}
	// An explicit Connect takes over from a scheduled retry; a stale timer
	// firing later must not dial a second connection.
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.state = transport.StateConnecting
	c.manualClose = false
	c.mu.Unlock()

	token, err := c.fetchToken(ctx)
	if err != nil {
		return c.connectFailed(fmt.Errorf("fetch session credential: %w", err))
	}

	socketURL, err := c.socketURL(token)
	if err != nil {
		return c.connectFailed(err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, socketURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return c.connectFailed(fmt.Errorf("dial %s: %w", c.cfg.SocketPath, err))
	}

	pingStop := make(chan struct{})
	c.mu.Lock()
	if c.manualClose {
		// A Disconnect raced the dial; honor it.
		c.state = transport.StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	if c.conn != nil {
		// The channel owns at most one connection.
		_ = c.conn.Close()
	}
	c.conn = conn
	c.state = transport.StateConnected
	c.attempts = 0
	c.retryDelay.Reset()
	c.pingStop = pingStop
	c.mu.Unlock()

	logging.Info().Str("url", c.cfg.BaseURL).Msg("duplex channel connected")

	go c.readLoop(conn)
	go c.pingLoop(pingStop)

	c.flushPending()
	c.hooks.EmitConnect()
	return nil
}

func (c *Client) connectFailed(err error) error {
	c.mu.Lock()
	c.state = transport.StateDisconnected
	c.mu.Unlock()

	logging.Warn().Err(err).Msg("duplex connect failed")
	c.hooks.EmitError(err)
	return err
}

// fetchToken obtains the short-lived session credential. The configured HTTP
// client's cookie jar attaches the caller's existing authentication cookie.
func (c *Client) fetchToken(ctx context.Context) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.TokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("credential endpoint returned %s", resp.Status)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode credential response: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("credential endpoint returned an empty token")
	}
	return body.Token, nil
}

// socketURL derives the ws(s) URL from the base URL and appends the
// credential as a connection parameter.
func (c *Client) socketURL(token string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}

	u.Path = c.cfg.SocketPath
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Send transmits the message when the connection is open, otherwise queues
// it and triggers Connect if not already connecting. Connection failures are
// reported via error handlers, never returned here.
func (c *Client) Send(msg types.SessionMessage) error {
	c.mu.Lock()
	if c.state == transport.StateConnected && c.conn != nil {
		err := c.conn.WriteJSON(msg)
		c.mu.Unlock()
		if err != nil {
			// The write failed, so the message was not transmitted; queue
			// it for the reconnect flush. The read loop observes the same
			// failure and drives the close/reconnect path.
			logging.Warn().Err(err).Str("type", string(msg.Type)).Msg("duplex write failed, queueing message")
			c.pending.Push(msg)
			c.hooks.EmitError(err)
			return nil
		}
		c.applyOutbound(msg)
		return nil
	}

	connecting := c.state == transport.StateConnecting || c.state == transport.StateReconnecting
	c.pending.Push(msg)
	c.mu.Unlock()

	if !connecting {
		go func() {
			_ = c.Connect(context.Background())
		}()
	}
	return nil
}

// applyOutbound records the registry effect of a transmitted message: a
// generate inserts a new active request, control messages drive local state
// transitions.
func (c *Client) applyOutbound(msg types.SessionMessage) {
	if msg.Type == types.MessageGenerate {
		c.reg.Begin(msg)
		return
	}
	c.reg.ApplyOutbound(msg)
}

// flushPending replays queued messages in original order exactly once. A
// message that fails to write goes back on the queue along with everything
// after it, preserving order for the next flush.
func (c *Client) flushPending() {
	msgs := c.pending.Drain()
	for i, msg := range msgs {
		c.mu.Lock()
		conn := c.conn
		open := c.state == transport.StateConnected && conn != nil
		var err error
		if open {
			err = conn.WriteJSON(msg)
		}
		c.mu.Unlock()

		if !open || err != nil {
			for _, rest := range msgs[i:] {
				c.pending.Push(rest)
			}
			if err != nil {
				logging.Warn().Err(err).Int("requeued", len(msgs)-i).Msg("flush interrupted")
				c.hooks.EmitError(err)
			}
			return
		}
		c.applyOutbound(msg)
	}

	if len(msgs) > 0 {
		logging.Debug().Int("count", len(msgs)).Msg("flushed pending outbound queue")
	}
}

// readLoop parses inbound frames, updates the registry, then dispatches to
// event handlers. Malformed frames are logged and dropped; a read error
// closes the connection and, unless the close was caller-initiated,
// schedules a reconnect.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		var ev types.SessionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logging.Warn().Err(err).Msg("dropping malformed duplex frame")
			continue
		}

		if ev.Type == types.EventPong {
			c.mu.Lock()
			c.lastPong = time.Now()
			c.mu.Unlock()
		}

		c.reg.Apply(ev)
		c.hooks.EmitEvent(ev)
	}
}

// pingLoop sends keepalive pings until the connection closes.
func (c *Client) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			open := c.state == transport.StateConnected && conn != nil
			if open {
				if err := conn.WriteJSON(types.SessionMessage{
					Type:      types.MessagePing,
					RequestID: keepaliveRequestID,
				}); err != nil {
					logging.Debug().Err(err).Msg("keepalive ping failed")
				}
			}
			c.mu.Unlock()
			if !open {
				return
			}
		}
	}
}

// handleClose runs when the read loop observes a closed connection.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection replaced this one; nothing to do.
		c.mu.Unlock()
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.state = transport.StateDisconnected
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	manual := c.manualClose
	c.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logging.Warn().Err(err).Msg("duplex channel closed")
	} else {
		logging.Debug().Msg("duplex channel closed")
	}

	c.hooks.EmitDisconnect()

	if !manual {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the reconnect timer as an explicit cancellable task
// so Disconnect can deterministically cancel a pending retry. Attempts stop
// permanently once the cap is reached.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		logging.Warn().Int("attempts", c.cfg.MaxReconnectAttempts).Msg("reconnect attempts exhausted")
		c.hooks.EmitError(fmt.Errorf("reconnect attempts exhausted after %d tries", c.cfg.MaxReconnectAttempts))
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.retryDelay.NextBackOff()
	c.state = transport.StateReconnecting
	c.retry = time.AfterFunc(delay, c.reconnectNow)
	c.mu.Unlock()

	logging.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling duplex reconnect")
}

func (c *Client) reconnectNow() {
	c.mu.Lock()
	if c.manualClose || c.state != transport.StateReconnecting {
		// Cancelled, or an explicit Connect already took over.
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.state = transport.StateDisconnected
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		c.scheduleReconnect()
	}
}

// Disconnect closes the connection and suppresses all pending and future
// reconnect attempts until the caller explicitly connects again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = transport.StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
