package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/codeloom-ai/codeloom-go/internal/event"
	"github.com/codeloom-ai/codeloom-go/internal/logging"
	"github.com/codeloom-ai/codeloom-go/internal/registry"
	"github.com/codeloom-ai/codeloom-go/internal/transport"
	"github.com/codeloom-ai/codeloom-go/internal/transport/duplex"
	"github.com/codeloom-ai/codeloom-go/internal/transport/stream"
	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

// DefaultConnectTimeout bounds the duplex connection attempt before the
// facade falls back to the streaming channel.
const DefaultConnectTimeout = 8 * time.Second

// Options configures a session client.
type Options struct {
	// BaseURL is the http(s) base of the Codeloom backend.
	BaseURL string

	// ConnectTimeout bounds the duplex attempt during Connect.
	ConnectTimeout time.Duration

	// Paths override the backend endpoints; empty means the defaults of
	// the respective transport.
	TokenPath  string
	SocketPath string
	StreamPath string

	// Duplex tuning, passed through to the duplex client.
	PingInterval             time.Duration
	ReconnectInitialInterval time.Duration
	MaxReconnectAttempts     int

	// HTTPClient carries the caller's ambient authentication cookie jar.
	HTTPClient *http.Client
}

// Client is the session facade. It hides which transport is active behind a
// capability set and a single subscription surface.
type Client struct {
	opts       Options
	reg        *registry.Registry
	dispatcher *event.Dispatcher
	hooks      *transport.Hooks

	duplex *duplex.Client
	stream *stream.Client

	mu     sync.Mutex
	active transport.Transport
	caps   types.Capabilities

	// Permission replies recorded while the streaming transport is active;
	// echoed on subsequent generate calls since the stream cannot carry
	// approve/reject messages mid-flight.
	approvedActions []string
	rejectedActions []string
}

// New creates a caller-owned session client. Nothing connects until Connect
// or the first GenerateCode call.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	reg := registry.New()
	c := &Client{
		opts:       opts,
		reg:        reg,
		dispatcher: event.NewDispatcher(),
		hooks:      transport.NewHooks(),
		caps:       types.NoCapabilities(),
	}

	c.duplex = duplex.New(duplex.Config{
		BaseURL:                  opts.BaseURL,
		TokenPath:                opts.TokenPath,
		SocketPath:               opts.SocketPath,
		HandshakeTimeout:         opts.ConnectTimeout,
		PingInterval:             opts.PingInterval,
		ReconnectInitialInterval: opts.ReconnectInitialInterval,
		MaxReconnectAttempts:     opts.MaxReconnectAttempts,
		HTTPClient:               opts.HTTPClient,
	}, reg)

	c.stream = stream.New(stream.Config{
		BaseURL:    opts.BaseURL,
		StreamPath: opts.StreamPath,
		HTTPClient: opts.HTTPClient,
	}, reg)

	// Both transports feed the one dispatcher; the registry was already
	// updated by the transport before these handlers run.
	c.duplex.OnEvent(func(ev types.SessionEvent) { c.forward(ev, types.TransportDuplex) })
	c.stream.OnEvent(func(ev types.SessionEvent) { c.forward(ev, types.TransportStream) })

	c.duplex.OnConnect(c.hooks.EmitConnect)
	c.duplex.OnDisconnect(c.hooks.EmitDisconnect)
	c.duplex.OnError(c.hooks.EmitError)
	c.stream.OnError(c.hooks.EmitError)

	return c
}

func (c *Client) forward(ev types.SessionEvent, kind types.TransportKind) {
	c.dispatcher.Dispatch(types.AIResponse{SessionEvent: ev, Transport: kind})
}

// Connect selects a transport: the duplex channel first, bounded by the
// connect timeout; on duplex failure the streaming channel, which is
// stateless and always available. When no transport can be activated the
// capability set is empty and error handlers are notified.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.active != nil && c.active.State() == transport.StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	err := c.duplex.Connect(dctx)
	cancel()
	if err == nil {
		c.setActive(c.duplex, c.duplex.Capabilities())
		return nil
	}

	logging.Warn().Err(err).Msg("duplex channel unavailable, falling back to streaming")

	if err := c.stream.Connect(ctx); err != nil {
		c.setActive(nil, types.NoCapabilities())
		c.hooks.EmitError(err)
		return err
	}
	c.setActive(c.stream, c.stream.Capabilities())
	return nil
}

func (c *Client) setActive(t transport.Transport, caps types.Capabilities) {
	c.mu.Lock()
	c.active = t
	c.caps = caps
	c.mu.Unlock()
}

// Capabilities reports which operations are legal on the active transport.
func (c *Client) Capabilities() types.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// TransportKind identifies the active transport.
func (c *Client) TransportKind() types.TransportKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return types.TransportNone
	}
	return c.active.Kind()
}

// ActiveRequests returns a snapshot of all in-flight requests.
func (c *Client) ActiveRequests() []types.ActiveRequest {
	return c.reg.List()
}

// Request returns a snapshot of one in-flight request.
func (c *Client) Request(id string) (types.ActiveRequest, bool) {
	return c.reg.Get(id)
}

// On subscribes to one event type. Handlers run synchronously and must not
// panic; the dispatcher does not isolate faults between handlers.
func (c *Client) On(eventType types.EventType, fn func(types.AIResponse)) func() {
	return c.dispatcher.On(eventType, fn)
}

// OnAny subscribes to all events.
func (c *Client) OnAny(fn func(types.AIResponse)) func() {
	return c.dispatcher.OnAny(fn)
}

// OnConnect subscribes to connection-open notifications.
func (c *Client) OnConnect(fn func()) func() { return c.hooks.OnConnect(fn) }

// OnDisconnect subscribes to connection-close notifications.
func (c *Client) OnDisconnect(fn func()) func() { return c.hooks.OnDisconnect(fn) }

// OnError subscribes to connection-level errors.
func (c *Client) OnError(fn func(error)) func() { return c.hooks.OnError(fn) }

// Close tears the session down: disconnects both transports, clears the
// request registry, and drops all subscribers. The client cannot be reused
// afterwards.
func (c *Client) Close() {
	c.duplex.Disconnect()
	c.stream.Disconnect()
	c.setActive(nil, types.NoCapabilities())
	c.reg.Clear()
	_ = c.dispatcher.Close()
}
