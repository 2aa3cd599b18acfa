// Package stream implements the unidirectional streaming fallback channel.
// Each generation opens one HTTP request whose response is a stream of
// newline-delimited "data:" records; no control messages can follow once the
// request is sent.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/codeloom-ai/codeloom-go/internal/logging"
	"github.com/codeloom-ai/codeloom-go/internal/registry"
	"github.com/codeloom-ai/codeloom-go/internal/transport"
	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

const (
	// DefaultStreamPath is the streaming generation endpoint.
	DefaultStreamPath = "/api/ai/stream"

	// doneRecord is the literal terminator ending a stream.
	doneRecord = "[DONE]"

	// dataPrefix marks an event record.
	dataPrefix = "data:"

	// maxRecordSize bounds a single event record.
	maxRecordSize = 1 << 20
)

// Config holds streaming channel configuration.
type Config struct {
	// BaseURL is the http(s) base of the backend.
	BaseURL string
	// StreamPath overrides the streaming endpoint path.
	StreamPath string
	// HTTPClient performs the streaming request; its cookie jar supplies
	// the caller's ambient authentication cookie. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.StreamPath == "" {
		c.StreamPath = DefaultStreamPath
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// streamRequest is the JSON body of one generation call. It carries the same
// logical payload as a generate message.
type streamRequest struct {
	Message         string   `json:"message"`
	ProjectID       string   `json:"projectId,omitempty"`
	ActiveFile      string   `json:"activeFile,omitempty"`
	SelectedCode    string   `json:"selectedCode,omitempty"`
	Model           string   `json:"model,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	ApprovedActions []string `json:"approvedActions,omitempty"`
	RejectedActions []string `json:"rejectedActions,omitempty"`
}

// Client is the streaming channel client. It is stateless between requests:
// Connect always succeeds and Disconnect only cancels in-flight streams.
type Client struct {
	cfg   Config
	reg   *registry.Registry
	hooks *transport.Hooks

	mu      sync.Mutex
	state   transport.State
	cancels map[string]context.CancelFunc
}

// New creates a streaming client sharing the given request registry.
func New(cfg Config, reg *registry.Registry) *Client {
	return &Client{
		cfg:     cfg.withDefaults(),
		reg:     reg,
		hooks:   transport.NewHooks(),
		state:   transport.StateDisconnected,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Kind implements transport.Transport.
func (c *Client) Kind() types.TransportKind { return types.TransportStream }

// Capabilities implements transport.Transport: permissions and internal
// actions only; no mid-flight control, one request at a time.
func (c *Client) Capabilities() types.Capabilities { return types.StreamCapabilities() }

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

// Connect implements transport.Transport. The channel is stateless, so
// connecting always succeeds.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	already := c.state == transport.StateConnected
	c.state = transport.StateConnected
	c.mu.Unlock()

	if !already {
		c.hooks.EmitConnect()
	}
	return nil
}

// Disconnect cancels all in-flight streams.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = make(map[string]context.CancelFunc)
	c.state = transport.StateDisconnected
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.hooks.EmitDisconnect()
}

// Send implements transport.Transport. Only generate messages can be
// carried; everything else fails synchronously with a capability error.
func (c *Client) Send(msg types.SessionMessage) error {
	if msg.Type != types.MessageGenerate {
		return &transport.CapabilityError{Op: string(msg.Type), Transport: types.TransportStream}
	}
	if msg.RequestID == "" {
		return fmt.Errorf("generate message requires a request id")
	}

	body, err := json.Marshal(streamRequest{
		Message:         msg.Message,
		ProjectID:       msg.ProjectID,
		ActiveFile:      msg.ActiveFile,
		SelectedCode:    msg.SelectedCode,
		Model:           msg.Model,
		Mode:            msg.Mode,
		ApprovedActions: msg.ApprovedActions,
		RejectedActions: msg.RejectedActions,
	})
	if err != nil {
		return fmt.Errorf("marshal stream request: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[msg.RequestID] = cancel
	c.mu.Unlock()

	c.reg.Begin(msg)

	go c.run(ctx, msg.RequestID, body)
	return nil
}

// run performs the streaming request and feeds parsed records through the
// shared normalization path. Failures surface through error handlers and a
// synthetic error event so the request reaches a terminal state.
func (c *Client) run(ctx context.Context, requestID string, body []byte) {
	defer func() {
		c.mu.Lock()
		delete(c.cancels, requestID)
		c.mu.Unlock()
	}()

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.StreamPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		c.fail(requestID, fmt.Errorf("build stream request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		c.fail(requestID, fmt.Errorf("open stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(requestID, fmt.Errorf("stream endpoint returned %s", resp.Status))
		return
	}

	c.consume(requestID, bufio.NewScanner(resp.Body))
}

// consume reads records until the terminator or stream end. Each record is
// parsed independently; a malformed record is skipped, never aborts the
// stream. Events are tagged with the caller-supplied request id since the
// transport does not echo one.
func (c *Client) consume(requestID string, scanner *bufio.Scanner) {
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			// Blank keepalives and comment records carry no payload.
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == doneRecord {
			return
		}

		var ev types.SessionEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			logging.Warn().Err(err).Str("requestId", requestID).Msg("skipping malformed stream record")
			continue
		}

		ev.RequestID = requestID
		c.reg.Apply(ev)
		c.hooks.EmitEvent(ev)
	}

	if err := scanner.Err(); err != nil {
		c.fail(requestID, fmt.Errorf("read stream: %w", err))
	}
}

// fail reports a stream failure and synthesizes a terminal error event so
// the registry entry is not leaked.
func (c *Client) fail(requestID string, err error) {
	logging.Warn().Err(err).Str("requestId", requestID).Msg("stream request failed")
	c.hooks.EmitError(err)

	ev := types.SessionEvent{
		Type:      types.EventError,
		RequestID: requestID,
		Message:   err.Error(),
	}
	c.reg.Apply(ev)
	c.hooks.EmitEvent(ev)
}
