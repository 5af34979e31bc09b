// Package devtools implements the remote control channel to a
// Chromium-based target: endpoint discovery, a correlated request/response
// client over one duplex websocket, execution-context tracking, and bounded
// automatic reconnection.
package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a Conn.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configure a Conn. Zero values fall back to the defaults below.
type Options struct {
	// Ports are the candidate discovery ports. Defaults to DefaultPorts.
	Ports []int
	// TargetPattern selects the target page by URL during discovery.
	TargetPattern *regexp.Regexp
	// CallTimeout is the per-call deadline. Default 10s.
	CallTimeout time.Duration
	// ReconnectAttempts bounds automatic reconnection. Default 3.
	ReconnectAttempts int
	// ReconnectDelay separates reconnect attempts. Default 2s.
	ReconnectDelay time.Duration
	// HTTPClient is used for discovery. Optional.
	HTTPClient *http.Client
	// Dialer is used for the websocket handshake. Optional.
	Dialer *websocket.Dialer
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

func (o *Options) withDefaults() {
	if len(o.Ports) == 0 {
		o.Ports = DefaultPorts
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 3
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type requestFrame struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type incomingFrame struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RemoteError    `json:"error"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	method   string
	deadline time.Time
	done     chan callResult // buffered, written at most once
}

// Conn is one correlated duplex channel to a discovered target. All methods
// are safe for concurrent use. A Conn is not reusable after Close.
type Conn struct {
	opts Options
	log  *zap.Logger

	writeMu sync.Mutex // serializes websocket writes

	mu           sync.Mutex
	state        ConnState
	ws           *websocket.Conn
	nextID       int64
	pending      map[int64]*pendingCall
	contexts     []ExecutionContext
	closed       bool // Close was called; terminal
	reconnecting bool
	genCounter   uint64 // bumps per physical connection, fences stale read loops

	events chan Event
}

// NewConn creates a disconnected channel.
func NewConn(opts Options) *Conn {
	opts.withDefaults()
	return &Conn{
		opts:    opts,
		log:     opts.Logger.Named("devtools"),
		pending: make(map[int64]*pendingCall),
		events:  make(chan Event, 64),
	}
}

// Events is the out-of-band lifecycle stream. Events are dropped, with a log
// line, if the consumer falls more than the buffer behind; lifecycle
// consumers are expected to be prompt.
func (c *Conn) Events() <-chan Event { return c.events }

// State reports the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Contexts returns a snapshot of the known execution contexts in discovery
// order.
func (c *Conn) Contexts() []ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExecutionContext, len(c.contexts))
	copy(out, c.contexts)
	return out
}

// PendingCalls reports the size of the pending-call table.
func (c *Conn) PendingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Connect runs discovery over the candidate ports, dials the selected
// target, and enables the baseline capabilities. It resolves only once the
// channel is usable for calls.
func (c *Conn) Connect(ctx context.Context) error {
	targets, err := Discover(ctx, c.opts.Ports, c.opts.HTTPClient)
	if err != nil {
		return err
	}
	target, err := PickTarget(targets, c.opts.TargetPattern)
	if err != nil {
		return err
	}
	return c.ConnectURL(ctx, target.WebSocketDebuggerURL)
}

// ConnectURL dials a known debugger URL directly, skipping discovery.
func (c *Conn) ConnectURL(ctx context.Context, wsURL string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("devtools: connect in state %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, _, err := c.opts.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.genCounter++
	gen := c.genCounter
	c.mu.Unlock()

	go c.readLoop(ws, gen)

	// Baseline capability enable. Runtime events drive the context set; a
	// channel that cannot enable them is not usable.
	if err := c.Call(ctx, "Runtime.enable", nil, nil); err != nil {
		c.teardown(ws, gen, false)
		return fmt.Errorf("enable runtime domain: %w", err)
	}
	// Page domain is best-effort; worker targets do not expose it.
	_ = c.Call(ctx, "Page.enable", nil, nil)

	c.log.Info("connected", zap.String("url", wsURL))
	return nil
}

// Call sends one correlated request and decodes the result into out (which
// may be nil). It fails with a *RemoteError, ErrCallTimeout, or
// ErrChannelClosed. Calls are independent; no ordering is implied between
// concurrent calls.
func (c *Conn) Call(ctx context.Context, method string, params, out interface{}) error {
	c.mu.Lock()
	if c.state != StateConnected || c.ws == nil {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.nextID++
	id := c.nextID
	pc := &pendingCall{
		method:   method,
		deadline: time.Now().Add(c.opts.CallTimeout),
		done:     make(chan callResult, 1),
	}
	c.pending[id] = pc
	ws := c.ws
	c.mu.Unlock()

	frame := requestFrame{ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	err := ws.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		return fmt.Errorf("%w: write failed: %v", ErrChannelClosed, err)
	}

	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-pc.done:
		if res.err != nil {
			return res.err
		}
		if out != nil && len(res.result) > 0 {
			if err := json.Unmarshal(res.result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		c.unregister(id)
		return fmt.Errorf("%w: %s after %s", ErrCallTimeout, method, c.opts.CallTimeout)
	case <-ctx.Done():
		c.unregister(id)
		return ctx.Err()
	}
}

// Close terminates the channel and disables automatic reconnection. Pending
// calls are rejected with ErrChannelClosed. Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	gen := c.genCounter
	c.mu.Unlock()

	if ws != nil {
		c.teardown(ws, gen, false)
	}
	return nil
}

// unregister drops a pending call that resolved locally (timeout, context
// cancellation, write failure). A late response for its id is ignored.
func (c *Conn) unregister(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		var frame incomingFrame
		if err := ws.ReadJSON(&frame); err != nil {
			c.teardown(ws, gen, true)
			return
		}
		if frame.ID != 0 {
			c.resolve(frame)
			continue
		}
		c.handleEvent(frame.Method, frame.Params)
	}
}

func (c *Conn) resolve(frame incomingFrame) {
	c.mu.Lock()
	pc, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()
	if !ok {
		return // late response for a timed-out or cleared call
	}
	if frame.Error != nil {
		pc.done <- callResult{err: frame.Error}
		return
	}
	pc.done <- callResult{result: frame.Result}
}

func (c *Conn) handleEvent(method string, params json.RawMessage) {
	switch method {
	case "Runtime.executionContextCreated":
		var ev struct {
			Context struct {
				ID      int64  `json:"id"`
				Origin  string `json:"origin"`
				Name    string `json:"name"`
				AuxData struct {
					FrameID string `json:"frameId"`
				} `json:"auxData"`
			} `json:"context"`
		}
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		locator := ev.Context.Origin
		if locator == "" || locator == "://" {
			locator = ev.Context.Name
		}
		ec := ExecutionContext{ID: ev.Context.ID, Locator: locator}
		c.mu.Lock()
		replaced := false
		for i := range c.contexts {
			if c.contexts[i].ID == ec.ID {
				c.contexts[i] = ec
				replaced = true
				break
			}
		}
		if !replaced {
			c.contexts = append(c.contexts, ec)
		}
		c.mu.Unlock()
		c.emit(Event{Kind: EventContextCreated, Context: ec})

	case "Runtime.executionContextDestroyed":
		var ev struct {
			ExecutionContextID int64 `json:"executionContextId"`
		}
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		var removed ExecutionContext
		found := false
		c.mu.Lock()
		for i := range c.contexts {
			if c.contexts[i].ID == ev.ExecutionContextID {
				removed = c.contexts[i]
				c.contexts = append(c.contexts[:i], c.contexts[i+1:]...)
				found = true
				break
			}
		}
		c.mu.Unlock()
		if found {
			c.emit(Event{Kind: EventContextDestroyed, Context: removed})
		}

	case "Runtime.executionContextsCleared":
		c.mu.Lock()
		c.contexts = nil
		c.mu.Unlock()
	}
}

// teardown is the single exit path for a physical connection. It clears the
// pending table atomically with respect to the read loop (both resolve and
// teardown take the table lock; a response arriving after the swap finds an
// empty table and is dropped). fromRead reports whether the read loop died
// on its own, which is what triggers reconnection.
func (c *Conn) teardown(ws *websocket.Conn, gen uint64, fromRead bool) {
	c.mu.Lock()
	if gen != c.genCounter || c.state == StateDisconnected {
		// A newer connection already exists, or another path won the race.
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.state = StateDisconnected
	c.ws = nil
	stale := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.contexts = nil
	closed := c.closed
	startReconnect := fromRead && !closed && !c.reconnecting
	if startReconnect {
		c.reconnecting = true
	}
	c.mu.Unlock()

	_ = ws.Close()
	for _, pc := range stale {
		pc.done <- callResult{err: ErrChannelClosed}
	}
	if len(stale) > 0 {
		c.log.Warn("cleared pending calls on disconnect", zap.Int("count", len(stale)))
	}
	c.emit(Event{Kind: EventDisconnected})

	if startReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop is single-flight: teardown only spawns it when the
// reconnecting flag was clear. Each attempt re-runs full discovery.
func (c *Conn) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		time.Sleep(c.opts.ReconnectDelay)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.CallTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.log.Info("reconnected", zap.Int("attempt", attempt))
			c.emit(Event{Kind: EventReconnected})
			return
		}
		lastErr = err
		c.log.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max", c.opts.ReconnectAttempts),
			zap.Error(err))
	}

	err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, c.opts.ReconnectAttempts, lastErr)
	c.log.Error("reconnect exhausted", zap.Error(err))
	c.emit(Event{Kind: EventReconnectFailed, Err: err})
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event dropped, consumer lagging", zap.String("kind", ev.Kind.String()))
	}
}
