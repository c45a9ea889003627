package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-negotiation/internal/observability"
)

// State is the lifecycle of the logical connection. Transitions are driven
// only by the Conn itself; consumers observe via State() or the lifecycle
// channels but never mutate it.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Lifecycle channels, delivered through the same subscribe surface as
// server-pushed channels.
const (
	ChannelConnected    = "connected"
	ChannelDisconnected = "disconnected"
	ChannelError        = "error"
)

// Handler receives the raw payload of one frame on a subscribed channel.
type Handler func(data json.RawMessage)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type subscriber struct {
	id uint64
	fn Handler
}

// Options tunes the reconnect schedule. Zero values fall back to the
// defaults (1s base delay, 5 attempts).
type Options struct {
	BaseDelay   time.Duration
	MaxAttempts int
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
}

// Conn owns one logical duplex connection to the matching server and exposes
// a channel-keyed publish/subscribe surface on top of it. It reconnects with
// bounded exponential backoff and is never fatal to the process: after the
// attempt budget is exhausted it emits a terminal error event and waits for
// an explicit Reconnect.
type Conn struct {
	url         string
	log         *slog.Logger
	baseDelay   time.Duration
	maxAttempts int
	dialer      *websocket.Dialer

	mu         sync.Mutex
	state      State
	ws         *websocket.Conn
	gen        uint64 // connection generation; stale read loops are ignored
	attempt    int
	lastDelay  time.Duration
	retryTimer *time.Timer
	nextSubID  uint64
	handlers   map[string][]subscriber
	closed     bool

	writeMu sync.Mutex
}

func New(url string, opts Options) *Conn {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Conn{
		url:         url,
		log:         opts.Logger,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		dialer:      opts.Dialer,
		handlers:    make(map[string][]subscriber),
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryInfo reports the current reconnect attempt and the delay of the
// pending retry, for status reporting.
func (c *Conn) RetryInfo() (attempt int, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt, c.lastDelay
}

// Connect is idempotent: a no-op while already Connected or Connecting.
// Calling it while Reconnecting preempts the pending retry timer and dials
// immediately.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.closed || c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.state = Connecting
	c.mu.Unlock()
	go c.dial()
}

// Reconnect tears down any current connection, resets the attempt counter
// and connects from scratch. This is the only recovery path once the
// automatic backoff budget is exhausted.
func (c *Conn) Reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
		c.gen++
	}
	c.attempt = 0
	c.lastDelay = 0
	c.state = Disconnected
	c.mu.Unlock()
	c.Connect()
}

// Close shuts the connection down for good; the Conn cannot be reused.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.gen++
	c.state = Disconnected
	c.mu.Unlock()
}

func (c *Conn) dial() {
	ws, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		observability.ConnectFailures.Inc()
		c.log.Warn("connect failed", "url", c.url, "error", err)
		c.mu.Lock()
		if c.closed || c.state == Connected {
			c.mu.Unlock()
			return
		}
		c.state = Disconnected
		c.mu.Unlock()
		c.scheduleRetry(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.state = Connected
	c.attempt = 0
	c.lastDelay = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.log.Info("connected", "url", c.url)
	c.emit(ChannelConnected, map[string]any{"url": c.url})
	go c.readLoop(ws, gen)
}

func (c *Conn) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.log.Debug("dropping malformed frame", "error", err)
			continue
		}
		c.Dispatch(f.Event, f.Data)
	}
}

func (c *Conn) handleDisconnect(gen uint64, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.state = Disconnected
	c.mu.Unlock()

	c.log.Warn("disconnected", "error", cause)
	c.emit(ChannelDisconnected, map[string]any{"reason": cause.Error()})
	c.scheduleRetry(cause)
}

// scheduleRetry arms the next backoff timer: delay = base * 2^(attempt-1).
// Past the attempt budget it emits a terminal error and stops; only an
// explicit Reconnect resumes from there.
func (c *Conn) scheduleRetry(cause error) {
	c.mu.Lock()
	if c.closed || c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return
	}
	c.attempt++
	if c.attempt > c.maxAttempts {
		c.attempt = c.maxAttempts
		c.mu.Unlock()
		c.log.Error("reconnect attempts exhausted", "attempts", c.maxAttempts, "error", cause)
		c.emit(ChannelError, map[string]any{
			"reason": fmt.Sprintf("reconnect attempts exhausted after %d tries: %v", c.maxAttempts, cause),
		})
		return
	}
	delay := c.baseDelay << (c.attempt - 1)
	c.lastDelay = delay
	c.state = Reconnecting
	observability.ReconnectsTotal.Inc()
	c.retryTimer = time.AfterFunc(delay, c.retry)
	attempt := c.attempt
	c.mu.Unlock()
	c.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (c *Conn) retry() {
	c.mu.Lock()
	// Skip if a connection was established by another path meanwhile.
	if c.closed || c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()
	c.dial()
}

// Send publishes one frame on a channel. Fire-and-forget: while not
// Connected the message is dropped with a logged warning, no buffering and
// no retry. Fare messages are time-bounded, so a stale retry is worse than
// a dropped one.
func (c *Conn) Send(channel string, payload any) {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || ws == nil {
		observability.DroppedSends.Inc()
		c.log.Warn("send dropped: not connected", "channel", channel)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("send dropped: marshal failed", "channel", channel, "error", err)
		return
	}
	c.writeMu.Lock()
	err = ws.WriteJSON(frame{Event: channel, Data: data})
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn("send failed", "channel", channel, "error", err)
	}
}

// Dispatch delivers a payload to local subscribers in registration order, as
// if it had arrived from the server. Lifecycle events use the same path, so
// ordering relative to server frames is whatever the dispatching goroutine
// observed.
func (c *Conn) Dispatch(channel string, data json.RawMessage) {
	c.mu.Lock()
	subs := make([]subscriber, len(c.handlers[channel]))
	copy(subs, c.handlers[channel])
	c.mu.Unlock()

	observability.MessagesDispatched.WithLabelValues(channel).Inc()
	for _, s := range subs {
		c.invoke(channel, s, data)
	}
}

// invoke isolates one handler: a panic is recovered and logged, never
// propagated to later handlers on the same channel.
func (c *Conn) invoke(channel string, s subscriber, data json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("subscriber panicked", "channel", channel, "error", rec)
		}
	}()
	s.fn(data)
}

// emit delivers a locally-generated lifecycle event through the same
// dispatch path as server frames.
func (c *Conn) emit(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.Dispatch(channel, data)
}
