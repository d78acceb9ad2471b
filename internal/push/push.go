package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second

	readLimit = 1 << 20
)

// State is the connection state.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateOpen               State = "open"
	StateReconnectScheduled State = "reconnect-scheduled"
)

// Handler receives one envelope.
type Handler func(models.Envelope)

// Conn is the subset of a WebSocket connection the client reads from.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// DialFunc opens a connection to rawURL.
type DialFunc func(ctx context.Context, rawURL string) (Conn, error)

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

// Options configures a [Client]. Zero values select the defaults.
type Options struct {
	URL          string
	Token        func() string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Logger       *log.Logger

	Dial      DialFunc
	AfterFunc AfterFunc
}

// OptionsFromConfig maps the api and push config sections onto [Options].
func OptionsFromConfig(api shared.APIConfig, p shared.PushConfig, token func() string) Options {
	return Options{
		URL:          api.WSURL,
		Token:        token,
		MaxAttempts:  p.MaxReconnectAttempts,
		InitialDelay: time.Duration(p.InitialDelayMillis) * time.Millisecond,
		MaxDelay:     time.Duration(p.MaxDelayMillis) * time.Millisecond,
	}
}

type entry struct {
	fn      Handler
	removed atomic.Bool
}

// Client is a managed, auto-reconnecting push channel.
type Client struct {
	url          string
	token        func() string
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	dial         DialFunc
	afterFunc    AfterFunc
	logger       *log.Logger

	mu          sync.Mutex
	state       State
	epoch       uint64
	attempts    int
	delay       time.Duration
	dialedToken string
	conn        Conn
	cancel      context.CancelFunc
	stopTimer   func() bool
	handlers    map[string][]*entry
	anyHandlers []*entry
}

// NewClient creates a disconnected client.
func NewClient(opts Options) *Client {
	c := &Client{
		url:          opts.URL,
		token:        opts.Token,
		maxAttempts:  opts.MaxAttempts,
		initialDelay: opts.InitialDelay,
		maxDelay:     opts.MaxDelay,
		dial:         opts.Dial,
		afterFunc:    opts.AfterFunc,
		logger:       shared.WithLogger(opts.Logger, "component", "push"),
		state:        StateDisconnected,
		handlers:     make(map[string][]*entry),
	}

	if c.token == nil {
		c.token = func() string { return "" }
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.initialDelay <= 0 {
		c.initialDelay = DefaultInitialDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = DefaultMaxDelay
	}
	if c.dial == nil {
		c.dial = dialWebSocket
	}
	if c.afterFunc == nil {
		c.afterFunc = func(d time.Duration, f func()) func() bool { return time.AfterFunc(d, f).Stop }
	}
	c.delay = c.initialDelay
	return c
}

// Connect opens the channel with the current token.
//
// It is a no-op while open or connecting, or when no token is available.
// Calling it while a reconnect is scheduled connects immediately.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateOpen || c.state == StateConnecting {
		return
	}
	c.connectLocked()
}

// Disconnect closes the channel and suppresses reconnects until the next [Client.Connect].
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.epoch++
	c.clearTimerLocked()
	cancel, conn := c.cancel, c.conn
	c.cancel, c.conn = nil, nil
	c.state = StateDisconnected
	c.attempts = 0
	c.delay = c.initialDelay
	c.dialedToken = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// SyncToken follows the session token: connect when one appears, reconnect when it changes,
// disconnect when it is cleared.
func (c *Client) SyncToken(token string) {
	if token == "" {
		c.Disconnect()
		return
	}

	c.mu.Lock()
	stale := c.dialedToken != token && (c.state == StateOpen || c.state == StateConnecting)
	c.mu.Unlock()

	if stale {
		c.Disconnect()
	}
	c.Connect()
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool { return c.State() == StateOpen }

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers h for envelopes of eventType. The returned function unregisters it.
func (c *Client) On(eventType string, h Handler) func() {
	e := &entry{fn: h}

	c.mu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], e)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		e.removed.Store(true)
		c.handlers[eventType] = without(c.handlers[eventType], e)
		if len(c.handlers[eventType]) == 0 {
			delete(c.handlers, eventType)
		}
	}
}

// OnAny registers h for every envelope. The returned function unregisters it.
func (c *Client) OnAny(h Handler) func() {
	e := &entry{fn: h}

	c.mu.Lock()
	c.anyHandlers = append(c.anyHandlers, e)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		e.removed.Store(true)
		c.anyHandlers = without(c.anyHandlers, e)
	}
}

func without(entries []*entry, e *entry) []*entry {
	for i, other := range entries {
		if other == e {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func (c *Client) connectLocked() {
	token := c.token()
	if token == "" {
		c.clearTimerLocked()
		c.state = StateDisconnected
		return
	}

	target, err := withToken(c.url, token)
	if err != nil {
		c.logger.Error("invalid push url", "error", err)
		c.state = StateDisconnected
		return
	}

	c.clearTimerLocked()
	c.epoch++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.dialedToken = token
	c.state = StateConnecting

	go c.run(ctx, c.epoch, target)
}

func (c *Client) run(ctx context.Context, epoch uint64, target string) {
	conn, err := c.dial(ctx, target)
	if err != nil {
		c.logger.Debug("dial failed", "error", err)
		c.closed(epoch)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.delay = c.initialDelay
	c.mu.Unlock()
	c.logger.Debug("connected")

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			conn.Close()
			c.logger.Debug("connection closed", "error", err)
			c.closed(epoch)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.logger.Debug("dropping malformed frame", "size", len(data))
			continue
		}
		c.dispatch(epoch, env)
	}
}

// closed handles the end of a connection attempt or session that was not requested by Disconnect.
func (c *Client) closed(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return
	}
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if c.attempts >= c.maxAttempts {
		c.logger.Info("giving up on push channel", "attempts", c.attempts)
		c.state = StateDisconnected
		return
	}

	c.attempts++
	delay := c.delay
	c.delay = min(c.delay*2, c.maxDelay)
	c.state = StateReconnectScheduled
	c.logger.Debug("reconnect scheduled", "attempt", c.attempts, "delay", delay)

	c.stopTimer = c.afterFunc(delay, func() { c.reconnect(epoch) })
}

func (c *Client) reconnect(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch || c.state != StateReconnectScheduled {
		return
	}
	c.stopTimer = nil
	c.connectLocked()
}

func (c *Client) clearTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Client) dispatch(epoch uint64, env models.Envelope) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	targets := make([]*entry, 0, len(c.handlers[env.Type])+len(c.anyHandlers))
	targets = append(targets, c.handlers[env.Type]...)
	targets = append(targets, c.anyHandlers...)
	c.mu.Unlock()

	for _, e := range targets {
		if e.removed.Load() {
			continue
		}
		e.fn(env)
	}
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsConn struct{ c *websocket.Conn }

func dialWebSocket(ctx context.Context, rawURL string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(readLimit)
	return wsConn{c}, nil
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Close() error { return w.c.Close(websocket.StatusNormalClosure, "") }
