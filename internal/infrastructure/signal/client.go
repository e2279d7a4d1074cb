package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"embercall/internal/core/domain"
	"embercall/internal/core/ports"
	"embercall/pkg/retry"
	"embercall/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds signaling client tunables.
type Config struct {
	URL               string
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

// DefaultConfig returns the client defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectAttempts: 5,
		ReconnectBackoff:  2 * time.Second,
	}
}

// Envelope is the wire frame for every signaling message. Acknowledgements
// are frames of type "ack" echoing the request's correlation id.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const typeAck = "ack"

type registration struct {
	event string
	fn    ports.EventHandler
}

// Client is the process-wide signaling connection. It implements
// ports.SignalingChannel. Call sessions share it sequentially; the
// orchestrator's one-call-at-a-time invariant guarantees no concurrent use
// by two sessions.
type Client struct {
	cfg      Config
	identity ports.IdentityProvider
	dialer   *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connDone  chan struct{}
	connected bool
	closed    bool

	handlersMu sync.RWMutex
	handlers   map[string][]*registration

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	writeMu sync.Mutex

	onReconnect func(attempt int)

	logger *zap.SugaredLogger
}

func NewClient(cfg Config, identity ports.IdentityProvider, logger *zap.SugaredLogger) *Client {
	return &Client{
		cfg:      cfg,
		identity: identity,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string][]*registration),
		pending:  make(map[string]chan json.RawMessage),
		logger:   logger,
	}
}

// SetOnReconnect registers a hook invoked after each successful automatic
// reconnect. Consumers that need room membership must re-join themselves.
func (c *Client) SetOnReconnect(fn func(attempt int)) {
	c.onReconnect = fn
}

// Connect establishes the connection. Idempotent: a live connection is
// reused.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("signaling client closed: %w", domain.ErrSignalingDown)
	}
	if c.connected {
		return nil
	}
	return c.dialLocked(ctx)
}

// dialLocked performs the dial and starts the per-connection loops. Caller
// holds c.mu.
func (c *Client) dialLocked(ctx context.Context) error {
	token, userID, err := c.identity.Identity(ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	url := c.cfg.URL + "?user_id=" + string(userID)
	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("identity rejected (%d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("signaling dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	done := make(chan struct{})
	c.conn = conn
	c.connDone = done
	c.connected = true

	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)

	c.logger.Infow("signaling connected", "url", c.cfg.URL, "user_id", userID)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleDisconnect(conn, done, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		if env.Type == typeAck && env.ID != "" {
			c.deliverAck(env.ID, env.Payload)
			continue
		}
		c.dispatch(env.Type, env.Payload)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

// dispatch fans an inbound event out to every registered handler, in
// registration order. Handlers run on the read loop; long work belongs in the
// handler's own goroutine.
func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.handlersMu.RLock()
	regs := append([]*registration(nil), c.handlers[event]...)
	c.handlersMu.RUnlock()

	if len(regs) == 0 {
		c.logger.Debugw("unhandled signaling event", "event", event)
		return
	}
	for _, r := range regs {
		r.fn(payload)
	}
}

func (c *Client) deliverAck(id string, payload json.RawMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- payload
	}
}

// abandonPending fails every in-flight request. Callers waiting in Request
// observe ErrSignalingDown.
func (c *Client) abandonPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) handleDisconnect(conn *websocket.Conn, done chan struct{}, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	close(done)
	c.connDone = nil
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	c.abandonPending()

	if closed {
		return
	}

	if websocket.IsUnexpectedCloseError(cause, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.logger.Warnw("signaling connection lost", "error", cause)
	} else {
		c.logger.Infow("signaling connection closed", "error", cause)
	}

	go c.reconnect()
}

// reconnect attempts a bounded fixed-backoff redial. An active media session
// is not torn down on signaling loss; room membership is not resumed
// automatically.
func (c *Client) reconnect() {
	attempt := 0
	cfg := retry.FixedConfig(c.cfg.ReconnectAttempts, c.cfg.ReconnectBackoff)
	err := retry.Do(context.Background(), cfg, func() error {
		attempt++
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.connected {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		defer cancel()
		return c.dialLocked(ctx)
	})
	if err != nil {
		c.logger.Errorw("signaling reconnect exhausted", "attempts", c.cfg.ReconnectAttempts, "error", err)
		return
	}
	if c.onReconnect != nil {
		c.onReconnect(attempt)
	}
}

// On registers a handler for a named inbound event. The returned func removes
// exactly this registration and is safe to call more than once.
func (c *Client) On(event string, h ports.EventHandler) ports.Unsubscribe {
	reg := &registration{event: event, fn: h}

	c.handlersMu.Lock()
	c.handlers[event] = append(c.handlers[event], reg)
	c.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			defer c.handlersMu.Unlock()
			regs := c.handlers[event]
			for i, r := range regs {
				if r == reg {
					c.handlers[event] = append(regs[:i], regs[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit sends a named message without an acknowledgement.
func (c *Client) Emit(event string, payload interface{}) error {
	return c.writeEnvelope(Envelope{Type: event}, payload)
}

// Request sends a named message and waits for the server's acknowledgement.
// The acknowledgement arrives at most once; a dropped connection or expired
// context fails the call.
func (c *Client) Request(ctx context.Context, event string, payload interface{}) (json.RawMessage, error) {
	id := utils.NewCorrelationID()
	ch := make(chan json.RawMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeEnvelope(Envelope{Type: event, ID: id}, payload); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%s ack: %w", event, ctx.Err())
	case raw, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s ack abandoned: %w", event, domain.ErrSignalingDown)
		}
		return raw, nil
	}
}

func (c *Client) writeEnvelope(env Envelope, payload interface{}) error {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", env.Type, err)
		}
		env.Payload = data
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("emit %s: %w", env.Type, domain.ErrSignalingDown)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(env)
}

// Disconnect releases the connection and abandons queued acknowledgements.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
	c.mu.Unlock()

	c.abandonPending()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
