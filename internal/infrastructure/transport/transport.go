package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"

	"carconnect/internal/domain/entity"
	"carconnect/pkg/errors"
	"carconnect/pkg/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Options struct {
	HandshakeTimeout time.Duration
	HandshakeGrace   time.Duration
}

// Client wraps one websocket connection to the chat gateway. It performs a
// single dial per Connect call; retry orchestration lives in the caller.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration
	grace   time.Duration

	mu          sync.RWMutex
	conn        *websocket.Conn
	state       State
	userID      string
	voluntary   bool
	done        chan struct{}
	subscribers map[int]func(Event)
	nextSub     int

	writeMu sync.Mutex
}

func NewClient(socketURL string, opts Options) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.HandshakeGrace <= 0 {
		opts.HandshakeGrace = 5 * time.Second
	}

	return &Client{
		url:         socketURL,
		dialer:      &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout + opts.HandshakeGrace},
		timeout:     opts.HandshakeTimeout,
		grace:       opts.HandshakeGrace,
		state:       StateDisconnected,
		subscribers: make(map[int]func(Event)),
	}
}

// Connect dials the gateway with the bearer token in the handshake. The
// dial deadline is the handshake timeout plus a grace window, so a slow
// handshake landing inside the window still succeeds. A malformed or
// expired token fails before any dial, and a Connect while a connection
// is live or in flight fails with a CONFLICT instead of pretending it
// did the work.
func (c *Client) Connect(ctx context.Context, token string) error {
	userID, err := subjectOf(token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return errors.Conflict("connect called while " + state.String())
	}
	c.state = StateConnecting
	c.voluntary = false
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout+c.grace)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, header)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errors.Unauthorized("chat handshake rejected", err)
		}
		return errors.Unavailable("chat transport unreachable", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.userID = userID
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.readPump(conn, done)

	logger.Info("Chat transport connected as %s", userID)
	return nil
}

// Disconnect tears the connection down. Safe to call repeatedly and in
// any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.voluntary = true
	c.state = StateDisconnected
	c.mu.Unlock()

	// The read pump observes the closed connection and is the sole
	// closer of the done channel.
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UserID is the subject claim of the token used for the current
// connection; empty before the first Connect.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Done returns a channel closed when the current connection ends, for
// callers that drive reconnection. Returns a closed channel when not
// connected.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Subscribe registers a callback for every decoded inbound event and
// returns its unsubscribe function.
func (c *Client) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Client) EmitPrivateMessage(msg *entity.ChatMessage) error {
	return c.emit(eventPrivateMessage, msg)
}

func (c *Client) EmitTyping(recipientID, listingID string, typing bool) error {
	name := eventTyping
	if !typing {
		name = eventStopTyping
	}
	return c.emit(name, typingEmitPayload{RecipientID: recipientID, ListingID: listingID})
}

func (c *Client) EmitMarkRead(messageIDs []string, recipientID string) error {
	return c.emit(eventMarkAsRead, markReadEmitPayload{MessageIDs: messageIDs, RecipientID: recipientID})
}

func (c *Client) emit(event string, payload interface{}) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.Unavailable("chat transport not connected", nil)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Internal("failed to encode event payload", err)
	}

	env := envelope{
		Event:     event,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return errors.Unavailable("failed to emit event", err)
	}
	return nil
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.state = StateDisconnected
			c.done = nil
		}
		voluntary := c.voluntary
		c.mu.Unlock()
		close(done)
		if !voluntary {
			logger.Warn("Chat transport connection lost")
		}
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error("Chat transport read error: %v", err)
			}
			return
		}

		evt, err := decodeEvent(env)
		if err != nil {
			// Unknown or malformed events are dropped, not fatal.
			logger.Debug("Dropping transport event %q: %v", env.Event, err)
			continue
		}

		c.fanOut(evt)
	}
}

func (c *Client) fanOut(evt Event) {
	c.mu.RLock()
	subs := make([]func(Event), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// subjectOf extracts the user id from the token without verifying the
// signature; the gateway is the verifier, the client only needs the
// identity for self-filtering. Expired tokens are rejected locally to
// avoid a doomed dial.
func subjectOf(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", errors.Unauthorized("malformed auth token", err)
	}
	if !claims.VerifyExpiresAt(time.Now().Unix(), false) {
		return "", errors.Unauthorized("auth token expired", nil)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.Unauthorized("auth token has no subject", nil)
	}
	return sub, nil
}
