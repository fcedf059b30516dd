package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	feast "github.com/openfeast/feast-client/client"
)

// State is the channel's connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// TokenSource yields the current credential pair; *feast.TokenStore satisfies
// it. The channel re-reads it on every (re)connect so a logout mid-retry is
// observed.
type TokenSource interface {
	Get() *feast.TokenPair
}

var (
	// ErrNoCredentials means connect was called without a stored token pair.
	ErrNoCredentials = errors.New("realtime: no credentials for channel")
	// ErrUnknownRole means the role maps to no channel endpoint.
	ErrUnknownRole = errors.New("realtime: unknown role")
)

const (
	maxReconnectDelay = 30 * time.Second

	// stableConnWindow is how long a connection must stay open before its loss
	// resets the retry budget. Open is reached right after the auth write, so
	// an accept-then-drop server would otherwise reset the counter every cycle
	// and retry forever.
	stableConnWindow = 30 * time.Second
)

// Channel owns at most one live WebSocket per session. Connection loss while
// the session is still authenticated triggers bounded reconnection; exhausting
// the cap settles in Disconnected without panicking, observable through State
// or the "disconnected" event.
type Channel struct {
	baseURL    string // ws(s)://host, channel routes appended per role
	tokens     TokenSource
	dispatcher *Dispatcher
	logger     zerolog.Logger
	dialer     *websocket.Dialer

	maxAttempts int
	baseDelay   time.Duration

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	role       feast.Role
	attempts   int
	openedAt   time.Time
	generation uint64 // bumped on Connect/Disconnect; stale readers and timers check it
	retryTimer *time.Timer

	// writeMu serializes socket writes; gorilla allows at most one concurrent
	// writer per connection.
	writeMu sync.Mutex
}

func NewChannel(cfg feast.Config, tokens TokenSource, dispatcher *Dispatcher, logger zerolog.Logger) *Channel {
	return &Channel{
		baseURL:     cfg.WebSocketBaseURL(),
		tokens:      tokens,
		dispatcher:  dispatcher,
		logger:      logger.With().Str("component", "realtime_channel").Logger(),
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		maxAttempts: cfg.ReconnectAttempts,
		baseDelay:   cfg.ReconnectDelay,
	}
}

// State reports the current lifecycle position.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role reports the role the channel was last connected for.
func (c *Channel) Role() feast.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Connect opens the channel for role. Re-entrant calls while the channel is
// anywhere but Disconnected are idempotent no-ops, so at most one socket ever
// exists per session. An error is returned only for guard violations (missing
// credentials, unknown role); a failed dial enters the reconnect loop instead,
// since the poller keeps data fresh in the meantime.
func (c *Channel) Connect(ctx context.Context, role feast.Role) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug().Stringer("state", state).Msg("connect ignored, channel already active")
		return nil
	}
	if c.tokens.Get() == nil {
		c.mu.Unlock()
		return ErrNoCredentials
	}
	path, ok := endpointPath(role)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownRole
	}
	c.state = StateConnecting
	c.role = role
	c.attempts = 0
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.logger.Info().Str("role", string(role)).Str("path", path).Msg("connecting realtime channel")

	if err := c.dial(ctx, gen, path); err != nil {
		c.connectionLost(gen, err)
	}
	return nil
}

// Disconnect tears the channel down from any state: pending retry timers are
// cancelled and the socket, if open, is closed before Disconnect returns.
// Idempotent, safe on view-teardown paths.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.generation++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	prev := c.state
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	if prev != StateDisconnected {
		c.logger.Info().Msg("realtime channel disconnected")
		c.dispatcher.Emit(Disconnected{Reason: "client disconnect"})
	}
}

// Send writes a JSON message to the server. Valid only in Open; in any other
// state it reports false instead of raising, so callers check the boolean.
func (c *Channel) Send(v any) bool {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(v)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug().Err(err).Msg("send failed")
		return false
	}
	return true
}

// dial performs one connect round: open the socket, send the auth frame and
// go Open. The server never acks a good token, and a healthy channel can stay
// silent indefinitely, so there is no read deadline; rejection arrives as an
// auth_error frame on the read path.
func (c *Channel) dial(ctx context.Context, gen uint64, path string) error {
	pair := c.tokens.Get()
	if pair == nil {
		// Logged out while a (re)connect was in flight.
		c.mu.Lock()
		if c.generation == gen {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.generation != gen || c.state == StateDisconnected {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.state = StateAuthenticating
	c.conn = conn
	c.mu.Unlock()

	// Authentication is the first client frame after open.
	c.writeMu.Lock()
	err = conn.WriteJSON(map[string]string{"type": "auth", "token": pair.Access})
	c.writeMu.Unlock()
	if err != nil {
		c.dropConn(gen, conn)
		return err
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.state = StateOpen
	c.openedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info().Str("role", string(c.Role())).Msg("realtime channel open")
	c.dispatcher.Emit(Connected{})

	go c.readLoop(gen, conn)
	return nil
}

// readLoop delivers frames in arrival order until the socket dies. Decoding
// and fan-out happen synchronously here, which is what preserves ordering
// across subscribers.
func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("read loop ended")
			c.connectionLost(gen, err)
			return
		}

		ev, derr := decodeFrame(data)
		if derr != nil {
			c.logger.Debug().Err(derr).Msg("dropping frame")
			continue
		}
		if authErr, ok := ev.(AuthError); ok {
			c.authRejected(gen, conn, authErr)
			return
		}
		c.dispatcher.Emit(ev)
	}
}

// authRejected is terminal: the server refused the session's token, and no
// redial can fix that. The session controller reacts to the emitted
// auth_error event.
func (c *Channel) authRejected(gen uint64, conn *websocket.Conn, authErr AuthError) {
	c.mu.Lock()
	if c.generation == gen {
		c.state = StateDisconnected
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	c.logger.Warn().Str("detail", authErr.Detail).Msg("channel auth rejected")
	c.dispatcher.Emit(authErr)
	c.dispatcher.Emit(Disconnected{Reason: "auth rejected"})
}

// connectionLost routes any socket failure through the reconnect policy:
// retry while the session still has credentials and the attempt ceiling is
// not reached, otherwise settle in Disconnected without raising.
func (c *Channel) connectionLost(gen uint64, err error) {
	c.mu.Lock()
	if c.generation != gen || c.state == StateDisconnected {
		// Explicit teardown already happened.
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	if wasOpen && time.Since(c.openedAt) >= stableConnWindow {
		c.attempts = 0
	}
	c.conn = nil

	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}

	if c.tokens.Get() == nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Info().Msg("session ended, not reconnecting")
		c.dispatcher.Emit(Disconnected{Reason: reason})
		return
	}

	if c.attempts >= c.maxAttempts {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Warn().Int("attempts", c.maxAttempts).Msg("reconnect attempts exhausted")
		c.dispatcher.Emit(Disconnected{Reason: reason})
		return
	}

	c.attempts++
	attempt := c.attempts
	c.state = StateReconnecting

	delay := time.Duration(attempt) * c.baseDelay
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	c.retryTimer = time.AfterFunc(delay, func() { c.retry(gen) })
	c.mu.Unlock()

	c.logger.Info().
		Int("attempt", attempt).
		Int("max_attempts", c.maxAttempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")
	if wasOpen {
		c.dispatcher.Emit(Disconnected{Reason: reason})
	}
}

func (c *Channel) retry(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	path, _ := endpointPath(c.role)
	c.mu.Unlock()

	if err := c.dial(context.Background(), gen, path); err != nil {
		c.connectionLost(gen, err)
	}
}

// dropConn closes a half-established connection and clears it from the
// channel when it is still the current one.
func (c *Channel) dropConn(gen uint64, conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.generation == gen && c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}
