package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
)

// State is the connection status of one run's live chat.
type State string

const (
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosed       State = "closed"
	StateReconnecting State = "reconnecting"
	StateTerminated   State = "terminated"
)

var (
	// ErrNotOpen rejects sends while the connection is not open. The UI
	// contract is a disabled input, not a crash.
	ErrNotOpen = errors.New("channel is not open")
	// ErrConnectionExhausted is reported once the reconnect cap is hit;
	// the channel must be opened again explicitly.
	ErrConnectionExhausted = errors.New("reconnect attempts exhausted")
)

const (
	defaultMaxReconnect = 5
	defaultBackoff      = 3 * time.Second
)

// HistoryFetcher loads the prior chat messages of a run before the live
// connection is established.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, runID uint) ([]models.ChatMessage, error)
}

// Notifier emits a desktop notification for a foreign inbound message. A nil
// notifier means permission was never granted.
type Notifier interface {
	Notify(title, body string)
}

// Options configures one channel. Zero values fall back to defaults.
type Options struct {
	WSBaseURL      string
	Token          string
	LocalIDDiscord string
	MaxReconnect   int
	Backoff        time.Duration
	Dialer         *websocket.Dialer
	Notifier       Notifier
	OnState        func(State)
	OnError        func(detail string)
}

// Envelope is the wire frame of the chat stream, tagged by type.
type Envelope struct {
	Type      string    `json:"type"`
	UserName  string    `json:"user_name,omitempty"`
	IDDiscord string    `json:"id_discord,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Channel owns the persistent duplex connection of one open run view,
// including its reconnect loop and unread bookkeeping. The message log is
// append-only in transport delivery order; duplicates delivered by the
// transport stay duplicated.
type Channel struct {
	runID uint
	opts  Options

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	msgs       []models.ChatMessage
	unread     int
	foreground bool
	attempts   int
	closed     bool
	retryTimer *time.Timer
}

// Open fetches the run's chat history, then establishes the live
// connection. A failed history fetch fails the call; a failed connection
// does not, it drives the reconnect loop instead.
func Open(ctx context.Context, runID uint, fetcher HistoryFetcher, opts Options) (*Channel, error) {
	if opts.MaxReconnect <= 0 {
		opts.MaxReconnect = defaultMaxReconnect
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	c := &Channel{runID: runID, opts: opts, state: StateConnecting}

	history, err := fetcher.FetchHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	c.msgs = history

	if err := c.dial(); err != nil {
		log.Printf("ws: initial connect for run %d failed: %v", runID, err)
		c.connectionLost()
	}
	return c, nil
}

func (c *Channel) wsURL() string {
	q := url.Values{}
	q.Set("token", c.opts.Token)
	return fmt.Sprintf("%s/ws/chat/%d?%s", c.opts.WSBaseURL, c.runID, q.Encode())
}

func (c *Channel) dial() error {
	conn, _, err := c.opts.Dialer.Dial(c.wsURL(), nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(StateOpen)
	go c.readLoop(conn)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	settled := false
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.setState(StateClosed)
				return
			}
			c.connectionLost()
			return
		}
		if !settled {
			// A handshake alone proves nothing against a flapping
			// server; the connection counts as re-established only
			// once it delivers a frame, and only then does the
			// failure counter reset.
			settled = true
			c.mu.Lock()
			c.attempts = 0
			c.mu.Unlock()
		}
		c.handleEnvelope(env)
	}
}

// connectionLost counts one abnormal closure and either schedules a redial
// or, past the cap, terminates the channel.
func (c *Channel) connectionLost() {
	c.mu.Lock()
	c.conn = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts >= c.opts.MaxReconnect {
		attempts := c.attempts
		c.mu.Unlock()
		log.Printf("ws: run %d: giving up after %d attempts", c.runID, attempts)
		c.setState(StateTerminated)
		c.reportError(ErrConnectionExhausted.Error())
		return
	}
	c.state = StateReconnecting
	c.retryTimer = time.AfterFunc(c.opts.Backoff, c.redial)
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(StateReconnecting)
	}
}

func (c *Channel) redial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// History is not re-fetched on reconnect; only the connection step
	// repeats.
	if err := c.dial(); err != nil {
		log.Printf("ws: run %d: reconnect failed: %v", c.runID, err)
		c.connectionLost()
	}
}

func (c *Channel) handleEnvelope(env Envelope) {
	switch env.Type {
	case "new_message":
		c.appendMessage(env)
	case "confirmation":
		// Acknowledgement only; the echoed message carries the state.
	case "error":
		c.reportError(env.Detail)
	default:
		log.Printf("ws: run %d: ignoring envelope type %q", c.runID, env.Type)
	}
}

func (c *Channel) appendMessage(env Envelope) {
	name := env.UserName
	if name == "" {
		name = "Unknown"
	}
	msg := models.ChatMessage{
		IDDiscord: env.IDDiscord,
		UserName:  name,
		Message:   env.Message,
		CreatedAt: env.CreatedAt,
	}

	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	foreign := env.IDDiscord != c.opts.LocalIDDiscord
	if foreign && !c.foreground {
		c.unread++
	}
	c.mu.Unlock()

	if foreign && c.opts.Notifier != nil {
		c.opts.Notifier.Notify(name, env.Message)
	}
}

// Send transmits one chat message. Whitespace-only bodies are a no-op; the
// message is appended to the log only when the backend echoes it back.
func (c *Channel) Send(body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		return ErrNotOpen
	}
	return c.conn.WriteJSON(Envelope{Type: "send_message", Message: body})
}

// Close closes the connection with a normal-closure frame and suppresses
// any pending reconnect.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	c.setState(StateClosed)
}

// State returns the current connection status.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the message log in delivery order.
func (c *Channel) Messages() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Attempts returns the count of consecutive failed connection attempts.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Unread returns the count of foreign messages received while backgrounded.
func (c *Channel) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// SetForeground marks whether this view is the foregrounded one.
// Foregrounding zeroes the unread counter immediately.
func (c *Channel) SetForeground(fg bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.foreground = fg
	if fg {
		c.unread = 0
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Channel) reportError(detail string) {
	if c.opts.OnError != nil {
		c.opts.OnError(detail)
	}
}
