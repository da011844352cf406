// Package transport maintains the persistent websocket connection that
// carries a conversation's live message stream. One Channel exists per
// conversation, shared by every consumer through the Manager, so reconnect
// state is never duplicated.
//
// Delivery is at-least-once and ordering across reconnect boundaries is not
// guaranteed; authoritative ordering comes from the message store's
// server-assigned ids, never from arrival order here.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/bookswap/pkg/logger"
)

// ErrChannelClosed is returned when operating on a permanently closed Channel.
var ErrChannelClosed = errors.New("transport channel closed")

// State is the connection state visible to callers. Raw socket events are
// never exposed; consumers only ever observe these three values.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// NotConnectedError is returned by Send while the channel is down. Callers
// must surface it to the user; nothing is queued for later resend.
type NotConnectedError struct {
	ConversationID string
}

func (e *NotConnectedError) Error() string {
	return "transport: conversation " + e.ConversationID + ": not connected"
}

func IsNotConnected(err error) bool {
	var ne *NotConnectedError
	return errors.As(err, &ne)
}

// Envelope is the inbound wire frame for both chat text and system events.
type Envelope struct {
	Type          string    `json:"type"` // "message" | "system"
	ID            string    `json:"id,omitempty"`
	SenderID      string    `json:"senderId"`
	Content       string    `json:"content,omitempty"`
	StatusKind    string    `json:"statusKind,omitempty"`
	SentTime      time.Time `json:"sentTime"`
	NegotiationID string    `json:"negotiationId,omitempty"`
}

// sendFrame is the outbound wire frame for chat text.
type sendFrame struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// Option configures a Channel.
type Option func(*Channel)

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(c *Channel) {
		c.backoffMin = minDelay
		c.backoffMax = maxDelay
	}
}

// WithDialer overrides the websocket dialer, primarily for tests.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// Channel is one logical connection for one conversation. It reconnects
// automatically with exponential backoff until Close is called; handler
// registration fans out to every subscriber and returns an unsubscribe func.
type Channel struct {
	conversationID string
	url            string
	dialer         *websocket.Dialer
	backoffMin     time.Duration
	backoffMax     time.Duration

	state  atomic.Int32
	closed atomic.Bool
	done   chan struct{}

	writeMu sync.Mutex
	conn    *websocket.Conn
	connMu  sync.Mutex

	subMu       sync.Mutex
	nextSubID   int
	msgSubs     map[int]func(Envelope)
	connectSubs map[int]func()
	dropSubs    map[int]func()
	errSubs     map[int]func(error)
}

// NewChannel creates a Channel for the conversation stream at url. Connect
// must be called to start it.
func NewChannel(conversationID, url string, opts ...Option) *Channel {
	c := &Channel{
		conversationID: conversationID,
		url:            url,
		dialer:         websocket.DefaultDialer,
		backoffMin:     500 * time.Millisecond,
		backoffMax:     30 * time.Second,
		done:           make(chan struct{}),
		msgSubs:        make(map[int]func(Envelope)),
		connectSubs:    make(map[int]func()),
		dropSubs:       make(map[int]func()),
		errSubs:        make(map[int]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the coarse connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Connected reports whether the channel is currently usable for Send.
func (c *Channel) Connected() bool {
	return c.State() == Connected
}

// ConversationID returns the conversation this channel serves.
func (c *Channel) ConversationID() string {
	return c.conversationID
}

// Connect starts the connection loop. It returns immediately; connection
// state is observable via State and the OnConnect/OnDisconnect handlers.
// The loop ends when ctx is canceled or Close is called.
func (c *Channel) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	go c.run(ctx)
	return nil
}

// Send transmits a chat message. It fails fast with NotConnectedError while
// the channel is down rather than queueing silently.
func (c *Channel) Send(ctx context.Context, content string) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if c.State() != Connected {
		return &NotConnectedError{ConversationID: c.conversationID}
	}

	frame := sendFrame{
		Action:         "send",
		ConversationID: c.conversationID,
		Content:        content,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn := c.currentConn()
	if conn == nil {
		return &NotConnectedError{ConversationID: c.conversationID}
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &NotConnectedError{ConversationID: c.conversationID}
	}
	return nil
}

// OnMessage registers a handler for inbound envelopes. The returned func
// unsubscribes it; handlers from multiple call sites fan out independently.
func (c *Channel) OnMessage(fn func(Envelope)) func() {
	return c.subscribe(func(id int) { c.msgSubs[id] = fn }, func(id int) { delete(c.msgSubs, id) })
}

// OnConnect registers a handler invoked on every (re)connection.
func (c *Channel) OnConnect(fn func()) func() {
	return c.subscribe(func(id int) { c.connectSubs[id] = fn }, func(id int) { delete(c.connectSubs, id) })
}

// OnDisconnect registers a handler invoked on every connection drop.
func (c *Channel) OnDisconnect(fn func()) func() {
	return c.subscribe(func(id int) { c.dropSubs[id] = fn }, func(id int) { delete(c.dropSubs, id) })
}

// OnError registers a handler for transport errors. Errors here are
// informational; reconnection is automatic.
func (c *Channel) OnError(fn func(error)) func() {
	return c.subscribe(func(id int) { c.errSubs[id] = fn }, func(id int) { delete(c.errSubs, id) })
}

func (c *Channel) subscribe(add func(int), remove func(int)) func() {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	add(id)
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			remove(id)
			c.subMu.Unlock()
		})
	}
}

// Close permanently shuts the channel down. A closed channel never
// reconnects; the Manager creates a fresh one on the next Acquire.
func (c *Channel) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
		c.state.Store(int32(Disconnected))
	}
}

func (c *Channel) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Channel) run(ctx context.Context) {
	delay := c.backoffMin

	for {
		if c.closed.Load() || ctx.Err() != nil {
			c.state.Store(int32(Disconnected))
			return
		}

		c.state.Store(int32(Connecting))
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.notifyError(err)
			logger.WarnCF("transport", "Dial failed, backing off", map[string]any{
				"conversation_id": c.conversationID,
				"delay":           delay.String(),
				"error":           err.Error(),
			})
			if !c.sleep(ctx, delay) {
				c.state.Store(int32(Disconnected))
				return
			}
			delay = nextDelay(delay, c.backoffMax)
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.state.Store(int32(Connected))
		delay = c.backoffMin
		c.notifyConnect()
		logger.InfoCF("transport", "Connected", map[string]any{
			"conversation_id": c.conversationID,
		})

		c.readLoop(conn)

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()

		if c.closed.Load() || ctx.Err() != nil {
			c.state.Store(int32(Disconnected))
			return
		}

		c.state.Store(int32(Connecting))
		c.notifyDisconnect()
		logger.WarnCF("transport", "Connection dropped, reconnecting", map[string]any{
			"conversation_id": c.conversationID,
		})
		if !c.sleep(ctx, delay) {
			c.state.Store(int32(Disconnected))
			return
		}
		delay = nextDelay(delay, c.backoffMax)
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.notifyError(err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.WarnCF("transport", "Dropping malformed envelope", map[string]any{
				"conversation_id": c.conversationID,
				"error":           err.Error(),
			})
			continue
		}
		c.notifyMessage(env)
	}
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// nextDelay doubles the backoff with ±20% jitter, capped at max.
func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(rand.Int63n(int64(next)/5+1) - int64(next)/10)
	return next + jitter
}

func (c *Channel) notifyMessage(env Envelope) {
	for _, fn := range c.snapshotMsgSubs() {
		fn(env)
	}
}

func (c *Channel) notifyConnect() {
	c.subMu.Lock()
	subs := make([]func(), 0, len(c.connectSubs))
	for _, fn := range c.connectSubs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (c *Channel) notifyDisconnect() {
	c.subMu.Lock()
	subs := make([]func(), 0, len(c.dropSubs))
	for _, fn := range c.dropSubs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (c *Channel) notifyError(err error) {
	c.subMu.Lock()
	subs := make([]func(error), 0, len(c.errSubs))
	for _, fn := range c.errSubs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (c *Channel) snapshotMsgSubs() []func(Envelope) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	subs := make([]func(Envelope), 0, len(c.msgSubs))
	for _, fn := range c.msgSubs {
		subs = append(subs, fn)
	}
	return subs
}
