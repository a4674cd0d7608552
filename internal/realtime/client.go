package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
	joinTimeout    = 10 * time.Second
)

var (
	// ErrClosed indicates the realtime connection has been shut down.
	ErrClosed = errors.New("realtime client closed")
	// ErrJoinRejected indicates the server refused a channel subscription.
	ErrJoinRejected = errors.New("channel join rejected")
)

// EventType mirrors the row-change kinds published by the backend.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one server-initiated change delivered on a channel.
type Event struct {
	Type   EventType
	Table  string
	Record json.RawMessage
}

// JoinConfig scopes a subscription to a table, change kind, and row filter.
type JoinConfig struct {
	Table  string `json:"table,omitempty"`
	Event  string `json:"event,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// envelope is the frame exchanged with the realtime endpoint.
type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

const (
	frameJoin     = "phx_join"
	frameLeave    = "phx_leave"
	frameReply    = "phx_reply"
	frameChange   = "postgres_changes"
	framePresence = "presence_state"
	frameTrack    = "presence_track"
)

type changePayload struct {
	Type   EventType       `json:"type"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

type replyPayload struct {
	Status string `json:"status"`
}

// Client multiplexes channel subscriptions over one websocket connection.
type Client struct {
	url     string
	anonKey string
	dialer  *websocket.Dialer
	logger  *slog.Logger

	refCounter atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan envelope
	done     chan struct{}
	subs     map[string]*Subscription
	pending  map[string]chan replyPayload
	closed   bool
	loopDone chan struct{}
}

// NewClient constructs a realtime client for the provided websocket endpoint.
// The connection is established lazily on the first Subscribe.
func NewClient(url, anonKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     url,
		anonKey: anonKey,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		subs:    make(map[string]*Subscription),
		pending: make(map[string]chan replyPayload),
	}
}

// Subscribe joins the named channel and returns a subscription whose Events
// channel receives row changes until Close is called. Close is idempotent and
// must run on every exit path of the caller; a failed join leaves nothing
// registered.
func (c *Client) Subscribe(ctx context.Context, topic string, cfg JoinConfig) (*Subscription, error) {
	if topic == "" {
		return nil, errors.New("realtime: topic must not be empty")
	}

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	ref := strconv.FormatUint(c.refCounter.Add(1), 10)
	replyCh := make(chan replyPayload, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.subs[topic]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("realtime: already subscribed to %s", topic)
	}
	c.pending[ref] = replyCh
	c.mu.Unlock()

	payload, err := json.Marshal(cfg)
	if err != nil {
		c.dropPending(ref)
		return nil, fmt.Errorf("encode join config: %w", err)
	}

	if err := c.enqueue(ctx, envelope{Topic: topic, Event: frameJoin, Payload: payload, Ref: ref}); err != nil {
		c.dropPending(ref)
		return nil, err
	}

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	select {
	case <-joinCtx.Done():
		c.dropPending(ref)
		return nil, fmt.Errorf("join %s: %w", topic, joinCtx.Err())
	case reply, ok := <-replyCh:
		if !ok {
			// Close drained the pending joins.
			return nil, ErrClosed
		}
		if reply.Status != "ok" {
			return nil, fmt.Errorf("join %s: %w", topic, ErrJoinRejected)
		}
	}

	sub := &Subscription{
		topic:  topic,
		client: c,
		events: make(chan Event, 256),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(sub.events)
		return nil, ErrClosed
	}
	c.subs[topic] = sub
	c.mu.Unlock()

	return sub, nil
}

// Track publishes presence metadata on an already-joined channel. Best effort.
func (c *Client) Track(ctx context.Context, topic string, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode presence metadata: %w", err)
	}
	return c.enqueue(ctx, envelope{Topic: topic, Event: frameTrack, Payload: payload})
}

// Close tears down the connection and every live subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	for ref, ch := range c.pending {
		close(ch)
		delete(c.pending, ref)
	}
	if c.done != nil {
		close(c.done)
	}
	for _, sub := range subs {
		close(sub.events)
	}
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	header := http.Header{}
	if c.anonKey != "" {
		header.Set("apikey", c.anonKey)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial realtime endpoint: %w", err)
	}

	c.conn = conn
	c.send = make(chan envelope, 64)
	c.done = make(chan struct{})
	c.loopDone = make(chan struct{})

	go c.readPump(conn)
	go c.writePump(conn, c.send, c.done)

	return nil
}

func (c *Client) enqueue(ctx context.Context, frame envelope) error {
	c.mu.Lock()
	send := c.send
	done := c.done
	closed := c.closed
	c.mu.Unlock()

	if closed || send == nil {
		return ErrClosed
	}

	// send is never closed; shutdown is signalled on done so a frame racing
	// Close fails cleanly instead of hitting a closed channel.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrClosed
	case send <- frame:
		return nil
	}
}

func (c *Client) dropPending(ref string) {
	c.mu.Lock()
	delete(c.pending, ref)
	c.mu.Unlock()
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		_ = c.Close()
		close(c.loopDone)
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("set read deadline", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame envelope
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("unexpected realtime close", "error", err)
			}
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame envelope) {
	switch frame.Event {
	case frameReply:
		var reply replyPayload
		if err := json.Unmarshal(frame.Payload, &reply); err != nil {
			c.logger.Error("decode join reply", "topic", frame.Topic, "error", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.Ref]
		delete(c.pending, frame.Ref)
		c.mu.Unlock()
		if ok {
			ch <- reply
		}
	case frameChange:
		var change changePayload
		if err := json.Unmarshal(frame.Payload, &change); err != nil {
			c.logger.Error("decode change event", "topic", frame.Topic, "error", err)
			return
		}

		// Lookup and delivery stay under the mutex so a concurrent Close
		// cannot close the event channel mid-send. Events for a released
		// channel are discarded: the handle is inert.
		c.mu.Lock()
		if sub, ok := c.subs[frame.Topic]; ok {
			sub.deliver(Event{Type: change.Type, Table: change.Table, Record: change.Record})
		}
		c.mu.Unlock()
	case framePresence:
		// Presence snapshots are not consumed by any component yet.
	default:
		c.logger.Debug("unhandled realtime frame", "event", frame.Event, "topic", frame.Topic)
	}
}

func (c *Client) writePump(conn *websocket.Conn, send <-chan envelope, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("set write deadline", "error", err)
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				c.logger.Error("write realtime frame", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	if ok {
		close(sub.events)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	// Best-effort leave; the registry entry is already gone so late events
	// for this topic are discarded either way.
	leaveCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.enqueue(leaveCtx, envelope{Topic: topic, Event: frameLeave}); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Warn("leave channel", "topic", topic, "error", err)
	}
}
