package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hoodly/hoodlysync/internal/models"
	"github.com/hoodly/hoodlysync/internal/realtime"
	"github.com/hoodly/hoodlysync/internal/remote"
)

// State tracks a conversation through its lifecycle. Transitions only move
// forward; a closed conversation cannot be reopened.
type State int

const (
	StateIdle State = iota
	StateSubscribing
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conversation is one chat channel: the persisted backlog merged with live
// inserts, kept ordered by created_at.
type Conversation struct {
	svc    *Service
	topic  string
	filter remote.ConversationFilter

	mu       sync.Mutex
	state    State
	messages []models.Message
	stream   Stream

	done chan struct{}
}

func newConversation(svc *Service, topic string, filter remote.ConversationFilter) *Conversation {
	return &Conversation{
		svc:    svc,
		topic:  topic,
		filter: filter,
		done:   make(chan struct{}),
	}
}

// Topic returns the realtime channel name of this conversation.
func (c *Conversation) Topic() string {
	return c.topic
}

// State returns the current lifecycle state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open joins the realtime channel and loads the message backlog. Every exit
// path either leaves the conversation live or fully released: a failed open
// never leaks a subscription.
func (c *Conversation) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		if state == StateClosed {
			return ErrConversationClosed
		}
		return ErrAlreadyOpen
	}
	c.state = StateSubscribing
	c.mu.Unlock()

	stream, err := c.svc.subscriber.Subscribe(ctx, c.topic, realtime.JoinConfig{
		Table: "messages",
		Event: string(realtime.EventInsert),
	})
	if err != nil {
		c.release(nil)
		return fmt.Errorf("join %s: %w", c.topic, err)
	}

	history, err := c.svc.store.History(ctx, c.filter, historyLimit)
	if err != nil {
		c.release(stream)
		return fmt.Errorf("load history for %s: %w", c.topic, err)
	}

	c.mu.Lock()
	if c.state != StateSubscribing {
		c.mu.Unlock()
		stream.Close()
		return ErrConversationClosed
	}
	for _, msg := range history {
		c.insertLocked(msg)
	}
	c.stream = stream
	c.state = StateLive
	c.mu.Unlock()

	go c.consume(stream)
	return nil
}

// Messages returns a snapshot of the conversation ordered by created_at.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Send persists a message and merges the stored row locally. The realtime
// echo of the same row is deduplicated by id.
func (c *Conversation) Send(ctx context.Context, content, messageType string) (models.Message, error) {
	c.mu.Lock()
	if c.state != StateLive {
		c.mu.Unlock()
		return models.Message{}, ErrConversationClosed
	}
	c.mu.Unlock()

	if messageType == "" {
		messageType = "text"
	}

	msg := models.Message{
		ID:          uuid.NewString(),
		SenderID:    c.filter.SelfID,
		ReceiverID:  c.filter.PeerID,
		RoomID:      c.filter.RoomID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   time.Now().UTC(),
	}

	stored, err := c.svc.store.Send(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	c.mu.Lock()
	if c.state == StateLive {
		c.insertLocked(stored)
	}
	c.mu.Unlock()

	return stored, nil
}

// MarkRead flags the peer's messages as read. Fire and forget: failures are
// logged, never surfaced, and the next open re-derives read state from the
// store.
func (c *Conversation) MarkRead(ctx context.Context) {
	go func() {
		if err := c.svc.store.MarkRead(ctx, c.filter); err != nil {
			c.svc.logger.Warn("mark conversation read", "topic", c.topic, "error", err)
		}
	}()
}

// Close releases the subscription. Idempotent; the conversation is inert
// afterwards and late events are discarded.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	stream := c.stream
	c.stream = nil
	c.state = StateClosed
	close(c.done)
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

// Done is closed when the conversation is released.
func (c *Conversation) Done() <-chan struct{} {
	return c.done
}

func (c *Conversation) release(stream Stream) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateClosed
		close(c.done)
	}
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

func (c *Conversation) consume(stream Stream) {
	for event := range stream.Events() {
		if event.Type != realtime.EventInsert {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(event.Record, &msg); err != nil {
			c.svc.logger.Error("decode chat message", "topic", c.topic, "error", err)
			continue
		}
		c.mu.Lock()
		if c.state == StateLive {
			c.insertLocked(msg)
		}
		c.mu.Unlock()
	}
	c.Close()
}

// insertLocked merges a message into the ordered list. Out-of-order arrivals
// are placed by created_at, not appended; duplicates by id are dropped.
func (c *Conversation) insertLocked(msg models.Message) {
	for _, existing := range c.messages {
		if existing.ID == msg.ID {
			return
		}
	}

	idx := len(c.messages)
	for idx > 0 && c.messages[idx-1].CreatedAt.After(msg.CreatedAt) {
		idx--
	}

	c.messages = append(c.messages, models.Message{})
	copy(c.messages[idx+1:], c.messages[idx:])
	c.messages[idx] = msg
}
