package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/hoodly/hoodlysync/internal/realtime"
	"github.com/hoodly/hoodlysync/internal/remote"
)

// historyLimit bounds the initial backlog fetched when opening a conversation.
const historyLimit = 50

var (
	// ErrAlreadyOpen indicates Open was called twice on one conversation.
	ErrAlreadyOpen = errors.New("conversation already open")
	// ErrConversationClosed indicates the conversation was released.
	ErrConversationClosed = errors.New("conversation closed")
)

// Stream is the live event feed of one joined channel.
type Stream interface {
	Events() <-chan realtime.Event
	Close()
}

// Subscriber joins realtime channels. The realtime client satisfies it via
// the adapter returned by NewRealtimeSubscriber.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, cfg realtime.JoinConfig) (Stream, error)
}

type realtimeSubscriber struct {
	client *realtime.Client
}

// NewRealtimeSubscriber adapts a realtime client to the Subscriber interface.
func NewRealtimeSubscriber(client *realtime.Client) Subscriber {
	return realtimeSubscriber{client: client}
}

func (r realtimeSubscriber) Subscribe(ctx context.Context, topic string, cfg realtime.JoinConfig) (Stream, error) {
	return r.client.Subscribe(ctx, topic, cfg)
}

// PrivateTopic names the channel for a direct conversation. Both participants
// derive the same name regardless of argument order.
func PrivateTopic(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return "private-chat-" + strings.Join(pair, "-")
}

// RoomTopic names the channel for a group room.
func RoomTopic(roomID string) string {
	return "room-chat-" + roomID
}

// Service opens chat conversations backed by the message store and the
// realtime channel for live updates.
type Service struct {
	store      remote.MessageStore
	subscriber Subscriber
	identity   Identity
	logger     *slog.Logger
}

// Identity exposes the signed-in user.
type Identity interface {
	UserID() string
}

// NewService constructs a chat service.
func NewService(store remote.MessageStore, subscriber Subscriber, identity Identity, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		subscriber: subscriber,
		identity:   identity,
		logger:     logger,
	}
}

// Private prepares a direct conversation with the given peer. The returned
// conversation is idle until Open.
func (s *Service) Private(peerID string) *Conversation {
	selfID := s.identity.UserID()
	return newConversation(s, PrivateTopic(selfID, peerID), remote.ConversationFilter{
		SelfID: selfID,
		PeerID: peerID,
	})
}

// Room prepares a group room conversation.
func (s *Service) Room(roomID string) *Conversation {
	return newConversation(s, RoomTopic(roomID), remote.ConversationFilter{
		SelfID: s.identity.UserID(),
		RoomID: roomID,
	})
}
