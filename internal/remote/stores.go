package remote

import (
	"context"
	"time"

	"github.com/hoodly/hoodlysync/internal/models"
)

// InviteStore defines data access for invite links and their usage records.
type InviteStore interface {
	Create(ctx context.Context, link models.InviteLink) (models.InviteLink, error)
	FindByCode(ctx context.Context, code string) (models.InviteLink, error)
	ListByCreator(ctx context.Context, userID string) ([]models.InviteLink, error)
	Deactivate(ctx context.Context, code string) error
	// Redeem performs a conditional increment of current_uses keyed on the
	// value the caller observed. When another redemption won the race the
	// store returns ErrAlreadyConsumed and no state changes.
	Redeem(ctx context.Context, link models.InviteLink) (models.InviteLink, error)
	RecordUsage(ctx context.Context, usage models.InviteUsage) error
	ListUsage(ctx context.Context, inviteLinkID string) ([]models.InviteUsage, error)
}

// PostStore defines data access for feed posts and comments.
type PostStore interface {
	List(ctx context.Context, limit int) ([]models.Post, error)
	Create(ctx context.Context, post models.Post) (models.Post, error)
	AttachMedia(ctx context.Context, postID string, urls []string) error
	ToggleLike(ctx context.Context, postID, userID string) error
	AddComment(ctx context.Context, comment models.Comment) (models.Comment, error)
	ListComments(ctx context.Context, postID string) ([]models.Comment, error)
}

// StoryStore defines data access for stories.
type StoryStore interface {
	ListSince(ctx context.Context, since time.Time) ([]models.Story, error)
	Create(ctx context.Context, story models.Story) (models.Story, error)
	SetMedia(ctx context.Context, storyID, url string) error
}

// ConversationFilter selects one conversation: either the private pair
// (SelfID, PeerID) or a RoomID, never both.
type ConversationFilter struct {
	SelfID string
	PeerID string
	RoomID string
}

// MessageStore defines data access for chat messages.
type MessageStore interface {
	History(ctx context.Context, filter ConversationFilter, limit int) ([]models.Message, error)
	Send(ctx context.Context, message models.Message) (models.Message, error)
	MarkRead(ctx context.Context, filter ConversationFilter) error
}

// ProfileStore defines data access for user profiles and the follow-count RPC.
type ProfileStore interface {
	Find(ctx context.Context, userID string) (models.Profile, error)
	FollowCounts(ctx context.Context, userID string) (models.FollowCounts, error)
}
