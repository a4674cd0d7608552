package remote

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hoodly/hoodlysync/internal/gateway"
	"github.com/hoodly/hoodlysync/internal/models"
)

// Gateway is the slice of the remote data gateway the REST stores use.
type Gateway interface {
	Select(ctx context.Context, table string, query url.Values, out any) error
	Insert(ctx context.Context, table string, body, out any) error
	Update(ctx context.Context, table string, query url.Values, body, out any) error
	Call(ctx context.Context, procedure string, args, out any) error
}

// RESTInviteStore persists invite links through the backend's row API.
type RESTInviteStore struct {
	gw Gateway
}

// NewRESTInviteStore constructs an invite store backed by the row API.
func NewRESTInviteStore(gw Gateway) *RESTInviteStore {
	return &RESTInviteStore{gw: gw}
}

// Create inserts a new invite link and returns the stored representation.
func (s *RESTInviteStore) Create(ctx context.Context, link models.InviteLink) (models.InviteLink, error) {
	var rows []models.InviteLink
	if err := s.gw.Insert(ctx, "invite_links", link, &rows); err != nil {
		return models.InviteLink{}, fmt.Errorf("insert invite link: %w", err)
	}
	if len(rows) == 0 {
		return models.InviteLink{}, fmt.Errorf("insert invite link: %w", gateway.ErrNotFound)
	}
	return rows[0], nil
}

// FindByCode fetches an invite link by its code, active or not; validity is
// the caller's concern.
func (s *RESTInviteStore) FindByCode(ctx context.Context, code string) (models.InviteLink, error) {
	query := url.Values{}
	query.Set("code", "eq."+code)
	query.Set("limit", "1")

	var rows []models.InviteLink
	if err := s.gw.Select(ctx, "invite_links", query, &rows); err != nil {
		return models.InviteLink{}, fmt.Errorf("select invite link by code: %w", err)
	}
	if len(rows) == 0 {
		return models.InviteLink{}, gateway.ErrNotFound
	}
	return rows[0], nil
}

// ListByCreator returns the links created by the given user, newest first.
func (s *RESTInviteStore) ListByCreator(ctx context.Context, userID string) ([]models.InviteLink, error) {
	query := url.Values{}
	query.Set("created_by", "eq."+userID)
	query.Set("order", "created_at.desc")

	var rows []models.InviteLink
	if err := s.gw.Select(ctx, "invite_links", query, &rows); err != nil {
		return nil, fmt.Errorf("select invite links by creator: %w", err)
	}
	return rows, nil
}

// Deactivate soft-disables a link. Links are never deleted.
func (s *RESTInviteStore) Deactivate(ctx context.Context, code string) error {
	query := url.Values{}
	query.Set("code", "eq."+code)

	var rows []models.InviteLink
	if err := s.gw.Update(ctx, "invite_links", query, map[string]any{"is_active": false}, &rows); err != nil {
		return fmt.Errorf("deactivate invite link: %w", err)
	}
	if len(rows) == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// Redeem increments current_uses conditionally on the count the caller
// observed, flipping is_active off when the increment exhausts max_uses.
// A concurrent winner leaves no matching row and yields ErrAlreadyConsumed.
func (s *RESTInviteStore) Redeem(ctx context.Context, link models.InviteLink) (models.InviteLink, error) {
	nextUses := link.CurrentUses + 1
	stillActive := true
	if link.MaxUses > 0 {
		stillActive = nextUses < link.MaxUses
	}

	query := url.Values{}
	query.Set("code", "eq."+link.Code)
	query.Set("current_uses", fmt.Sprintf("eq.%d", link.CurrentUses))
	query.Set("is_active", "eq.true")

	body := map[string]any{
		"current_uses": nextUses,
		"is_active":    stillActive,
	}

	var rows []models.InviteLink
	if err := s.gw.Update(ctx, "invite_links", query, body, &rows); err != nil {
		return models.InviteLink{}, fmt.Errorf("redeem invite link: %w", err)
	}
	if len(rows) == 0 {
		return models.InviteLink{}, ErrAlreadyConsumed
	}
	return rows[0], nil
}

// RecordUsage appends a redemption record.
func (s *RESTInviteStore) RecordUsage(ctx context.Context, usage models.InviteUsage) error {
	if err := s.gw.Insert(ctx, "invite_link_usage", usage, nil); err != nil {
		return fmt.Errorf("insert invite usage: %w", err)
	}
	return nil
}

// ListUsage returns every redemption record for one link.
func (s *RESTInviteStore) ListUsage(ctx context.Context, inviteLinkID string) ([]models.InviteUsage, error) {
	query := url.Values{}
	query.Set("invite_link_id", "eq."+inviteLinkID)
	query.Set("order", "used_at.desc")

	var rows []models.InviteUsage
	if err := s.gw.Select(ctx, "invite_link_usage", query, &rows); err != nil {
		return nil, fmt.Errorf("select invite usage: %w", err)
	}
	return rows, nil
}

// RESTPostStore persists posts and comments through the row API.
type RESTPostStore struct {
	gw Gateway
}

// NewRESTPostStore constructs a post store backed by the row API.
func NewRESTPostStore(gw Gateway) *RESTPostStore {
	return &RESTPostStore{gw: gw}
}

// List returns the most recent posts, newest first.
func (s *RESTPostStore) List(ctx context.Context, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 50
	}

	query := url.Values{}
	query.Set("order", "created_at.desc")
	query.Set("limit", fmt.Sprintf("%d", limit))

	var rows []models.Post
	if err := s.gw.Select(ctx, "posts", query, &rows); err != nil {
		return nil, fmt.Errorf("select posts: %w", err)
	}
	return rows, nil
}

// Create inserts a post and returns the stored representation.
func (s *RESTPostStore) Create(ctx context.Context, post models.Post) (models.Post, error) {
	var rows []models.Post
	if err := s.gw.Insert(ctx, "posts", post, &rows); err != nil {
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}
	if len(rows) == 0 {
		return models.Post{}, fmt.Errorf("insert post: %w", gateway.ErrNotFound)
	}
	return rows[0], nil
}

// AttachMedia sets the uploaded media locations on a post.
func (s *RESTPostStore) AttachMedia(ctx context.Context, postID string, urls []string) error {
	query := url.Values{}
	query.Set("id", "eq."+postID)

	var rows []models.Post
	if err := s.gw.Update(ctx, "posts", query, map[string]any{"media_urls": urls}, &rows); err != nil {
		return fmt.Errorf("attach post media: %w", err)
	}
	if len(rows) == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// ToggleLike flips the caller's like through the server-side atomic procedure.
func (s *RESTPostStore) ToggleLike(ctx context.Context, postID, userID string) error {
	args := map[string]string{"post_id": postID, "user_id": userID}
	if err := s.gw.Call(ctx, "toggle_post_like", args, nil); err != nil {
		return fmt.Errorf("toggle post like: %w", err)
	}
	return nil
}

// AddComment inserts a comment and returns the stored representation.
func (s *RESTPostStore) AddComment(ctx context.Context, comment models.Comment) (models.Comment, error) {
	var rows []models.Comment
	if err := s.gw.Insert(ctx, "comments", comment, &rows); err != nil {
		return models.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if len(rows) == 0 {
		return models.Comment{}, fmt.Errorf("insert comment: %w", gateway.ErrNotFound)
	}
	return rows[0], nil
}

// ListComments returns a post's comments oldest first.
func (s *RESTPostStore) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	query := url.Values{}
	query.Set("post_id", "eq."+postID)
	query.Set("order", "created_at.asc")

	var rows []models.Comment
	if err := s.gw.Select(ctx, "comments", query, &rows); err != nil {
		return nil, fmt.Errorf("select comments: %w", err)
	}
	return rows, nil
}

// RESTStoryStore persists stories through the row API.
type RESTStoryStore struct {
	gw Gateway
}

// NewRESTStoryStore constructs a story store backed by the row API.
func NewRESTStoryStore(gw Gateway) *RESTStoryStore {
	return &RESTStoryStore{gw: gw}
}

// ListSince returns stories that expire after the given instant.
func (s *RESTStoryStore) ListSince(ctx context.Context, since time.Time) ([]models.Story, error) {
	query := url.Values{}
	query.Set("expires_at", "gt."+since.UTC().Format(time.RFC3339))
	query.Set("order", "created_at.desc")

	var rows []models.Story
	if err := s.gw.Select(ctx, "stories", query, &rows); err != nil {
		return nil, fmt.Errorf("select stories: %w", err)
	}
	return rows, nil
}

// Create inserts a story and returns the stored representation.
func (s *RESTStoryStore) Create(ctx context.Context, story models.Story) (models.Story, error) {
	var rows []models.Story
	if err := s.gw.Insert(ctx, "stories", story, &rows); err != nil {
		return models.Story{}, fmt.Errorf("insert story: %w", err)
	}
	if len(rows) == 0 {
		return models.Story{}, fmt.Errorf("insert story: %w", gateway.ErrNotFound)
	}
	return rows[0], nil
}

// SetMedia points a story at its uploaded media location.
func (s *RESTStoryStore) SetMedia(ctx context.Context, storyID, mediaURL string) error {
	query := url.Values{}
	query.Set("id", "eq."+storyID)

	var rows []models.Story
	if err := s.gw.Update(ctx, "stories", query, map[string]any{"media_url": mediaURL}, &rows); err != nil {
		return fmt.Errorf("set story media: %w", err)
	}
	if len(rows) == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// RESTMessageStore persists chat messages through the row API.
type RESTMessageStore struct {
	gw Gateway
}

// NewRESTMessageStore constructs a message store backed by the row API.
func NewRESTMessageStore(gw Gateway) *RESTMessageStore {
	return &RESTMessageStore{gw: gw}
}

// History returns a conversation's messages oldest first.
func (s *RESTMessageStore) History(ctx context.Context, filter ConversationFilter, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := url.Values{}
	query.Set("order", "created_at.asc")
	query.Set("limit", fmt.Sprintf("%d", limit))

	if filter.RoomID != "" {
		query.Set("room_id", "eq."+filter.RoomID)
	} else {
		query.Set("or", fmt.Sprintf(
			"(and(sender_id.eq.%s,receiver_id.eq.%s),and(sender_id.eq.%s,receiver_id.eq.%s))",
			filter.SelfID, filter.PeerID, filter.PeerID, filter.SelfID,
		))
	}

	var rows []models.Message
	if err := s.gw.Select(ctx, "messages", query, &rows); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return rows, nil
}

// Send inserts a message and returns the stored representation with the
// server-assigned id and timestamp.
func (s *RESTMessageStore) Send(ctx context.Context, message models.Message) (models.Message, error) {
	var rows []models.Message
	if err := s.gw.Insert(ctx, "messages", message, &rows); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if len(rows) == 0 {
		return models.Message{}, fmt.Errorf("insert message: %w", gateway.ErrNotFound)
	}
	return rows[0], nil
}

// MarkRead flags the conversation's inbound messages as read. Matching no
// rows is not an error: there may simply be nothing unread.
func (s *RESTMessageStore) MarkRead(ctx context.Context, filter ConversationFilter) error {
	query := url.Values{}
	query.Set("is_read", "eq.false")

	if filter.RoomID != "" {
		query.Set("room_id", "eq."+filter.RoomID)
	} else {
		query.Set("sender_id", "eq."+filter.PeerID)
		query.Set("receiver_id", "eq."+filter.SelfID)
	}

	if err := s.gw.Update(ctx, "messages", query, map[string]any{"is_read": true}, nil); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// RESTProfileStore reads profiles and follow counts through the row API.
type RESTProfileStore struct {
	gw Gateway
}

// NewRESTProfileStore constructs a profile store backed by the row API.
func NewRESTProfileStore(gw Gateway) *RESTProfileStore {
	return &RESTProfileStore{gw: gw}
}

// Find fetches one profile by user id.
func (s *RESTProfileStore) Find(ctx context.Context, userID string) (models.Profile, error) {
	query := url.Values{}
	query.Set("id", "eq."+userID)
	query.Set("limit", "1")

	var rows []models.Profile
	if err := s.gw.Select(ctx, "profiles", query, &rows); err != nil {
		return models.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	if len(rows) == 0 {
		return models.Profile{}, gateway.ErrNotFound
	}
	return rows[0], nil
}

// FollowCounts invokes the get_follow_counts procedure.
func (s *RESTProfileStore) FollowCounts(ctx context.Context, userID string) (models.FollowCounts, error) {
	var rows []models.FollowCounts
	if err := s.gw.Call(ctx, "get_follow_counts", map[string]string{"user_id": userID}, &rows); err != nil {
		return models.FollowCounts{}, fmt.Errorf("call get_follow_counts: %w", err)
	}
	if len(rows) == 0 {
		return models.FollowCounts{}, nil
	}
	return rows[0], nil
}

var _ InviteStore = (*RESTInviteStore)(nil)
var _ PostStore = (*RESTPostStore)(nil)
var _ StoryStore = (*RESTStoryStore)(nil)
var _ MessageStore = (*RESTMessageStore)(nil)
var _ ProfileStore = (*RESTProfileStore)(nil)
