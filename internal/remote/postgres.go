package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hoodly/hoodlysync/internal/db"
	"github.com/hoodly/hoodlysync/internal/gateway"
	"github.com/hoodly/hoodlysync/internal/models"
)

// The Postgres stores serve direct-database deployments: same contracts as
// the REST stores, but over a pgx pool instead of the hosted row API.

// PostgresInviteStore provides PostgreSQL-backed persistence for invite links.
type PostgresInviteStore struct {
	pool db.Pool
}

// NewPostgresInviteStore constructs an invite store backed by PostgreSQL.
func NewPostgresInviteStore(pool db.Pool) *PostgresInviteStore {
	return &PostgresInviteStore{pool: pool}
}

// Create persists a new invite link.
func (s *PostgresInviteStore) Create(ctx context.Context, link models.InviteLink) (models.InviteLink, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.InviteLink{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        INSERT INTO invite_links (id, code, type, created_by, created_at, expires_at, max_uses, current_uses, is_active, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id, code, type, created_by, created_at, expires_at, max_uses, current_uses, is_active, metadata
    `, link.ID, link.Code, link.Type, link.CreatedBy, link.CreatedAt, link.ExpiresAt, nullableInt(link.MaxUses), link.CurrentUses, link.IsActive, link.Metadata)

	stored, err := scanInviteLink(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.InviteLink{}, gateway.ErrConflict
		}
		return models.InviteLink{}, fmt.Errorf("insert invite link: %w", err)
	}

	return stored, nil
}

// FindByCode fetches an invite link by its code regardless of active state.
func (s *PostgresInviteStore) FindByCode(ctx context.Context, code string) (models.InviteLink, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.InviteLink{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, code, type, created_by, created_at, expires_at, max_uses, current_uses, is_active, metadata
        FROM invite_links
        WHERE code = $1
    `, code)

	link, err := scanInviteLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.InviteLink{}, gateway.ErrNotFound
		}
		return models.InviteLink{}, fmt.Errorf("select invite link by code: %w", err)
	}

	return link, nil
}

// ListByCreator returns the links created by the given user, newest first.
func (s *PostgresInviteStore) ListByCreator(ctx context.Context, userID string) ([]models.InviteLink, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, code, type, created_by, created_at, expires_at, max_uses, current_uses, is_active, metadata
        FROM invite_links
        WHERE created_by = $1
        ORDER BY created_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query invite links: %w", err)
	}
	defer rows.Close()

	var links []models.InviteLink
	for rows.Next() {
		link, err := scanInviteLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invite links: %w", err)
	}

	return links, nil
}

// Deactivate soft-disables a link.
func (s *PostgresInviteStore) Deactivate(ctx context.Context, code string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE invite_links
        SET is_active = FALSE
        WHERE code = $1
    `, code)
	if err != nil {
		return fmt.Errorf("deactivate invite link: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}

	return nil
}

// Redeem performs the conditional increment: the update only matches while
// current_uses still holds the value the caller observed, so exactly one of
// two concurrent redemptions can succeed.
func (s *PostgresInviteStore) Redeem(ctx context.Context, link models.InviteLink) (models.InviteLink, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.InviteLink{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	nextUses := link.CurrentUses + 1
	stillActive := true
	if link.MaxUses > 0 {
		stillActive = nextUses < link.MaxUses
	}

	row := conn.QueryRow(ctx, `
        UPDATE invite_links
        SET current_uses = $3, is_active = $4
        WHERE code = $1 AND current_uses = $2 AND is_active = TRUE
        RETURNING id, code, type, created_by, created_at, expires_at, max_uses, current_uses, is_active, metadata
    `, link.Code, link.CurrentUses, nextUses, stillActive)

	updated, err := scanInviteLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.InviteLink{}, ErrAlreadyConsumed
		}
		return models.InviteLink{}, fmt.Errorf("redeem invite link: %w", err)
	}

	return updated, nil
}

// RecordUsage appends a redemption record.
func (s *PostgresInviteStore) RecordUsage(ctx context.Context, usage models.InviteUsage) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO invite_link_usage (invite_link_id, used_by, used_at)
        VALUES ($1, $2, $3)
    `, usage.InviteLinkID, usage.UsedBy, usage.UsedAt)
	if err != nil {
		return fmt.Errorf("insert invite usage: %w", err)
	}

	return nil
}

// ListUsage returns every redemption record for one link.
func (s *PostgresInviteStore) ListUsage(ctx context.Context, inviteLinkID string) ([]models.InviteUsage, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT invite_link_id, used_by, used_at
        FROM invite_link_usage
        WHERE invite_link_id = $1
        ORDER BY used_at DESC
    `, inviteLinkID)
	if err != nil {
		return nil, fmt.Errorf("query invite usage: %w", err)
	}
	defer rows.Close()

	var usages []models.InviteUsage
	for rows.Next() {
		var usage models.InviteUsage
		if err := rows.Scan(&usage.InviteLinkID, &usage.UsedBy, &usage.UsedAt); err != nil {
			return nil, fmt.Errorf("scan invite usage: %w", err)
		}
		usage.UsedAt = usage.UsedAt.UTC()
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invite usage: %w", err)
	}

	return usages, nil
}

// PostgresMessageStore provides PostgreSQL-backed persistence for messages.
type PostgresMessageStore struct {
	pool db.Pool
}

// NewPostgresMessageStore constructs a message store backed by PostgreSQL.
func NewPostgresMessageStore(pool db.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

// History returns a conversation's messages oldest first.
func (s *PostgresMessageStore) History(ctx context.Context, filter ConversationFilter, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var rows pgx.Rows
	if filter.RoomID != "" {
		rows, err = conn.Query(ctx, `
            SELECT id, sender_id, COALESCE(receiver_id, ''), COALESCE(room_id, ''), content, message_type, is_read, created_at
            FROM messages
            WHERE room_id = $1
            ORDER BY created_at ASC
            LIMIT $2
        `, filter.RoomID, limit)
	} else {
		rows, err = conn.Query(ctx, `
            SELECT id, sender_id, COALESCE(receiver_id, ''), COALESCE(room_id, ''), content, message_type, is_read, created_at
            FROM messages
            WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
            ORDER BY created_at ASC
            LIMIT $3
        `, filter.SelfID, filter.PeerID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.RoomID, &msg.Content, &msg.MessageType, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// Send persists a message and returns it with the stored timestamp.
func (s *PostgresMessageStore) Send(ctx context.Context, message models.Message) (models.Message, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Message{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        INSERT INTO messages (id, sender_id, receiver_id, room_id, content, message_type, is_read, created_at)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)
        RETURNING id, sender_id, COALESCE(receiver_id, ''), COALESCE(room_id, ''), content, message_type, is_read, created_at
    `, message.ID, message.SenderID, message.ReceiverID, message.RoomID, message.Content, message.MessageType, message.IsRead, message.CreatedAt)

	var stored models.Message
	if err := row.Scan(&stored.ID, &stored.SenderID, &stored.ReceiverID, &stored.RoomID, &stored.Content, &stored.MessageType, &stored.IsRead, &stored.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return models.Message{}, gateway.ErrNotFound
		}
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	stored.CreatedAt = stored.CreatedAt.UTC()
	return stored, nil
}

// MarkRead flags the conversation's inbound messages as read.
func (s *PostgresMessageStore) MarkRead(ctx context.Context, filter ConversationFilter) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if filter.RoomID != "" {
		_, err = conn.Exec(ctx, `
            UPDATE messages
            SET is_read = TRUE
            WHERE room_id = $1 AND is_read = FALSE
        `, filter.RoomID)
	} else {
		_, err = conn.Exec(ctx, `
            UPDATE messages
            SET is_read = TRUE
            WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE
        `, filter.PeerID, filter.SelfID)
	}
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	return nil
}

// PostgresPostStore provides PostgreSQL-backed persistence for posts.
type PostgresPostStore struct {
	pool db.Pool
}

// NewPostgresPostStore constructs a post store backed by PostgreSQL.
func NewPostgresPostStore(pool db.Pool) *PostgresPostStore {
	return &PostgresPostStore{pool: pool}
}

// List returns the most recent posts, newest first.
func (s *PostgresPostStore) List(ctx context.Context, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, user_id, content, COALESCE(media_urls, '{}'), COALESCE(media_type, ''), visibility,
               likes_count, comments_count, shares_count, is_liked, created_at
        FROM posts
        ORDER BY created_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var post models.Post
		if err := rows.Scan(&post.ID, &post.UserID, &post.Content, &post.MediaURLs, &post.MediaType, &post.Visibility,
			&post.LikesCount, &post.CommentsCount, &post.SharesCount, &post.IsLiked, &post.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		post.CreatedAt = post.CreatedAt.UTC()
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	return posts, nil
}

// Create persists a new post.
func (s *PostgresPostStore) Create(ctx context.Context, post models.Post) (models.Post, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Post{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO posts (id, user_id, content, media_urls, media_type, visibility, likes_count, comments_count, shares_count, is_liked, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, post.ID, post.UserID, post.Content, post.MediaURLs, post.MediaType, post.Visibility,
		post.LikesCount, post.CommentsCount, post.SharesCount, post.IsLiked, post.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Post{}, gateway.ErrConflict
		}
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}

	return post, nil
}

// AttachMedia sets the uploaded media locations on a post.
func (s *PostgresPostStore) AttachMedia(ctx context.Context, postID string, urls []string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE posts
        SET media_urls = $2
        WHERE id = $1
    `, postID, urls)
	if err != nil {
		return fmt.Errorf("attach post media: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}

	return nil
}

// ToggleLike flips the caller's like through the stored procedure.
func (s *PostgresPostStore) ToggleLike(ctx context.Context, postID, userID string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT toggle_post_like($1, $2)`, postID, userID); err != nil {
		return fmt.Errorf("toggle post like: %w", err)
	}

	return nil
}

// AddComment persists a comment.
func (s *PostgresPostStore) AddComment(ctx context.Context, comment models.Comment) (models.Comment, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Comment{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO comments (id, post_id, user_id, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, comment.ID, comment.PostID, comment.UserID, comment.Content, comment.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return models.Comment{}, gateway.ErrNotFound
		}
		return models.Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	return comment, nil
}

// ListComments returns a post's comments oldest first.
func (s *PostgresPostStore) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, post_id, user_id, content, created_at
        FROM comments
        WHERE post_id = $1
        ORDER BY created_at ASC
    `, postID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var comment models.Comment
		if err := rows.Scan(&comment.ID, &comment.PostID, &comment.UserID, &comment.Content, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comment.CreatedAt = comment.CreatedAt.UTC()
		comments = append(comments, comment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	return comments, nil
}

// PostgresStoryStore provides PostgreSQL-backed persistence for stories.
type PostgresStoryStore struct {
	pool db.Pool
}

// NewPostgresStoryStore constructs a story store backed by PostgreSQL.
func NewPostgresStoryStore(pool db.Pool) *PostgresStoryStore {
	return &PostgresStoryStore{pool: pool}
}

// ListSince returns stories that expire after the given instant.
func (s *PostgresStoryStore) ListSince(ctx context.Context, since time.Time) ([]models.Story, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, user_id, COALESCE(media_url, ''), media_type, views_count, created_at, expires_at
        FROM stories
        WHERE expires_at > $1
        ORDER BY created_at DESC
    `, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	var stories []models.Story
	for rows.Next() {
		var story models.Story
		if err := rows.Scan(&story.ID, &story.UserID, &story.MediaURL, &story.MediaType, &story.ViewsCount, &story.CreatedAt, &story.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		story.CreatedAt = story.CreatedAt.UTC()
		story.ExpiresAt = story.ExpiresAt.UTC()
		stories = append(stories, story)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}

	return stories, nil
}

// Create persists a new story.
func (s *PostgresStoryStore) Create(ctx context.Context, story models.Story) (models.Story, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Story{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO stories (id, user_id, media_url, media_type, views_count, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, story.ID, story.UserID, story.MediaURL, story.MediaType, story.ViewsCount, story.CreatedAt, story.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Story{}, gateway.ErrConflict
		}
		return models.Story{}, fmt.Errorf("insert story: %w", err)
	}

	return story, nil
}

// SetMedia points a story at its uploaded media location.
func (s *PostgresStoryStore) SetMedia(ctx context.Context, storyID, mediaURL string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE stories
        SET media_url = $2
        WHERE id = $1
    `, storyID, mediaURL)
	if err != nil {
		return fmt.Errorf("set story media: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}

	return nil
}

// PostgresProfileStore reads profiles directly from PostgreSQL.
type PostgresProfileStore struct {
	pool db.Pool
}

// NewPostgresProfileStore constructs a profile store backed by PostgreSQL.
func NewPostgresProfileStore(pool db.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{pool: pool}
}

// Find fetches one profile by user id.
func (s *PostgresProfileStore) Find(ctx context.Context, userID string) (models.Profile, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Profile{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, username, COALESCE(avatar_url, ''), COALESCE(bio, ''), created_at
        FROM profiles
        WHERE id = $1
    `, userID)

	var profile models.Profile
	if err := row.Scan(&profile.ID, &profile.Username, &profile.AvatarURL, &profile.Bio, &profile.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, gateway.ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("select profile: %w", err)
	}

	profile.CreatedAt = profile.CreatedAt.UTC()
	return profile, nil
}

// FollowCounts invokes the get_follow_counts procedure.
func (s *PostgresProfileStore) FollowCounts(ctx context.Context, userID string) (models.FollowCounts, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.FollowCounts{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT followers_count, following_count FROM get_follow_counts($1)`, userID)

	var counts models.FollowCounts
	if err := row.Scan(&counts.Followers, &counts.Following); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FollowCounts{}, nil
		}
		return models.FollowCounts{}, fmt.Errorf("call get_follow_counts: %w", err)
	}

	return counts, nil
}

type inviteLinkScanner interface {
	Scan(dest ...any) error
}

func scanInviteLink(row inviteLinkScanner) (models.InviteLink, error) {
	var (
		link      models.InviteLink
		expiresAt *time.Time
		maxUses   *int
	)

	if err := row.Scan(&link.ID, &link.Code, &link.Type, &link.CreatedBy, &link.CreatedAt, &expiresAt, &maxUses, &link.CurrentUses, &link.IsActive, &link.Metadata); err != nil {
		return models.InviteLink{}, err
	}

	link.CreatedAt = link.CreatedAt.UTC()
	if expiresAt != nil {
		t := expiresAt.UTC()
		link.ExpiresAt = &t
	}
	if maxUses != nil {
		link.MaxUses = *maxUses
	}

	return link, nil
}

func nullableInt(value int) *int {
	if value <= 0 {
		return nil
	}
	return &value
}

var _ InviteStore = (*PostgresInviteStore)(nil)
var _ MessageStore = (*PostgresMessageStore)(nil)
var _ PostStore = (*PostgresPostStore)(nil)
var _ StoryStore = (*PostgresStoryStore)(nil)
var _ ProfileStore = (*PostgresProfileStore)(nil)
