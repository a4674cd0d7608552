package models

import "time"

// InviteType enumerates what an invite link grants access to.
type InviteType string

const (
	InviteTypeUser  InviteType = "user"
	InviteTypeGroup InviteType = "group"
	InviteTypeEvent InviteType = "event"
)

// InviteLink is a time- and use-limited code granting access to a user,
// group, or event. Links are never deleted, only deactivated.
type InviteLink struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Type        InviteType     `json:"type"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	MaxUses     int            `json:"max_uses,omitempty"`
	CurrentUses int            `json:"current_uses"`
	IsActive    bool           `json:"is_active"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InviteUsage records a single redemption of an invite link.
type InviteUsage struct {
	InviteLinkID string    `json:"invite_link_id"`
	UsedBy       string    `json:"used_by"`
	UsedAt       time.Time `json:"used_at"`
}

// InviteStats aggregates redemption activity for one link.
type InviteStats struct {
	TotalUses   int `json:"total_uses"`
	RecentUses  int `json:"recent_uses"`
	UniqueUsers int `json:"unique_users"`
}

// Post is a feed entry owned by the remote store. Counter fields are
// authoritative on the server; local mutations are optimistic echoes that the
// next fetch overwrites.
type Post struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Content       string    `json:"content"`
	MediaURLs     []string  `json:"media_urls,omitempty"`
	MediaType     string    `json:"media_type,omitempty"`
	Visibility    string    `json:"visibility"`
	LikesCount    int       `json:"likes_count"`
	CommentsCount int       `json:"comments_count"`
	SharesCount   int       `json:"shares_count"`
	IsLiked       bool      `json:"is_liked"`
	Latitude      float64   `json:"latitude,omitempty"`
	Longitude     float64   `json:"longitude,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TrendingScore ranks posts for the trending tab.
func (p Post) TrendingScore() int {
	return p.LikesCount + 2*p.CommentsCount
}

// Comment is a reply attached to a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Story is a time-bounded media item. Expired stories must never be shown
// even when still cached.
type Story struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	MediaURL   string    `json:"media_url"`
	MediaType  string    `json:"media_type"`
	ViewsCount int       `json:"views_count"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the story is past its lifetime at the given instant.
func (s Story) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Message is a private or room chat message. Within one conversation the
// rendered list keeps created_at monotonically non-decreasing.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id,omitempty"`
	RoomID      string    `json:"room_id,omitempty"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile is the public slice of a user account.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FollowCounts is the result of the get_follow_counts remote procedure.
type FollowCounts struct {
	Followers int `json:"followers_count"`
	Following int `json:"following_count"`
}

// SessionTokens groups the bearer credentials issued on sign-in.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	UserID           string
}

// AnalyticsEvent is a single telemetry record, queued until the sink is ready.
type AnalyticsEvent struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
}
