package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hoodly/hoodlysync/internal/models"
	"github.com/hoodly/hoodlysync/internal/remote"
)

// Tab selects one feed ranking.
type Tab string

const (
	TabRecent    Tab = "recent"
	TabTrending  Tab = "trending"
	TabFollowing Tab = "following"
	TabNearby    Tab = "nearby"
)

// storyWindow is how far back stories are fetched before expiry filtering.
const storyWindow = 24 * time.Hour

// defaultListLimit bounds one feed page.
const defaultListLimit = 50

// ErrUnknownTab indicates a tab with no registered filter.
var ErrUnknownTab = errors.New("unknown feed tab")

// TabFilter narrows a fetched page to one tab's contents. Following and
// nearby are implemented as filters so callers can supply the social graph or
// location source the library itself does not own.
type TabFilter func(ctx context.Context, posts []models.Post) ([]models.Post, error)

// Identity exposes the signed-in user.
type Identity interface {
	UserID() string
}

// Service assembles feed tabs and stories from the remote stores, caching
// rendered tabs for a short TTL.
type Service struct {
	posts    remote.PostStore
	stories  remote.StoryStore
	identity Identity
	cache    *postCache
	filters  map[Tab]TabFilter
	now      func() time.Time
}

// NewService constructs a feed service. cacheTTL <= 0 falls back to one minute.
func NewService(posts remote.PostStore, stories remote.StoryStore, identity Identity, cacheTTL time.Duration) *Service {
	return &Service{
		posts:    posts,
		stories:  stories,
		identity: identity,
		cache:    newPostCache(cacheTTL),
		filters:  make(map[Tab]TabFilter),
		now:      time.Now,
	}
}

// RegisterFilter installs the filter backing a tab. Overwrites any previous
// registration for the same tab.
func (s *Service) RegisterFilter(tab Tab, filter TabFilter) {
	s.filters[tab] = filter
}

// ListPosts returns one tab's feed page, served from cache when fresh.
// Trending is ranked by likes + 2x comments with ties kept in recency order.
func (s *Service) ListPosts(ctx context.Context, tab Tab) ([]models.Post, error) {
	now := s.now()
	if cached, ok := s.cache.get(tab, now); ok {
		return cached, nil
	}

	posts, err := s.posts.List(ctx, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	switch tab {
	case TabRecent:
		// The store already returns newest first.
	case TabTrending:
		sort.SliceStable(posts, func(i, j int) bool {
			return posts[i].TrendingScore() > posts[j].TrendingScore()
		})
	default:
		filter, ok := s.filters[tab]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTab, tab)
		}
		posts, err = filter(ctx, posts)
		if err != nil {
			return nil, fmt.Errorf("filter %s tab: %w", tab, err)
		}
	}

	s.cache.put(tab, posts, now)
	return posts, nil
}

// CreatePost publishes a new post and invalidates cached tabs.
func (s *Service) CreatePost(ctx context.Context, content, visibility string) (models.Post, error) {
	if visibility == "" {
		visibility = "public"
	}
	post := models.Post{
		ID:         uuid.NewString(),
		UserID:     s.identity.UserID(),
		Content:    content,
		Visibility: visibility,
		CreatedAt:  s.now().UTC(),
	}

	stored, err := s.posts.Create(ctx, post)
	if err != nil {
		return models.Post{}, fmt.Errorf("create post: %w", err)
	}

	s.cache.invalidate()
	return stored, nil
}

// CreateStory publishes a story shell lasting one day. The media location is
// attached separately once the upload completes.
func (s *Service) CreateStory(ctx context.Context, mediaType string) (models.Story, error) {
	now := s.now().UTC()
	story := models.Story{
		ID:        uuid.NewString(),
		UserID:    s.identity.UserID(),
		MediaType: mediaType,
		CreatedAt: now,
		ExpiresAt: now.Add(storyWindow),
	}

	stored, err := s.stories.Create(ctx, story)
	if err != nil {
		return models.Story{}, fmt.Errorf("create story: %w", err)
	}
	return stored, nil
}

// ToggleLike flips the caller's like on a post. The returned post carries the
// optimistic counter; the server-side counters win on the next fetch, which
// the cache invalidation forces.
func (s *Service) ToggleLike(ctx context.Context, post models.Post) (models.Post, error) {
	optimistic := post
	if optimistic.IsLiked {
		optimistic.IsLiked = false
		optimistic.LikesCount--
		if optimistic.LikesCount < 0 {
			optimistic.LikesCount = 0
		}
	} else {
		optimistic.IsLiked = true
		optimistic.LikesCount++
	}

	if err := s.posts.ToggleLike(ctx, post.ID, s.identity.UserID()); err != nil {
		return post, fmt.Errorf("toggle like: %w", err)
	}

	s.cache.invalidate()
	return optimistic, nil
}

// AddComment attaches a comment to a post and invalidates cached tabs so the
// comment counter refreshes.
func (s *Service) AddComment(ctx context.Context, postID, content string) (models.Comment, error) {
	comment := models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		UserID:    s.identity.UserID(),
		Content:   content,
		CreatedAt: s.now().UTC(),
	}

	stored, err := s.posts.AddComment(ctx, comment)
	if err != nil {
		return models.Comment{}, fmt.Errorf("add comment: %w", err)
	}

	s.cache.invalidate()
	return stored, nil
}

// Comments lists a post's comments oldest first.
func (s *Service) Comments(ctx context.Context, postID string) ([]models.Comment, error) {
	return s.posts.ListComments(ctx, postID)
}

// Stories returns the live stories of the last day. Expired stories are
// filtered out even when the store still returns them.
func (s *Service) Stories(ctx context.Context) ([]models.Story, error) {
	now := s.now()
	stories, err := s.stories.ListSince(ctx, now.Add(-storyWindow))
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}

	live := stories[:0]
	for _, story := range stories {
		if !story.Expired(now) {
			live = append(live, story)
		}
	}
	return live, nil
}
