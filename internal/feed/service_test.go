package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hoodly/hoodlysync/internal/models"
	"github.com/hoodly/hoodlysync/internal/remote"
)

type fakePostStore struct {
	posts     []models.Post
	listCalls int
	toggleErr error
	toggled   []string
	comments  []models.Comment
}

func (f *fakePostStore) List(_ context.Context, _ int) ([]models.Post, error) {
	f.listCalls++
	out := make([]models.Post, len(f.posts))
	copy(out, f.posts)
	return out, nil
}

func (f *fakePostStore) Create(_ context.Context, post models.Post) (models.Post, error) {
	f.posts = append([]models.Post{post}, f.posts...)
	return post, nil
}

func (f *fakePostStore) AttachMedia(_ context.Context, _ string, _ []string) error {
	return nil
}

func (f *fakePostStore) ToggleLike(_ context.Context, postID, _ string) error {
	if f.toggleErr != nil {
		return f.toggleErr
	}
	f.toggled = append(f.toggled, postID)
	return nil
}

func (f *fakePostStore) AddComment(_ context.Context, comment models.Comment) (models.Comment, error) {
	f.comments = append(f.comments, comment)
	return comment, nil
}

func (f *fakePostStore) ListComments(_ context.Context, postID string) ([]models.Comment, error) {
	var out []models.Comment
	for _, c := range f.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeStoryStore struct {
	stories []models.Story
	since   time.Time
}

func (f *fakeStoryStore) ListSince(_ context.Context, since time.Time) ([]models.Story, error) {
	f.since = since
	return f.stories, nil
}

func (f *fakeStoryStore) Create(_ context.Context, story models.Story) (models.Story, error) {
	f.stories = append(f.stories, story)
	return story, nil
}

func (f *fakeStoryStore) SetMedia(_ context.Context, _, _ string) error {
	return nil
}

var (
	_ remote.PostStore  = (*fakePostStore)(nil)
	_ remote.StoryStore = (*fakeStoryStore)(nil)
)

type feedIdentity struct{}

func (feedIdentity) UserID() string { return "user-1" }

func newFeedService(posts *fakePostStore, stories *fakeStoryStore, ttl time.Duration) *Service {
	svc := NewService(posts, stories, feedIdentity{}, ttl)
	svc.now = func() time.Time {
		return time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func scoredPost(id string, likes, comments int, at time.Time) models.Post {
	return models.Post{
		ID:            id,
		UserID:        "author",
		Content:       "post " + id,
		Visibility:    "public",
		LikesCount:    likes,
		CommentsCount: comments,
		CreatedAt:     at,
	}
}

func TestListPostsTrendingStableSort(t *testing.T) {
	base := time.Date(2025, time.March, 10, 11, 0, 0, 0, time.UTC)
	// A and B tie at score 5; C scores 10. Ties must keep fetch order.
	posts := &fakePostStore{posts: []models.Post{
		scoredPost("A", 5, 0, base.Add(2*time.Minute)),
		scoredPost("B", 1, 2, base.Add(1*time.Minute)),
		scoredPost("C", 4, 3, base),
	}}
	svc := newFeedService(posts, &fakeStoryStore{}, time.Minute)

	ranked, err := svc.ListPosts(context.Background(), TabTrending)
	if err != nil {
		t.Fatalf("list trending: %v", err)
	}

	wantOrder := []string{"C", "A", "B"}
	for i, id := range wantOrder {
		if ranked[i].ID != id {
			t.Fatalf("position %d = %q, want %q", i, ranked[i].ID, id)
		}
	}
}

func TestListPostsServedFromCache(t *testing.T) {
	posts := &fakePostStore{posts: []models.Post{scoredPost("A", 1, 0, time.Now())}}
	svc := newFeedService(posts, &fakeStoryStore{}, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := svc.ListPosts(context.Background(), TabRecent); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
	}
	if posts.listCalls != 1 {
		t.Fatalf("expected one store fetch, got %d", posts.listCalls)
	}
}

func TestListPostsUnknownTab(t *testing.T) {
	svc := newFeedService(&fakePostStore{}, &fakeStoryStore{}, time.Minute)

	if _, err := svc.ListPosts(context.Background(), TabFollowing); !errors.Is(err, ErrUnknownTab) {
		t.Fatalf("expected ErrUnknownTab got %v", err)
	}
}

func TestListPostsRegisteredFilter(t *testing.T) {
	base := time.Now()
	posts := &fakePostStore{posts: []models.Post{
		scoredPost("A", 0, 0, base),
		scoredPost("B", 0, 0, base),
	}}
	svc := newFeedService(posts, &fakeStoryStore{}, time.Minute)
	svc.RegisterFilter(TabFollowing, func(_ context.Context, in []models.Post) ([]models.Post, error) {
		var out []models.Post
		for _, p := range in {
			if p.ID == "B" {
				out = append(out, p)
			}
		}
		return out, nil
	})

	filtered, err := svc.ListPosts(context.Background(), TabFollowing)
	if err != nil {
		t.Fatalf("list following: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "B" {
		t.Fatalf("unexpected filtered feed %+v", filtered)
	}
}

func TestToggleLikeOptimisticAndInvalidates(t *testing.T) {
	post := scoredPost("A", 3, 0, time.Now())
	posts := &fakePostStore{posts: []models.Post{post}}
	svc := newFeedService(posts, &fakeStoryStore{}, time.Minute)

	if _, err := svc.ListPosts(context.Background(), TabRecent); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	liked, err := svc.ToggleLike(context.Background(), post)
	if err != nil {
		t.Fatalf("toggle like: %v", err)
	}
	if !liked.IsLiked || liked.LikesCount != 4 {
		t.Fatalf("expected optimistic like, got %+v", liked)
	}

	unliked, err := svc.ToggleLike(context.Background(), liked)
	if err != nil {
		t.Fatalf("toggle unlike: %v", err)
	}
	if unliked.IsLiked || unliked.LikesCount != 3 {
		t.Fatalf("expected optimistic unlike, got %+v", unliked)
	}

	// The next list must refetch rather than serve the stale cache.
	if _, err := svc.ListPosts(context.Background(), TabRecent); err != nil {
		t.Fatalf("list after toggle: %v", err)
	}
	if posts.listCalls != 2 {
		t.Fatalf("expected cache invalidation to force refetch, got %d calls", posts.listCalls)
	}
}

func TestToggleLikeFailureKeepsOriginal(t *testing.T) {
	post := scoredPost("A", 3, 0, time.Now())
	posts := &fakePostStore{toggleErr: errors.New("backend down")}
	svc := newFeedService(posts, &fakeStoryStore{}, time.Minute)

	got, err := svc.ToggleLike(context.Background(), post)
	if err == nil {
		t.Fatal("expected toggle error")
	}
	if got.IsLiked || got.LikesCount != 3 {
		t.Fatalf("expected original post back, got %+v", got)
	}
}

func TestCreateStoryExpiresAfterWindow(t *testing.T) {
	stories := &fakeStoryStore{}
	svc := newFeedService(&fakePostStore{}, stories, time.Minute)

	story, err := svc.CreateStory(context.Background(), "image")
	if err != nil {
		t.Fatalf("create story: %v", err)
	}

	if story.UserID != "user-1" || story.MediaType != "image" {
		t.Fatalf("unexpected story %+v", story)
	}
	if want := story.CreatedAt.Add(storyWindow); !story.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v got %v", want, story.ExpiresAt)
	}
	if len(stories.stories) != 1 || stories.stories[0].ID != story.ID {
		t.Fatalf("expected story persisted, store holds %+v", stories.stories)
	}
}

func TestStoriesFiltersExpired(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	stories := &fakeStoryStore{stories: []models.Story{
		{ID: "live", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)},
		{ID: "expired", CreatedAt: now.Add(-23 * time.Hour), ExpiresAt: now.Add(-time.Minute)},
	}}
	svc := newFeedService(&fakePostStore{}, stories, time.Minute)

	live, err := svc.Stories(context.Background())
	if err != nil {
		t.Fatalf("stories: %v", err)
	}
	if len(live) != 1 || live[0].ID != "live" {
		t.Fatalf("expected only the live story, got %+v", live)
	}
	if want := now.Add(-storyWindow); !stories.since.Equal(want) {
		t.Fatalf("expected since %v got %v", want, stories.since)
	}
}
