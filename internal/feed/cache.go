package feed

import (
	"sync"
	"time"

	"github.com/hoodly/hoodlysync/internal/models"
)

type cacheEntry struct {
	posts   []models.Post
	expires time.Time
}

// postCache is a TTL-based in-memory cache of rendered feed tabs. It only
// serves reads; likes and new posts invalidate it so the next fetch is
// authoritative.
type postCache struct {
	ttl time.Duration

	mu    sync.RWMutex
	items map[Tab]cacheEntry
}

func newPostCache(ttl time.Duration) *postCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &postCache{
		ttl:   ttl,
		items: make(map[Tab]cacheEntry),
	}
}

func (c *postCache) get(tab Tab, now time.Time) ([]models.Post, bool) {
	c.mu.RLock()
	entry, ok := c.items[tab]
	c.mu.RUnlock()
	if !ok || !now.Before(entry.expires) {
		return nil, false
	}

	out := make([]models.Post, len(entry.posts))
	copy(out, entry.posts)
	return out, true
}

func (c *postCache) put(tab Tab, posts []models.Post, now time.Time) {
	stored := make([]models.Post, len(posts))
	copy(stored, posts)

	c.mu.Lock()
	c.items[tab] = cacheEntry{posts: stored, expires: now.Add(c.ttl)}
	c.mu.Unlock()
}

func (c *postCache) invalidate() {
	c.mu.Lock()
	c.items = make(map[Tab]cacheEntry)
	c.mu.Unlock()
}
