package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoodly/hoodlysync/internal/models"
)

// Sink receives delivered analytics events.
type Sink interface {
	Deliver(ctx context.Context, event models.AnalyticsEvent) error
}

// Identity exposes the signed-in user for event attribution.
type Identity interface {
	UserID() string
}

// Tracker records telemetry events. Events tracked before Initialize are
// queued in order, without bound, and drained on initialization; a failed
// delivery re-enqueues the event at the tail, so a transient outage reorders
// but never loses it.
type Tracker struct {
	sink     Sink
	identity Identity
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	initialized bool
	sessionID   string
	queue       []models.AnalyticsEvent
}

// NewTracker constructs a tracker. Events queue until Initialize.
func NewTracker(sink Sink, identity Identity, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sink:     sink,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Initialize opens a session and drains the queued backlog in FIFO order.
// Idempotent: repeat calls keep the existing session and deliver nothing
// twice.
func (t *Tracker) Initialize(ctx context.Context) {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		return
	}
	t.initialized = true
	t.sessionID = uuid.NewString()
	backlog := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, event := range backlog {
		t.deliver(ctx, event)
	}
}

// SessionID returns the current session identifier, empty before Initialize.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Track records a named event with optional properties.
func (t *Tracker) Track(ctx context.Context, name string, properties map[string]any) {
	event := models.AnalyticsEvent{
		Event:      name,
		Properties: properties,
		Timestamp:  t.now().UTC(),
		UserID:     t.identity.UserID(),
	}

	t.mu.Lock()
	if !t.initialized {
		t.queue = append(t.queue, event)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.deliver(ctx, event)
}

// Screen records a screen view.
func (t *Tracker) Screen(ctx context.Context, name string) {
	t.Track(ctx, "screen_view", map[string]any{"screen": name})
}

// Action records a user interaction on a screen.
func (t *Tracker) Action(ctx context.Context, screen, action string) {
	t.Track(ctx, "user_action", map[string]any{"screen": screen, "action": action})
}

// Identify records a change of the signed-in user.
func (t *Tracker) Identify(ctx context.Context, userID string) {
	t.Track(ctx, "identify", map[string]any{"user_id": userID})
}

// Flush retries events that failed delivery. No-op before Initialize; a
// still-failing event lands back at the tail for the next flush.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	backlog := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, event := range backlog {
		t.deliver(ctx, event)
	}
}

// Pending reports how many events await initialization or retry.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *Tracker) deliver(ctx context.Context, event models.AnalyticsEvent) {
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()

	if sessionID != "" {
		if event.Properties == nil {
			event.Properties = make(map[string]any, 1)
		}
		if _, ok := event.Properties["session_id"]; !ok {
			event.Properties["session_id"] = sessionID
		}
	}

	if err := t.sink.Deliver(ctx, event); err != nil {
		t.logger.Warn("deliver analytics event", "event", event.Event, "error", err)
		t.mu.Lock()
		t.queue = append(t.queue, event)
		t.mu.Unlock()
	}
}
