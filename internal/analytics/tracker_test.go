package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/hoodly/hoodlysync/internal/models"
)

type captureSink struct {
	delivered []models.AnalyticsEvent
	failures  int
}

func (s *captureSink) Deliver(_ context.Context, event models.AnalyticsEvent) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.delivered = append(s.delivered, event)
	return nil
}

type trackerIdentity struct{ id string }

func (t trackerIdentity) UserID() string { return t.id }

func TestTrackerQueuesUntilInitialize(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	tracker := NewTracker(sink, trackerIdentity{id: "user-1"}, nil)

	tracker.Track(ctx, "first", nil)
	tracker.Track(ctx, "second", map[string]any{"n": 2})
	tracker.Track(ctx, "third", nil)

	if len(sink.delivered) != 0 {
		t.Fatalf("expected no deliveries before initialize, got %d", len(sink.delivered))
	}
	if tracker.Pending() != 3 {
		t.Fatalf("expected 3 queued events, got %d", tracker.Pending())
	}

	tracker.Initialize(ctx)

	if tracker.Pending() != 0 {
		t.Fatalf("expected drained queue, got %d pending", tracker.Pending())
	}
	wantOrder := []string{"first", "second", "third"}
	if len(sink.delivered) != len(wantOrder) {
		t.Fatalf("expected %d deliveries got %d", len(wantOrder), len(sink.delivered))
	}
	for i, name := range wantOrder {
		if sink.delivered[i].Event != name {
			t.Fatalf("delivery %d = %q, want %q", i, sink.delivered[i].Event, name)
		}
		if sink.delivered[i].UserID != "user-1" {
			t.Fatalf("delivery %d missing user attribution: %+v", i, sink.delivered[i])
		}
	}
}

func TestTrackerInitializeIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	tracker := NewTracker(sink, trackerIdentity{id: "user-1"}, nil)

	tracker.Track(ctx, "once", nil)
	tracker.Initialize(ctx)
	session := tracker.SessionID()
	tracker.Initialize(ctx)

	if len(sink.delivered) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sink.delivered))
	}
	if tracker.SessionID() != session {
		t.Fatal("expected repeated initialize to keep the session")
	}
}

func TestTrackerEnrichesWithSessionID(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	tracker := NewTracker(sink, trackerIdentity{id: "user-1"}, nil)

	tracker.Initialize(ctx)
	tracker.Screen(ctx, "feed")

	if len(sink.delivered) != 1 {
		t.Fatalf("expected one delivery got %d", len(sink.delivered))
	}
	event := sink.delivered[0]
	if event.Event != "screen_view" || event.Properties["screen"] != "feed" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Properties["session_id"] != tracker.SessionID() {
		t.Fatalf("expected session enrichment, got %+v", event.Properties)
	}
}

func TestTrackerRequeuesFailedDelivery(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{failures: 1}
	tracker := NewTracker(sink, trackerIdentity{id: "user-1"}, nil)
	tracker.Initialize(ctx)

	tracker.Track(ctx, "flaky", nil)
	if tracker.Pending() != 1 {
		t.Fatalf("expected failed event requeued, got %d pending", tracker.Pending())
	}

	tracker.Track(ctx, "steady", nil)
	tracker.Flush(ctx)

	if tracker.Pending() != 0 {
		t.Fatalf("expected empty queue after flush, got %d", tracker.Pending())
	}
	// The retried event lands after the one that succeeded directly.
	wantOrder := []string{"steady", "flaky"}
	for i, name := range wantOrder {
		if sink.delivered[i].Event != name {
			t.Fatalf("delivery %d = %q, want %q", i, sink.delivered[i].Event, name)
		}
	}
}

func TestTrackerQueueHoldsEveryEvent(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	tracker := NewTracker(sink, trackerIdentity{id: "user-1"}, nil)

	const burst = 1000
	for i := 0; i < burst; i++ {
		tracker.Track(ctx, "burst", map[string]any{"i": i})
	}
	if tracker.Pending() != burst {
		t.Fatalf("expected %d queued events, got %d", burst, tracker.Pending())
	}

	tracker.Initialize(ctx)

	if len(sink.delivered) != burst {
		t.Fatalf("expected %d deliveries got %d", burst, len(sink.delivered))
	}
	for i, event := range sink.delivered {
		if event.Properties["i"] != i {
			t.Fatalf("delivery %d carries i=%v, want %d", i, event.Properties["i"], i)
		}
	}
}
