package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hoodly/hoodlysync/internal/gateway"
	"github.com/hoodly/hoodlysync/internal/models"
	"github.com/hoodly/hoodlysync/internal/remote"
)

type stubInviteStore struct {
	links      map[string]models.InviteLink
	usages     []models.InviteUsage
	createErrs []error
	created    []models.InviteLink
	findCalls  int
	redeemErr  error
	recordErr  error
}

func newStubInviteStore() *stubInviteStore {
	return &stubInviteStore{links: make(map[string]models.InviteLink)}
}

func (s *stubInviteStore) Create(_ context.Context, link models.InviteLink) (models.InviteLink, error) {
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return models.InviteLink{}, err
		}
	}
	s.created = append(s.created, link)
	s.links[link.Code] = link
	return link, nil
}

func (s *stubInviteStore) FindByCode(_ context.Context, code string) (models.InviteLink, error) {
	s.findCalls++
	link, ok := s.links[code]
	if !ok {
		return models.InviteLink{}, gateway.ErrNotFound
	}
	return link, nil
}

func (s *stubInviteStore) ListByCreator(_ context.Context, userID string) ([]models.InviteLink, error) {
	var out []models.InviteLink
	for _, link := range s.links {
		if link.CreatedBy == userID {
			out = append(out, link)
		}
	}
	return out, nil
}

func (s *stubInviteStore) Deactivate(_ context.Context, code string) error {
	link, ok := s.links[code]
	if !ok {
		return gateway.ErrNotFound
	}
	link.IsActive = false
	s.links[code] = link
	return nil
}

func (s *stubInviteStore) Redeem(_ context.Context, link models.InviteLink) (models.InviteLink, error) {
	if s.redeemErr != nil {
		return models.InviteLink{}, s.redeemErr
	}
	stored := s.links[link.Code]
	stored.CurrentUses++
	if stored.MaxUses > 0 && stored.CurrentUses >= stored.MaxUses {
		stored.IsActive = false
	}
	s.links[link.Code] = stored
	return stored, nil
}

func (s *stubInviteStore) RecordUsage(_ context.Context, usage models.InviteUsage) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.usages = append(s.usages, usage)
	return nil
}

func (s *stubInviteStore) ListUsage(_ context.Context, inviteLinkID string) ([]models.InviteUsage, error) {
	var out []models.InviteUsage
	for _, usage := range s.usages {
		if usage.InviteLinkID == inviteLinkID {
			out = append(out, usage)
		}
	}
	return out, nil
}

var _ remote.InviteStore = (*stubInviteStore)(nil)

type stubIdentity struct{ userID string }

func (s stubIdentity) UserID() string { return s.userID }

type recordingTracker struct {
	events []string
}

func (r *recordingTracker) Track(_ context.Context, event string, _ map[string]any) {
	r.events = append(r.events, event)
}

func newTestService(store *stubInviteStore, tracker EventTracker) *Service {
	svc := NewService(store, stubIdentity{userID: "user-1"}, tracker, "hoodly.app")
	svc.now = func() time.Time {
		return time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func TestServiceCreateGeneratesValidCode(t *testing.T) {
	store := newStubInviteStore()
	tracker := &recordingTracker{}
	svc := newTestService(store, tracker)

	link, err := svc.CreateUserInvite(context.Background(), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !IsValidCode(link.Code) {
		t.Fatalf("created link has invalid code %q", link.Code)
	}
	if link.MaxUses != 1 || !link.IsActive || link.CreatedBy != "user-1" {
		t.Fatalf("unexpected link %+v", link)
	}
	if len(tracker.events) != 1 || tracker.events[0] != "invite_link_created" {
		t.Fatalf("unexpected tracked events %v", tracker.events)
	}
}

func TestServiceCreateRetriesOnCollision(t *testing.T) {
	store := newStubInviteStore()
	store.createErrs = []error{gateway.ErrConflict, gateway.ErrConflict}
	svc := newTestService(store, nil)

	link, err := svc.Create(context.Background(), CreateParams{Type: models.InviteTypeGroup})
	if err != nil {
		t.Fatalf("create after collisions: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one stored link got %d", len(store.created))
	}
	if link.Type != models.InviteTypeGroup {
		t.Fatalf("unexpected type %q", link.Type)
	}
}

func TestServiceCreateExhaustsRetries(t *testing.T) {
	store := newStubInviteStore()
	store.createErrs = []error{
		gateway.ErrConflict, gateway.ErrConflict, gateway.ErrConflict,
		gateway.ErrConflict, gateway.ErrConflict,
	}
	svc := newTestService(store, nil)

	if _, err := svc.Create(context.Background(), CreateParams{}); !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("expected ErrExhaustedRetries got %v", err)
	}
}

func TestServiceCreateRequiresSession(t *testing.T) {
	svc := NewService(newStubInviteStore(), stubIdentity{}, nil, "hoodly.app")

	if _, err := svc.Create(context.Background(), CreateParams{}); !errors.Is(err, gateway.ErrNoSession) {
		t.Fatalf("expected ErrNoSession got %v", err)
	}
}

func TestServiceRedeemValidatesBeforeNetwork(t *testing.T) {
	store := newStubInviteStore()
	svc := newTestService(store, nil)

	if _, err := svc.Redeem(context.Background(), "bad code", "user-2"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode got %v", err)
	}
	if store.findCalls != 0 {
		t.Fatalf("expected no store calls for malformed code, got %d", store.findCalls)
	}
}

func TestServiceUsableTruthTable(t *testing.T) {
	svc := newTestService(newStubInviteStore(), nil)
	now := svc.now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		link models.InviteLink
		want error
	}{
		{"active unlimited", models.InviteLink{IsActive: true}, nil},
		{"inactive", models.InviteLink{IsActive: false}, ErrInactive},
		{"expired", models.InviteLink{IsActive: true, ExpiresAt: &past}, ErrExpired},
		{"future expiry", models.InviteLink{IsActive: true, ExpiresAt: &future}, nil},
		{"uses exhausted", models.InviteLink{IsActive: true, MaxUses: 2, CurrentUses: 2}, ErrMaxUsesReached},
		{"uses remaining", models.InviteLink{IsActive: true, MaxUses: 2, CurrentUses: 1}, nil},
		{"inactive wins over expired", models.InviteLink{IsActive: false, ExpiresAt: &past}, ErrInactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.Usable(tc.link); !errors.Is(err, tc.want) {
				t.Fatalf("Usable = %v, want %v", err, tc.want)
			}
			if got, want := svc.CanUse(tc.link), tc.want == nil; got != want {
				t.Fatalf("CanUse = %v, want %v", got, want)
			}
		})
	}
}

func TestServiceRedeemRecordsUsageAndTracks(t *testing.T) {
	store := newStubInviteStore()
	tracker := &recordingTracker{}
	svc := newTestService(store, tracker)

	link, err := svc.Create(context.Background(), CreateParams{MaxUses: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Redeem(context.Background(), link.Code, "user-2")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if updated.CurrentUses != 1 {
		t.Fatalf("expected one use got %d", updated.CurrentUses)
	}

	if len(store.usages) != 1 || store.usages[0].UsedBy != "user-2" {
		t.Fatalf("unexpected usage records %+v", store.usages)
	}

	want := []string{"invite_link_created", "invite_link_used"}
	if len(tracker.events) != len(want) {
		t.Fatalf("unexpected events %v", tracker.events)
	}
	for i, event := range want {
		if tracker.events[i] != event {
			t.Fatalf("event %d = %q, want %q", i, tracker.events[i], event)
		}
	}
}

func TestServiceRedeemPropagatesLostRace(t *testing.T) {
	store := newStubInviteStore()
	svc := newTestService(store, nil)

	link, err := svc.Create(context.Background(), CreateParams{MaxUses: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	store.redeemErr = remote.ErrAlreadyConsumed

	if _, err := svc.Redeem(context.Background(), link.Code, "user-2"); !errors.Is(err, remote.ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed got %v", err)
	}
	if len(store.usages) != 0 {
		t.Fatalf("expected no usage records after lost race, got %+v", store.usages)
	}
}

func TestServiceStats(t *testing.T) {
	store := newStubInviteStore()
	svc := newTestService(store, nil)
	now := svc.now()

	link, err := svc.Create(context.Background(), CreateParams{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.usages = []models.InviteUsage{
		{InviteLinkID: link.ID, UsedBy: "a", UsedAt: now.Add(-time.Hour)},
		{InviteLinkID: link.ID, UsedBy: "a", UsedAt: now.Add(-2 * time.Hour)},
		{InviteLinkID: link.ID, UsedBy: "b", UsedAt: now.Add(-10 * 24 * time.Hour)},
		{InviteLinkID: "other", UsedBy: "c", UsedAt: now},
	}

	stats, err := svc.Stats(context.Background(), link.Code)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalUses != 3 || stats.UniqueUsers != 2 || stats.RecentUses != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
