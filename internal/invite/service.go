package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hoodly/hoodlysync/internal/gateway"
	"github.com/hoodly/hoodlysync/internal/logging"
	"github.com/hoodly/hoodlysync/internal/models"
	"github.com/hoodly/hoodlysync/internal/remote"
)

var (
	// ErrInvalidCode indicates the code fails the local format check. Raised
	// before any network call.
	ErrInvalidCode = errors.New("invalid invite code")
	// ErrExpired indicates the link's expiry is in the past.
	ErrExpired = errors.New("invite link expired")
	// ErrMaxUsesReached indicates the link has been fully consumed.
	ErrMaxUsesReached = errors.New("invite link reached maximum uses")
	// ErrInactive indicates the link was deactivated.
	ErrInactive = errors.New("invite link inactive")
	// ErrExhaustedRetries indicates repeated code collisions while creating a link.
	ErrExhaustedRetries = errors.New("exhausted invite code generation retries")
)

// createMaxAttempts caps regeneration after duplicate-key collisions.
const createMaxAttempts = 5

// recentWindow bounds the "recent uses" stat.
const recentWindow = 7 * 24 * time.Hour

// Identity exposes the signed-in user. The gateway client satisfies it.
type Identity interface {
	UserID() string
}

// EventTracker receives analytics events emitted by the service.
type EventTracker interface {
	Track(ctx context.Context, event string, properties map[string]any)
}

// CreateParams describes a new invite link. The creator is always taken from
// the session, never from the caller.
type CreateParams struct {
	Type      models.InviteType
	ExpiresAt *time.Time
	MaxUses   int
	Metadata  map[string]any
}

// Service implements invite link management on top of a remote store.
type Service struct {
	store    remote.InviteStore
	identity Identity
	tracker  EventTracker
	domain   string
	now      func() time.Time
}

// NewService constructs an invite service. tracker may be nil.
func NewService(store remote.InviteStore, identity Identity, tracker EventTracker, domain string) *Service {
	return &Service{
		store:    store,
		identity: identity,
		tracker:  tracker,
		domain:   domain,
		now:      time.Now,
	}
}

// Create inserts a new invite link with a freshly generated code. A
// duplicate-key collision triggers regeneration, capped at createMaxAttempts.
func (s *Service) Create(ctx context.Context, params CreateParams) (models.InviteLink, error) {
	creator := s.identity.UserID()
	if creator == "" {
		return models.InviteLink{}, gateway.ErrNoSession
	}

	if params.Type == "" {
		params.Type = models.InviteTypeUser
	}

	for attempt := 0; attempt < createMaxAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return models.InviteLink{}, err
		}

		link := models.InviteLink{
			ID:          uuid.NewString(),
			Code:        code,
			Type:        params.Type,
			CreatedBy:   creator,
			CreatedAt:   s.now().UTC(),
			ExpiresAt:   params.ExpiresAt,
			MaxUses:     params.MaxUses,
			CurrentUses: 0,
			IsActive:    true,
			Metadata:    params.Metadata,
		}

		stored, err := s.store.Create(ctx, link)
		if err != nil {
			if errors.Is(err, gateway.ErrConflict) {
				logging.FromContext(ctx).Warn("invite code collision, regenerating", "attempt", attempt+1)
				continue
			}
			return models.InviteLink{}, err
		}

		s.track(ctx, "invite_link_created", map[string]any{
			"invite_type": string(stored.Type),
			"code":        stored.Code,
		})
		return stored, nil
	}

	return models.InviteLink{}, ErrExhaustedRetries
}

// CreateUserInvite creates a single-use personal invite.
func (s *Service) CreateUserInvite(ctx context.Context, expiresAt *time.Time) (models.InviteLink, error) {
	return s.Create(ctx, CreateParams{Type: models.InviteTypeUser, ExpiresAt: expiresAt, MaxUses: 1})
}

// CreateGroupInvite creates a group invite carrying the group id in metadata.
func (s *Service) CreateGroupInvite(ctx context.Context, groupID string, maxUses int, expiresAt *time.Time) (models.InviteLink, error) {
	return s.Create(ctx, CreateParams{
		Type:      models.InviteTypeGroup,
		ExpiresAt: expiresAt,
		MaxUses:   maxUses,
		Metadata:  map[string]any{"group_id": groupID},
	})
}

// CreateEventInvite creates an event invite carrying the event id in metadata.
func (s *Service) CreateEventInvite(ctx context.Context, eventID string, maxUses int, expiresAt *time.Time) (models.InviteLink, error) {
	return s.Create(ctx, CreateParams{
		Type:      models.InviteTypeEvent,
		ExpiresAt: expiresAt,
		MaxUses:   maxUses,
		Metadata:  map[string]any{"event_id": eventID},
	})
}

// Get fetches a link by code after a local format check.
func (s *Service) Get(ctx context.Context, code string) (models.InviteLink, error) {
	if !IsValidCode(code) {
		return models.InviteLink{}, ErrInvalidCode
	}
	return s.store.FindByCode(ctx, code)
}

// ListMine returns the signed-in user's links, newest first.
func (s *Service) ListMine(ctx context.Context) ([]models.InviteLink, error) {
	userID := s.identity.UserID()
	if userID == "" {
		return nil, gateway.ErrNoSession
	}
	return s.store.ListByCreator(ctx, userID)
}

// Redeem validates and consumes one use of the link identified by code. The
// increment is a conditional update: of two concurrent redemptions of a
// single-use link exactly one succeeds, the other observes ErrAlreadyConsumed
// and no state changes.
func (s *Service) Redeem(ctx context.Context, code, usedBy string) (models.InviteLink, error) {
	if !IsValidCode(code) {
		return models.InviteLink{}, ErrInvalidCode
	}
	if usedBy == "" {
		usedBy = s.identity.UserID()
	}
	if usedBy == "" {
		return models.InviteLink{}, gateway.ErrNoSession
	}

	link, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return models.InviteLink{}, err
	}

	if err := s.Usable(link); err != nil {
		return models.InviteLink{}, err
	}

	updated, err := s.store.Redeem(ctx, link)
	if err != nil {
		return models.InviteLink{}, err
	}

	usage := models.InviteUsage{
		InviteLinkID: updated.ID,
		UsedBy:       usedBy,
		UsedAt:       s.now().UTC(),
	}
	if err := s.store.RecordUsage(ctx, usage); err != nil {
		// The consume already happened; a lost usage record is reported but
		// does not undo the redemption.
		return updated, fmt.Errorf("record invite usage: %w", err)
	}

	s.track(ctx, "invite_link_used", map[string]any{
		"invite_type": string(updated.Type),
		"code":        code,
	})
	return updated, nil
}

// Deactivate soft-disables a link by code.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	if !IsValidCode(code) {
		return ErrInvalidCode
	}
	if err := s.store.Deactivate(ctx, code); err != nil {
		return err
	}
	s.track(ctx, "invite_link_deactivated", map[string]any{"code": code})
	return nil
}

// Stats aggregates redemption activity for a link.
func (s *Service) Stats(ctx context.Context, code string) (models.InviteStats, error) {
	link, err := s.Get(ctx, code)
	if err != nil {
		return models.InviteStats{}, err
	}

	usages, err := s.store.ListUsage(ctx, link.ID)
	if err != nil {
		return models.InviteStats{}, err
	}

	cutoff := s.now().Add(-recentWindow)
	unique := make(map[string]struct{}, len(usages))
	stats := models.InviteStats{TotalUses: len(usages)}
	for _, usage := range usages {
		unique[usage.UsedBy] = struct{}{}
		if usage.UsedAt.After(cutoff) {
			stats.RecentUses++
		}
	}
	stats.UniqueUsers = len(unique)

	return stats, nil
}

// ShareLink renders the share text for a link, tracking the share event.
func (s *Service) ShareLink(ctx context.Context, code, platform string) (string, error) {
	link, err := s.Get(ctx, code)
	if err != nil {
		return "", err
	}

	s.track(ctx, "invite_link_shared", map[string]any{
		"invite_type": string(link.Type),
		"code":        code,
		"platform":    platform,
	})
	return ShareText(s.domain, link), nil
}

// IsExpired reports whether the link's expiry has passed. Links without an
// expiry never expire.
func (s *Service) IsExpired(link models.InviteLink) bool {
	return link.ExpiresAt != nil && link.ExpiresAt.Before(s.now())
}

// IsMaxUsesReached reports whether the link's use budget is consumed. Links
// without a max are unlimited.
func IsMaxUsesReached(link models.InviteLink) bool {
	return link.MaxUses > 0 && link.CurrentUses >= link.MaxUses
}

// Usable validates the link's redeemability, returning the specific
// validation failure or nil.
func (s *Service) Usable(link models.InviteLink) error {
	if !link.IsActive {
		return ErrInactive
	}
	if s.IsExpired(link) {
		return ErrExpired
	}
	if IsMaxUsesReached(link) {
		return ErrMaxUsesReached
	}
	return nil
}

// CanUse is the boolean form of Usable.
func (s *Service) CanUse(link models.InviteLink) bool {
	return s.Usable(link) == nil
}

func (s *Service) track(ctx context.Context, event string, properties map[string]any) {
	if s.tracker == nil {
		return
	}
	s.tracker.Track(ctx, event, properties)
}
