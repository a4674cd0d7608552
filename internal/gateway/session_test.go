package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hoodly/hoodlysync/internal/models"
)

type stubAuthAPI struct {
	signInTokens  models.SessionTokens
	signInErr     error
	refreshTokens models.SessionTokens
	refreshErr    error
	refreshCalls  int
	signOutCalls  int
}

func (s *stubAuthAPI) signInPassword(context.Context, string, string) (models.SessionTokens, error) {
	return s.signInTokens, s.signInErr
}

func (s *stubAuthAPI) refreshSession(context.Context, string) (models.SessionTokens, error) {
	s.refreshCalls++
	return s.refreshTokens, s.refreshErr
}

func (s *stubAuthAPI) signOut(context.Context, string) error {
	s.signOutCalls++
	return nil
}

func TestSessionManagerAccessTokenWithoutSignIn(t *testing.T) {
	manager := NewSessionManager(&stubAuthAPI{}, NewMemoryTokenStore())

	if _, err := manager.AccessToken(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession got %v", err)
	}
}

func TestSessionManagerRefreshesNearExpiry(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	api := &stubAuthAPI{
		signInTokens: models.SessionTokens{
			AccessToken:     "old",
			AccessExpiresAt: now.Add(10 * time.Second),
			RefreshToken:    "refresh-1",
			UserID:          "user-1",
		},
		refreshTokens: models.SessionTokens{
			AccessToken:     "new",
			AccessExpiresAt: now.Add(time.Hour),
			RefreshToken:    "refresh-2",
			UserID:          "user-1",
		},
	}

	manager := NewSessionManager(api, NewMemoryTokenStore())
	manager.now = func() time.Time { return now }

	ctx := context.Background()
	if err := manager.SignIn(ctx, "alice@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	token, err := manager.AccessToken(ctx)
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "new" {
		t.Fatalf("expected refreshed token got %q", token)
	}
	if api.refreshCalls != 1 {
		t.Fatalf("expected 1 refresh call got %d", api.refreshCalls)
	}
}

func TestSessionManagerExpiredRefreshClearsSession(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	api := &stubAuthAPI{
		signInTokens: models.SessionTokens{
			AccessToken:      "old",
			AccessExpiresAt:  now.Add(-time.Minute),
			RefreshToken:     "refresh-1",
			RefreshExpiresAt: now.Add(-time.Second),
			UserID:           "user-1",
		},
	}

	manager := NewSessionManager(api, store)
	manager.now = func() time.Time { return now }

	ctx := context.Background()
	if err := manager.SignIn(ctx, "alice@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if _, err := manager.AccessToken(ctx); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired got %v", err)
	}
	if manager.Authenticated() {
		t.Fatal("expected session to be cleared")
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected store to be cleared, load returned %v", err)
	}
}

func TestSessionManagerRestore(t *testing.T) {
	store := NewMemoryTokenStore()
	tokens := models.SessionTokens{
		AccessToken:     "restored",
		AccessExpiresAt: time.Now().Add(time.Hour),
		RefreshToken:    "refresh-1",
		UserID:          "user-1",
	}
	if err := store.Save(context.Background(), tokens); err != nil {
		t.Fatalf("save tokens: %v", err)
	}

	manager := NewSessionManager(&stubAuthAPI{}, store)
	if err := manager.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if !manager.Authenticated() {
		t.Fatal("expected restored session to be authenticated")
	}
	if manager.UserID() != "user-1" {
		t.Fatalf("expected user-1 got %q", manager.UserID())
	}
}
