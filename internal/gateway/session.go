package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hoodly/hoodlysync/internal/models"
)

// refreshLeeway is how early before access expiry a refresh is attempted, so
// requests never go out with a token about to lapse mid-flight.
const refreshLeeway = 30 * time.Second

// TokenStore persists issued tokens so a session can survive process restarts.
type TokenStore interface {
	Save(ctx context.Context, tokens models.SessionTokens) error
	Load(ctx context.Context) (models.SessionTokens, error)
	Clear(ctx context.Context) error
}

// authAPI is the slice of the backend auth surface the session manager needs.
// *Client satisfies it.
type authAPI interface {
	signInPassword(ctx context.Context, email, password string) (models.SessionTokens, error)
	refreshSession(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	signOut(ctx context.Context, accessToken string) error
}

// SessionManager owns the credential lifecycle. Every other component borrows
// the latest token at call time and never caches it across a call boundary.
type SessionManager struct {
	api   authAPI
	store TokenStore
	now   func() time.Time

	mu       sync.RWMutex
	tokens   models.SessionTokens
	signedIn bool
}

// NewSessionManager constructs a manager persisting tokens to the provided store.
func NewSessionManager(api authAPI, store TokenStore) *SessionManager {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	return &SessionManager{api: api, store: store, now: time.Now}
}

// Restore loads a previously persisted session, if any.
func (m *SessionManager) Restore(ctx context.Context) error {
	tokens, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil
		}
		return err
	}

	m.mu.Lock()
	m.tokens = tokens
	m.signedIn = tokens.AccessToken != ""
	m.mu.Unlock()
	return nil
}

// SignIn exchanges credentials for a token pair and persists it.
func (m *SessionManager) SignIn(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return errors.New("email and password must be provided")
	}

	tokens, err := m.api.signInPassword(ctx, email, password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tokens = tokens
	m.signedIn = true
	m.mu.Unlock()

	return m.store.Save(ctx, tokens)
}

// SignOut revokes the session server-side (best effort) and clears local state.
func (m *SessionManager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	access := m.tokens.AccessToken
	m.tokens = models.SessionTokens{}
	m.signedIn = false
	m.mu.Unlock()

	if access != "" {
		_ = m.api.signOut(ctx, access)
	}

	return m.store.Clear(ctx)
}

// Authenticated reports whether a session is currently held.
func (m *SessionManager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signedIn
}

// UserID returns the identifier of the signed-in user, or empty when signed out.
func (m *SessionManager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.UserID
}

// AccessToken returns a token valid for at least the refresh leeway,
// refreshing first when the current one is about to expire.
func (m *SessionManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	tokens := m.tokens
	signedIn := m.signedIn
	m.mu.RUnlock()

	if !signedIn {
		return "", ErrNoSession
	}

	if m.now().Add(refreshLeeway).Before(tokens.AccessExpiresAt) {
		return tokens.AccessToken, nil
	}

	return m.ForceRefresh(ctx)
}

// ForceRefresh exchanges the refresh token for a new pair regardless of the
// access token's remaining lifetime. Used after the backend rejects a token.
func (m *SessionManager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.signedIn {
		return "", ErrNoSession
	}

	if m.tokens.RefreshExpiresAt.Before(m.now()) && !m.tokens.RefreshExpiresAt.IsZero() {
		m.tokens = models.SessionTokens{}
		m.signedIn = false
		_ = m.store.Clear(ctx)
		return "", ErrSessionExpired
	}

	tokens, err := m.api.refreshSession(ctx, m.tokens.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			m.tokens = models.SessionTokens{}
			m.signedIn = false
			_ = m.store.Clear(ctx)
			return "", ErrSessionExpired
		}
		return "", err
	}

	m.tokens = tokens
	if err := m.store.Save(ctx, tokens); err != nil {
		return "", err
	}

	return tokens.AccessToken, nil
}

// NewMemoryTokenStore returns a TokenStore backed by process memory, used for
// tests and short-lived tools.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// MemoryTokenStore implements TokenStore without persistence.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens models.SessionTokens
	held   bool
}

// Save stores the provided token pair.
func (s *MemoryTokenStore) Save(_ context.Context, tokens models.SessionTokens) error {
	s.mu.Lock()
	s.tokens = tokens
	s.held = true
	s.mu.Unlock()
	return nil
}

// Load retrieves the stored token pair.
func (s *MemoryTokenStore) Load(_ context.Context) (models.SessionTokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return models.SessionTokens{}, ErrNoSession
	}
	return s.tokens, nil
}

// Clear removes any stored tokens.
func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.tokens = models.SessionTokens{}
	s.held = false
	s.mu.Unlock()
	return nil
}
