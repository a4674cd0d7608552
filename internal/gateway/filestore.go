package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/hoodly/hoodlysync/internal/models"
)

// FileTokenStore persists session tokens as a JSON file so a session survives
// process restarts. The file is written with owner-only permissions.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore constructs a token store writing to the given path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Save writes the token pair, creating parent directories as needed.
func (s *FileTokenStore) Save(_ context.Context, tokens models.SessionTokens) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	payload, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode session tokens: %w", err)
	}

	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		return fmt.Errorf("write session tokens: %w", err)
	}
	return nil
}

// Load reads a previously saved token pair. A missing file means no session.
func (s *FileTokenStore) Load(_ context.Context) (models.SessionTokens, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.SessionTokens{}, ErrNoSession
		}
		return models.SessionTokens{}, fmt.Errorf("read session tokens: %w", err)
	}

	var tokens models.SessionTokens
	if err := json.Unmarshal(payload, &tokens); err != nil {
		return models.SessionTokens{}, fmt.Errorf("decode session tokens: %w", err)
	}
	if tokens.AccessToken == "" {
		return models.SessionTokens{}, ErrNoSession
	}
	return tokens, nil
}

// Clear removes the persisted tokens. A missing file is not an error.
func (s *FileTokenStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session tokens: %w", err)
	}
	return nil
}

var _ TokenStore = (*FileTokenStore)(nil)
