package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession indicates the operation requires an authenticated session.
	ErrNoSession = errors.New("no active session")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrSessionExpired indicates the refresh token has expired and sign-in is required.
	ErrSessionExpired = errors.New("session expired")
)

// Backend error codes surfaced by the row API.
const (
	codeNoRows       = "PGRST116"
	codeDuplicateKey = "23505"
	codeForeignKey   = "23503"
)

// RemoteError wraps a rejection from the backend, preserving its error code
// so callers can distinguish not-found, duplicate-key, and constraint cases
// without string matching.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
}

// Is maps well-known backend codes onto the package sentinels so call sites
// can use errors.Is instead of inspecting codes.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == 404 || e.Code == codeNoRows
	case ErrConflict:
		return e.Status == 409 || e.Code == codeDuplicateKey
	case ErrNoSession:
		return e.Status == 401
	}
	return false
}

// NetworkError wraps a transport-level failure distinct from a backend rejection.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failure is safe to retry for an idempotent
// read: transport failures and server-side 5xx responses qualify, rejections
// of the request itself do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Status >= 500
	}

	return false
}
