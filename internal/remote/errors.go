package remote

import "errors"

var (
	// ErrAlreadyConsumed indicates a concurrent redemption won the
	// conditional update and this one must not be applied.
	ErrAlreadyConsumed = errors.New("invite link already consumed")
)
