package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// DefaultAttemptRetention is how many attempts are kept per profile when
// the backend is not told otherwise.
const DefaultAttemptRetention = 100

// Store represents the root storage interface.
type Store interface {
	Close() error
	Passwords() PasswordStore
	Attempts() AttemptStore
}

// PasswordStore holds one rhythm password per profile.
type PasswordStore interface {
	Get(ctx context.Context, profile string) (*Password, error)
	Set(ctx context.Context, profile string, pw Password) error
	Delete(ctx context.Context, profile string) error
}

// AttemptStore keeps a bounded history of access attempts.
type AttemptStore interface {
	Add(ctx context.Context, attempt AccessAttempt) error
	// Recent returns up to limit attempts for profile, newest first.
	Recent(ctx context.Context, profile string, limit int) ([]AccessAttempt, error)
}
