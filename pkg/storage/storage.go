// Package storage defines the key/value persistence the session layer writes
// its token and redirect target to, plus the drivers selected at startup.
package storage

import (
	"context"
	"errors"
)

// Well-known keys owned by the session manager.
const (
	KeyToken        = "jwt_token"
	KeyRedirectPath = "auth_redirect_path"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Store is a small persistent key/value store scoped to one platform. Remove
// of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Lookup returns the value for key, treating a missing key as ("", nil).
func Lookup(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
