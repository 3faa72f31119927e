// Package navigation abstracts the host's routing so the session layer never
// branches on the platform it runs on.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// CallbackTokenParam is the query parameter the login page appends when it
// sends the user back with a fresh token.
const CallbackTokenParam = "token"

// Navigator moves the user around. Navigate stays inside the app, Redirect
// leaves it (for example to an external login page).
type Navigator interface {
	CurrentRoute() string
	Navigate(ctx context.Context, route string) error
	Redirect(ctx context.Context, rawURL string) error
}

// CallbackSource exposes the token carried by the navigation that started
// the process, if any.
type CallbackSource interface {
	CallbackToken() string
}

// ErrNoCallbackToken is returned when a callback URL has no token.
var ErrNoCallbackToken = errors.New("navigation: callback has no token")

// ParseCallbackToken extracts the token query parameter from a callback URL.
func ParseCallbackToken(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	token := u.Query().Get(CallbackTokenParam)
	if token == "" {
		return "", ErrNoCallbackToken
	}

	return token, nil
}
