package authsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/livecenter/pkg/jwtx"
	"github.com/aussiebroadwan/livecenter/pkg/navigation"
)

// Reauthenticator starts a fresh login after the session was invalidated.
// It returns the new token when one is available immediately, or "" when the
// token will arrive later through the login callback.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) (string, error)
}

// ReauthenticatorFunc adapts a function to Reauthenticator.
type ReauthenticatorFunc func(ctx context.Context) (string, error)

func (f ReauthenticatorFunc) Reauthenticate(ctx context.Context) (string, error) { return f(ctx) }

// LoginRedirect sends the user to the external login page. The new token comes
// back on the callback URL and is picked up by Initialize or CompleteCallback.
type LoginRedirect struct {
	Navigator navigation.Navigator
	LoginURL  string
}

func (l *LoginRedirect) Reauthenticate(ctx context.Context) (string, error) {
	if l.LoginURL == "" {
		return "", errors.New("login redirect: no login URL configured")
	}

	if err := l.Navigator.Redirect(ctx, l.LoginURL); err != nil {
		return "", fmt.Errorf("login redirect: %w", err)
	}

	return "", nil
}

// DevMint mints a signed token locally. Development only: the backend must be
// configured with the same secret.
type DevMint struct {
	Signer jwtx.Signer
	Params jwtx.AccessClaimsParams
	Now    func() time.Time
}

func (d *DevMint) Reauthenticate(_ context.Context) (string, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	token, err := d.Signer.Sign(jwtx.NewAccessClaims(d.Params, now()))
	if err != nil {
		return "", fmt.Errorf("dev mint: %w", err)
	}

	return token, nil
}
