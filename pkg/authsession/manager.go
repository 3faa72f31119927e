package authsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/livecenter/pkg/apierr"
	"github.com/aussiebroadwan/livecenter/pkg/cryptox"
	"github.com/aussiebroadwan/livecenter/pkg/jwtx"
	"github.com/aussiebroadwan/livecenter/pkg/navigation"
	"github.com/aussiebroadwan/livecenter/pkg/storage"
)

// Defaults applied by NewManager when Options leaves them empty.
const (
	DefaultLanding    = "/pages/room/new/RoomList"
	DefaultLoginRoute = "/pages/auth/login"
)

const reauthKey = "reauth"

// Options configures a Manager. Primary and Navigator are required.
type Options struct {
	// Primary is the platform's persistent store. The manager is the only
	// writer of the token and redirect keys.
	Primary storage.Store

	// Alternate is consulted by Initialize only when Primary yields nothing
	// valid. It is never written.
	Alternate storage.Store

	// Callback exposes a token carried by the navigation that started the
	// process (the login page's return URL).
	Callback navigation.CallbackSource

	Navigator navigation.Navigator

	// Reauthenticator runs after ForceReauthenticate cleared the session. When
	// nil, the session is cleared and the target stashed, nothing else.
	Reauthenticator Reauthenticator

	// DefaultLanding is where HandleAuthRedirect goes without a stashed path.
	DefaultLanding string

	// LoginRoute is the in-app login page. A stashed path equal to it is never
	// navigated to.
	LoginRoute string

	// LoginURL is the external login page Logout redirects to.
	LoginURL string

	// OnStateChange is called after every state transition, outside the lock.
	OnStateChange func(from, to State)

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns the authentication state of one client. It is safe for
// concurrent use.
type Manager struct {
	primary   storage.Store
	alternate storage.Store
	callback  navigation.CallbackSource
	navigator navigation.Navigator
	reauther  Reauthenticator

	defaultLanding string
	loginRoute     string
	loginURL       string

	onStateChange func(from, to State)
	logger        *slog.Logger
	now           func() time.Time

	// tokenMu serializes writes of the token with its storage key, so the
	// persisted key always matches the in-memory token.
	tokenMu sync.Mutex

	mu       sync.RWMutex
	token    string
	user     *User
	expiry   time.Time
	redirect string
	pending  bool

	reauth singleflight.Group
}

// NewManager creates a Manager. Call Initialize before first use.
func NewManager(opts Options) (*Manager, error) {
	if opts.Primary == nil {
		return nil, errors.New("authsession: primary storage is required")
	}
	if opts.Navigator == nil {
		return nil, errors.New("authsession: navigator is required")
	}

	m := &Manager{
		primary:        opts.Primary,
		alternate:      opts.Alternate,
		callback:       opts.Callback,
		navigator:      opts.Navigator,
		reauther:       opts.Reauthenticator,
		defaultLanding: opts.DefaultLanding,
		loginRoute:     opts.LoginRoute,
		loginURL:       opts.LoginURL,
		onStateChange:  opts.OnStateChange,
		logger:         opts.Logger,
		now:            opts.Now,
	}

	if m.defaultLanding == "" {
		m.defaultLanding = DefaultLanding
	}
	if m.loginRoute == "" {
		m.loginRoute = DefaultLoginRoute
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}

	return m, nil
}

// ============================================================================
// Initialization
// ============================================================================

type candidate struct {
	source string
	read   func(ctx context.Context) (string, error)
}

// Initialize restores the session from the first valid token among primary
// storage, alternate storage and the callback token, in that order. A token
// taken from a secondary source is written back to primary storage. With no
// valid candidate the session ends Unauthenticated and any stale primary
// token is purged. A persisted redirect path stays in storage until read.
func (m *Manager) Initialize(ctx context.Context) error {
	candidates := []candidate{{source: "primary", read: m.readStore(m.primary)}}
	if m.alternate != nil {
		candidates = append(candidates, candidate{source: "alternate", read: m.readStore(m.alternate)})
	}
	if m.callback != nil {
		candidates = append(candidates, candidate{source: "callback", read: func(context.Context) (string, error) {
			return m.callback.CallbackToken(), nil
		}})
	}

	for _, c := range candidates {
		token, err := c.read(ctx)
		if err != nil {
			m.logger.Warn("failed to read token candidate", "source", c.source, "error", err)
			continue
		}
		if token == "" {
			continue
		}
		if !m.CheckExpiry(token) {
			m.logger.Debug("discarding invalid token candidate", "source", c.source, "token_fp", fingerprint(token))
			continue
		}

		if err := m.SetToken(ctx, token); err != nil {
			m.logger.Warn("failed to restore token", "source", c.source, "error", err)
			continue
		}

		m.logger.Info("session restored", "source", c.source, "user_id", m.userID())
		return nil
	}

	if err := m.ClearAuth(ctx); err != nil {
		return fmt.Errorf("failed to purge stale token: %w", err)
	}

	m.logger.Debug("no valid session token found")
	return nil
}

func (m *Manager) readStore(s storage.Store) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return storage.Lookup(ctx, s, storage.KeyToken)
	}
}

// ============================================================================
// Token lifecycle
// ============================================================================

// SetToken installs a new session token. The payload is decoded without
// signature verification; a token that is not three segments or whose payload
// cannot be decoded is rejected with a MalformedToken error and the current
// state is left untouched. Setting a token ends any pending reauthentication.
func (m *Manager) SetToken(ctx context.Context, token string) error {
	claims, err := jwtx.ParseUnverified(token)
	if err != nil {
		return apierr.MalformedToken(err)
	}

	m.tokenMu.Lock()
	if err := m.primary.Set(ctx, storage.KeyToken, token); err != nil {
		m.tokenMu.Unlock()
		return fmt.Errorf("failed to persist token: %w", err)
	}

	m.mu.Lock()
	from := m.stateLocked()
	m.token = token
	m.user = userFromClaims(claims)
	m.expiry = claims.ExpiresAtTime()
	m.pending = false
	m.mu.Unlock()
	m.tokenMu.Unlock()

	m.emit(from, StateAuthenticated)
	return nil
}

// CheckExpiry reports whether token carries an exp claim in the future. Any
// decode failure counts as expired.
func (m *Manager) CheckExpiry(token string) bool {
	claims, err := jwtx.ParseUnverified(token)
	if err != nil {
		return false
	}
	return claims.ValidateExpiryAt(m.now()) == nil
}

// ClearAuth drops the token and user profile and removes the persisted token.
// The redirect path is kept. Calling it on a cleared session is a no-op apart
// from the storage remove.
func (m *Manager) ClearAuth(ctx context.Context) error {
	m.tokenMu.Lock()
	m.mu.Lock()
	from := m.stateLocked()
	m.clearLocked()
	m.mu.Unlock()
	err := m.primary.Remove(ctx, storage.KeyToken)
	m.tokenMu.Unlock()

	m.emit(from, StateUnauthenticated)

	if err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}

// Token returns the current token, or "" when there is none. Expiry is
// checked on every call; an expired token clears the session.
func (m *Manager) Token(ctx context.Context) string {
	m.mu.RLock()
	token, expiry := m.token, m.expiry
	m.mu.RUnlock()

	if token == "" {
		return ""
	}
	if expiry.After(m.now()) {
		return token
	}

	m.expire(ctx, token)
	return ""
}

func (m *Manager) expire(ctx context.Context, token string) {
	m.tokenMu.Lock()
	m.mu.Lock()
	// Another goroutine may have replaced or cleared the token meanwhile.
	if m.token != token {
		m.mu.Unlock()
		m.tokenMu.Unlock()
		return
	}
	m.clearLocked()
	m.mu.Unlock()
	err := m.primary.Remove(ctx, storage.KeyToken)
	m.tokenMu.Unlock()

	m.logger.Info("session token expired", "token_fp", fingerprint(token))
	m.emit(StateAuthenticated, StateExpired)
	m.emit(StateExpired, StateUnauthenticated)

	if err != nil {
		m.logger.Warn("failed to remove expired token", "error", err)
	}
}

// ============================================================================
// Accessors
// ============================================================================

// State returns Authenticated or Unauthenticated. Expired tokens are detected
// here and collapse into Unauthenticated.
func (m *Manager) State(ctx context.Context) State {
	if m.Token(ctx) == "" {
		return StateUnauthenticated
	}
	return StateAuthenticated
}

// Snapshot returns a copy of the full auth state.
func (m *Manager) Snapshot(ctx context.Context) AuthState {
	m.Token(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()

	s := AuthState{
		Token:           m.token,
		IsAuthenticated: m.token != "",
		TokenExpiry:     m.expiry,
		RedirectPath:    m.redirect,
	}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

// User returns a copy of the current profile, or nil.
func (m *Manager) User(ctx context.Context) *User {
	return m.Snapshot(ctx).User
}

// ReauthPending reports whether a reauthentication episode is in progress.
func (m *Manager) ReauthPending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// ============================================================================
// Redirect path
// ============================================================================

// SetRedirectPath stashes the route to return to after login.
func (m *Manager) SetRedirectPath(ctx context.Context, path string) error {
	m.mu.Lock()
	m.redirect = path
	m.mu.Unlock()

	if err := m.primary.Set(ctx, storage.KeyRedirectPath, path); err != nil {
		return fmt.Errorf("failed to persist redirect path: %w", err)
	}
	return nil
}

// RedirectPath returns the stashed route, falling back to storage.
func (m *Manager) RedirectPath(ctx context.Context) string {
	m.mu.RLock()
	path := m.redirect
	m.mu.RUnlock()

	if path != "" {
		return path
	}

	path, err := storage.Lookup(ctx, m.primary, storage.KeyRedirectPath)
	if err != nil {
		m.logger.Warn("failed to read redirect path", "error", err)
		return ""
	}
	return path
}

// ClearRedirectPath forgets the stashed route.
func (m *Manager) ClearRedirectPath(ctx context.Context) error {
	m.mu.Lock()
	m.redirect = ""
	m.mu.Unlock()

	if err := m.primary.Remove(ctx, storage.KeyRedirectPath); err != nil {
		return fmt.Errorf("failed to remove redirect path: %w", err)
	}
	return nil
}

// ============================================================================
// Reauthentication
// ============================================================================

// ForceReauthenticate invalidates the session after the backend rejected it.
// It clears the token, stashes target as the redirect path and runs the
// configured Reauthenticator. Concurrent callers share one attempt, and
// callers arriving while an episode is pending are no-ops until a new token
// is set or the attempt fails. The work is detached from ctx cancellation.
func (m *Manager) ForceReauthenticate(ctx context.Context, target string) error {
	ctx = context.WithoutCancel(ctx)

	_, err, shared := m.reauth.Do(reauthKey, func() (any, error) {
		return nil, m.reauthenticate(ctx, target)
	})
	if shared {
		m.logger.Debug("joined in-flight reauthentication", "target", target)
	}

	return err
}

func (m *Manager) reauthenticate(ctx context.Context, target string) error {
	if !m.beginEpisode(ctx, target) {
		m.logger.Debug("reauthentication already pending", "target", target)
		return nil
	}

	m.logger.Info("session invalidated, reauthenticating", "target", target)

	if m.reauther == nil {
		return nil
	}

	token, err := m.reauther.Reauthenticate(ctx)
	if err != nil {
		m.endEpisode()
		return fmt.Errorf("failed to reauthenticate: %w", err)
	}

	// Token arrives later through the login callback.
	if token == "" {
		return nil
	}

	if err := m.SetToken(ctx, token); err != nil {
		m.endEpisode()
		return err
	}

	return m.HandleAuthRedirect(ctx)
}

func (m *Manager) beginEpisode(ctx context.Context, target string) bool {
	m.tokenMu.Lock()
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		m.tokenMu.Unlock()
		return false
	}
	m.pending = true
	from := m.stateLocked()
	m.clearLocked()
	m.redirect = target
	m.mu.Unlock()

	if err := m.primary.Remove(ctx, storage.KeyToken); err != nil {
		m.logger.Warn("failed to remove token", "error", err)
	}
	m.tokenMu.Unlock()

	m.emit(from, StateUnauthenticated)

	if err := m.primary.Set(ctx, storage.KeyRedirectPath, target); err != nil {
		m.logger.Warn("failed to persist redirect path", "error", err)
	}

	return true
}

func (m *Manager) endEpisode() {
	m.mu.Lock()
	m.pending = false
	m.mu.Unlock()
}

// ============================================================================
// Navigation
// ============================================================================

// HandleAuthRedirect navigates to the stashed redirect path, consuming it, or
// to the default landing route when none is stashed. A stashed login page
// path is discarded.
func (m *Manager) HandleAuthRedirect(ctx context.Context) error {
	target := m.defaultLanding

	if path := m.RedirectPath(ctx); path != "" {
		if err := m.ClearRedirectPath(ctx); err != nil {
			m.logger.Warn("failed to clear redirect path", "error", err)
		}
		if path != m.loginRoute {
			target = path
		}
	}

	if err := m.navigator.Navigate(ctx, target); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", target, err)
	}
	return nil
}

// CompleteCallback accepts the token carried on the login page's return URL
// and continues to the stashed redirect path.
func (m *Manager) CompleteCallback(ctx context.Context, rawURL string) error {
	token, err := navigation.ParseCallbackToken(rawURL)
	if err != nil {
		return err
	}

	if err := m.SetToken(ctx, token); err != nil {
		return err
	}

	m.logger.Info("login callback completed", "user_id", m.userID())
	return m.HandleAuthRedirect(ctx)
}

// Logout clears the session and redirect path and leaves for the login page.
func (m *Manager) Logout(ctx context.Context) error {
	err := errors.Join(m.ClearAuth(ctx), m.ClearRedirectPath(ctx))

	m.mu.Lock()
	m.pending = false
	m.mu.Unlock()

	if m.loginURL != "" {
		if rerr := m.navigator.Redirect(ctx, m.loginURL); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to redirect to login: %w", rerr))
		}
	}

	m.logger.Info("logged out")
	return err
}

// ============================================================================
// Helpers
// ============================================================================

func (m *Manager) stateLocked() State {
	if m.token != "" {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

func (m *Manager) clearLocked() {
	m.token = ""
	m.user = nil
	m.expiry = time.Time{}
}

func (m *Manager) emit(from, to State) {
	if from == to || m.onStateChange == nil {
		return
	}
	m.onStateChange(from, to)
}

func (m *Manager) userID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return ""
	}
	return m.user.ID
}

func userFromClaims(c *jwtx.Claims) *User {
	return &User{
		ID:        c.SubjectID(),
		Username:  c.Username,
		Email:     c.Email,
		Role:      c.Role,
		TokenType: c.Type,
		TokenID:   c.ID,
		IssuedAt:  c.IssuedAtTime(),
	}
}

// fingerprint is a short, log-safe token identifier.
func fingerprint(token string) string {
	return cryptox.FingerprintToken(token)[:12]
}
