package authsession

import "time"

// State is the coarse authentication state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	// StateExpired is transient: it is reported to OnStateChange when expiry
	// is detected and immediately collapses into StateUnauthenticated.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// User is the profile decoded from the session token claims.
type User struct {
	ID        string
	Username  string
	Email     string
	Role      string
	TokenType string
	TokenID   string
	IssuedAt  time.Time
}

// AuthState is a point-in-time copy of the manager's state. Zero values stand
// for "null": no user, no token, no expiry, no pending redirect.
type AuthState struct {
	User            *User
	Token           string
	IsAuthenticated bool
	TokenExpiry     time.Time
	RedirectPath    string
}

// State returns the coarse state for this snapshot.
func (a AuthState) State() State {
	if a.IsAuthenticated {
		return StateAuthenticated
	}
	return StateUnauthenticated
}
