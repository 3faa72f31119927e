package jwtx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token TTL constants.
const (
	// DefaultDevTokenTTL is the lifetime of locally minted development tokens.
	DefaultDevTokenTTL = time.Hour

	// TokenTypeAccess is the "type" claim carried by access tokens.
	TokenTypeAccess = "access"
)

// Claims are the session token claims issued by the user service. The client
// only ever decodes them; signatures are checked server-side.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the public user id. Older issuers put it in "sub" instead,
	// see SubjectID.
	UserID SubjectID `json:"user_id,omitempty"`

	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`

	// Role such as "ADMIN".
	Role string `json:"role,omitempty"`

	// Type is the token type, "access" for session tokens.
	Type string `json:"type,omitempty"`
}

// SubjectID returns user_id, falling back to the registered "sub" claim.
func (c *Claims) SubjectID() string {
	if c.UserID != "" {
		return string(c.UserID)
	}
	return c.Subject
}

// ExpiresAtTime returns the exp claim, or the zero time if absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAtTime returns the iat claim, or the zero time if absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ValidateExpiryAt reports whether the token is still valid at now. A token is
// valid only while exp is strictly after now; a missing exp is never valid.
func (c *Claims) ValidateExpiryAt(now time.Time) error {
	if c.ExpiresAt == nil {
		return ErrNoExpiry
	}

	if !c.ExpiresAt.After(now) {
		return ErrExpired
	}

	return nil
}

// AccessClaimsParams describes a token to mint.
type AccessClaimsParams struct {
	UserID   string
	Username string
	Email    string
	Role     string
	TTL      time.Duration
}

// NewAccessClaims builds minimally-correct access claims.
func NewAccessClaims(p AccessClaimsParams, now time.Time) Claims {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultDevTokenTTL
	}

	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		UserID:   SubjectID(p.UserID),
		Username: p.Username,
		Email:    p.Email,
		Role:     p.Role,
		Type:     TokenTypeAccess,
	}
}

// NewJTI returns a random UUIDv4 for the "jti" claim.
func NewJTI() string {
	return uuid.NewString()
}

// SubjectID is a user identifier that issuers encode either as a JSON string
// or as a JSON number.
type SubjectID string

// UnmarshalJSON accepts both "abc" and 123.
func (s *SubjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SubjectID(str)
		return nil
	}

	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return fmt.Errorf("jwtx: user_id must be a string or number: %w", err)
	}
	*s = SubjectID(strings.TrimSpace(num.String()))
	return nil
}
