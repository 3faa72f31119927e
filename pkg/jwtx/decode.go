package jwtx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed = errors.New("jwtx: malformed token")
	ErrExpired   = errors.New("jwtx: token expired")
	ErrNoExpiry  = errors.New("jwtx: token has no exp claim")
)

// parser decodes without verifying. Padding is tolerated because some issuers
// emit padded base64url segments.
var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// IsWellFormed reports whether token has exactly three dot-separated segments.
func IsWellFormed(token string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	return len(strings.Split(token, ".")) == 3
}

// ParseUnverified decodes the payload of token into Claims without checking
// the signature. Never use the result for an authorization decision.
func ParseUnverified(token string) (*Claims, error) {
	if !IsWellFormed(token) {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	_, _, err := parser.ParseUnverified(token, claims)

	// An unknown or missing alg only matters to verifiers; the claims are
	// already decoded at that point.
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return claims, nil
}
