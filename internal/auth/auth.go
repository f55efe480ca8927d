// Package auth resolves bearer tokens to identities. It issues and verifies
// HS256 JWTs, caches verification results, and hashes account passwords.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidToken is returned for any token that fails verification:
// malformed, wrongly signed, expired or missing required claims.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal a token resolves to.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
}

// Verified is the result of a successful verification.
type Verified struct {
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Verifier resolves a bearer token. It may suspend (network, cache), so it
// takes a context.
type Verifier interface {
	Verify(ctx context.Context, token string) (Verified, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (Verified, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, token string) (Verified, error) {
	return f(ctx, token)
}
