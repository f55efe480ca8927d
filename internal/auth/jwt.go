package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT issues and verifies HS256 tokens. The subject claim carries the user
// id and a username claim carries the display name.
type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// JWTOption configures a JWT.
type JWTOption func(*JWT)

// WithNow overrides the clock used for issuing and validating tokens.
func WithNow(now func() time.Time) JWTOption {
	return func(j *JWT) { j.now = now }
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// NewJWT returns a JWT signer/verifier using secret. Tokens issued by it are
// valid for ttl.
func NewJWT(secret string, ttl time.Duration, opts ...JWTOption) *JWT {
	j := &JWT{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Issue signs a token for id. The returned expiry is truncated to the
// second, matching what Verify will report.
func (j *JWT) Issue(id Identity) (string, time.Time, error) {
	if id.UserID == "" {
		return "", time.Time{}, errors.New("issue token: empty user id")
	}

	now := j.now()
	expiresAt := now.Add(j.ttl).Truncate(time.Second)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify implements Verifier.
func (j *JWT) Verify(_ context.Context, token string) (Verified, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return Verified{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || c.Subject == "" {
		return Verified{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Verified{
		Identity:  Identity{UserID: c.Subject, Username: c.Username},
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
