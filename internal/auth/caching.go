package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Tyrowin/gochat/internal/cache"
)

// CachingVerifier memoizes successful verifications. Failed verifications are
// never cached. Cached results keep their original expiry, so callers must
// still compare ExpiresAt against the clock.
type CachingVerifier struct {
	next  Verifier
	cache cache.Cache[Verified]
	ttl   time.Duration
}

// NewCachingVerifier wraps next with c. Entries live for at most ttl.
func NewCachingVerifier(next Verifier, c cache.Cache[Verified], ttl time.Duration) *CachingVerifier {
	return &CachingVerifier{next: next, cache: c, ttl: ttl}
}

// Verify implements Verifier.
func (v *CachingVerifier) Verify(ctx context.Context, token string) (Verified, error) {
	return v.cache.GetOrFetch(ctx, tokenKey(token), v.ttl, func(ctx context.Context) (Verified, error) {
		return v.next.Verify(ctx, token)
	})
}

// Forget drops the cached result for token.
func (v *CachingVerifier) Forget(ctx context.Context, token string) error {
	return v.cache.Delete(ctx, tokenKey(token))
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:])
}
