package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/cache"
)

const testSecret = "test-secret-0123456789"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestJWT_IssueAndVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	j := NewJWT(testSecret, time.Hour, WithNow(fixedClock(now)))

	token, expiresAt, err := j.Issue(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)
	assert.True(t, expiresAt.Equal(now.Add(time.Hour)))

	v, err := j.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Username: "alice"}, v.Identity)
	assert.True(t, v.ExpiresAt.Equal(expiresAt))
}

func TestJWT_IssueRequiresUserID(t *testing.T) {
	j := NewJWT(testSecret, time.Hour)
	_, _, err := j.Issue(Identity{Username: "alice"})
	assert.Error(t, err)
}

func TestJWT_VerifyRejects(t *testing.T) {
	now := time.Unix(1700000000, 0)
	j := NewJWT(testSecret, time.Hour, WithNow(fixedClock(now)))

	valid, _, err := j.Issue(Identity{UserID: "u1"})
	require.NoError(t, err)

	other := NewJWT("another-secret-987654321", time.Hour, WithNow(fixedClock(now)))
	wrongKey, _, err := other.Issue(Identity{UserID: "u1"})
	require.NoError(t, err)

	later := NewJWT(testSecret, time.Hour, WithNow(fixedClock(now.Add(time.Hour))))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "u1",
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier *JWT
		token    string
	}{
		{"garbage", j, "not-a-token"},
		{"empty", j, ""},
		{"wrong key", j, wrongKey},
		{"expired at exactly exp", later, valid},
		{"missing exp", j, noExp},
		{"missing subject", j, noSub},
		{"unexpected algorithm", j, hs512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

type countingVerifier struct {
	calls atomic.Int32
	err   error
}

func (c *countingVerifier) Verify(_ context.Context, token string) (Verified, error) {
	c.calls.Add(1)
	if c.err != nil {
		return Verified{}, c.err
	}
	return Verified{Identity: Identity{UserID: token}, ExpiresAt: time.Unix(1700003600, 0)}, nil
}

func TestCachingVerifier_CachesSuccess(t *testing.T) {
	inner := &countingVerifier{}
	v := NewCachingVerifier(inner, cache.NewMemory[Verified](time.Minute, time.Minute), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := v.Verify(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.Identity.UserID)
	}
	assert.Equal(t, int32(1), inner.calls.Load())

	_, err := v.Verify(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())

	require.NoError(t, v.Forget(ctx, "u1"))
	_, err = v.Verify(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestCachingVerifier_DoesNotCacheFailures(t *testing.T) {
	inner := &countingVerifier{err: ErrInvalidToken}
	v := NewCachingVerifier(inner, cache.NewMemory[Verified](time.Minute, time.Minute), time.Minute)

	for i := 0; i < 2; i++ {
		_, err := v.Verify(context.Background(), "bad")
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestTokenKeyDoesNotContainToken(t *testing.T) {
	key := tokenKey("secret-token")
	assert.NotContains(t, key, "secret-token")
	assert.Equal(t, key, tokenKey("secret-token"))
	assert.NotEqual(t, key, tokenKey("other-token"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, CheckPassword(hash, "hunter22"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrPasswordMismatch)
	assert.Error(t, CheckPassword("not-a-hash", "hunter22"))
}

func TestVerifierFunc(t *testing.T) {
	var v Verifier = VerifierFunc(func(_ context.Context, token string) (Verified, error) {
		return Verified{Identity: Identity{UserID: token}}, nil
	})
	got, err := v.Verify(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, "u9", got.Identity.UserID)
}
