package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/router"
)

type roomsFunc func(ctx context.Context, userID string) ([]string, error)

func (f roomsFunc) RoomsOf(ctx context.Context, userID string) ([]string, error) { return f(ctx, userID) }

var noRooms = roomsFunc(func(context.Context, string) ([]string, error) { return nil, nil })

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tokens maps token strings to verification results.
type tokens map[string]auth.Verified

func (t tokens) Verify(_ context.Context, token string) (auth.Verified, error) {
	v, ok := t[token]
	if !ok {
		return auth.Verified{}, auth.ErrInvalidToken
	}
	return v, nil
}

type nopDeliverer struct{}

func (nopDeliverer) Deliver(string, any) {}

type fixture struct {
	clock  *clock
	router *router.Router
	tokens tokens
}

func newFixture() *fixture {
	c := &clock{now: time.Unix(1700000000, 0)}
	return &fixture{
		clock:  c,
		router: router.New(noRooms, zerolog.Nop()),
		tokens: tokens{
			"alice": {Identity: auth.Identity{UserID: "u1", Username: "alice"}, ExpiresAt: c.now.Add(time.Hour)},
			"bob":   {Identity: auth.Identity{UserID: "u2", Username: "bob"}, ExpiresAt: c.now.Add(time.Hour)},
			"stale": {Identity: auth.Identity{UserID: "u3"}, ExpiresAt: c.now},
		},
	}
}

func (f *fixture) session(opts ...Option) *Session {
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	return New(f.tokens, f.router, nopDeliverer{}, opts...)
}

func TestAuthenticate_Success(t *testing.T) {
	f := newFixture()
	s := f.session()
	assert.Equal(t, Unauthenticated, s.State())

	v, err := s.Authenticate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", v.Identity.UserID)
	assert.Equal(t, Authenticated, s.State())

	id, h, err := s.Authorize()
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.NotZero(t, h)
	assert.Equal(t, 1, f.router.Stats().Connections)
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	f := newFixture()
	s := f.session()

	_, err := s.Authenticate(context.Background(), "forged")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.Equal(t, Unauthenticated, s.State())
	assert.Equal(t, router.Stats{}, f.router.Stats())
}

func TestAuthenticate_AlreadyExpiredToken(t *testing.T) {
	f := newFixture()
	s := f.session()

	_, err := s.Authenticate(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, Unauthenticated, s.State())
	assert.Equal(t, router.Stats{}, f.router.Stats())
}

func TestAuthenticate_RegistrationFailure(t *testing.T) {
	f := newFixture()
	f.router = router.New(roomsFunc(func(context.Context, string) ([]string, error) {
		return nil, errors.New("db down")
	}), zerolog.Nop())
	s := f.session()

	_, err := s.Authenticate(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, Unauthenticated, s.State())
	assert.Equal(t, router.Stats{}, f.router.Stats())
}

func TestAuthenticate_ReauthReplacesRegistration(t *testing.T) {
	f := newFixture()
	s := f.session()
	ctx := context.Background()

	_, err := s.Authenticate(ctx, "alice")
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, router.Stats{Users: 1, Connections: 1}, f.router.Stats())

	_, err = s.Authenticate(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, router.Stats{Users: 1, Connections: 1}, f.router.Stats())
	id, _ := s.Identity()
	assert.Equal(t, "u2", id.UserID)
}

func TestAuthenticate_FailedReauthDropsOldRegistration(t *testing.T) {
	f := newFixture()
	s := f.session()
	ctx := context.Background()

	_, err := s.Authenticate(ctx, "alice")
	require.NoError(t, err)

	_, err = s.Authenticate(ctx, "forged")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, Unauthenticated, s.State())
	assert.Equal(t, router.Stats{}, f.router.Stats())
}

// blockingVerifier holds Verify until release is closed.
type blockingVerifier struct {
	entered chan struct{}
	release chan struct{}
	result  auth.Verified
}

func (b *blockingVerifier) Verify(context.Context, string) (auth.Verified, error) {
	close(b.entered)
	<-b.release
	return b.result, nil
}

func TestAuthenticate_OverlappingAttemptRejected(t *testing.T) {
	f := newFixture()
	bv := &blockingVerifier{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		result:  f.tokens["alice"],
	}
	s := New(bv, f.router, nopDeliverer{}, WithClock(f.clock.Now))

	done := make(chan error, 1)
	go func() {
		_, err := s.Authenticate(context.Background(), "alice")
		done <- err
	}()
	<-bv.entered
	assert.Equal(t, Authenticating, s.State())

	_, err := s.Authenticate(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrAuthInProgress)

	_, _, err = s.Authorize()
	assert.ErrorIs(t, err, ErrUnauthenticated)

	close(bv.release)
	require.NoError(t, <-done)
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, 1, f.router.Stats().Connections)
}

func TestAuthenticate_CloseWhileAuthenticating(t *testing.T) {
	f := newFixture()
	bv := &blockingVerifier{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		result:  f.tokens["alice"],
	}
	s := New(bv, f.router, nopDeliverer{}, WithClock(f.clock.Now))

	done := make(chan error, 1)
	go func() {
		_, err := s.Authenticate(context.Background(), "alice")
		done <- err
	}()
	<-bv.entered

	s.Close()
	close(bv.release)

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, router.Stats{}, f.router.Stats())
	assert.Equal(t, Unauthenticated, s.State())
}

func TestAuthorize_Unauthenticated(t *testing.T) {
	s := newFixture().session()
	_, _, err := s.Authorize()
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestAuthorize_ExpiryIsLazy(t *testing.T) {
	f := newFixture()
	s := f.session()

	_, err := s.Authenticate(context.Background(), "alice")
	require.NoError(t, err)

	f.clock.Advance(59 * time.Minute)
	_, _, err = s.Authorize()
	require.NoError(t, err)

	// Registration survives past expiry until the next envelope.
	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.router.Stats().Connections)

	_, _, err = s.Authorize()
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, Unauthenticated, s.State())
	assert.Equal(t, router.Stats{}, f.router.Stats())

	_, _, err = s.Authorize()
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestClose(t *testing.T) {
	f := newFixture()
	s := f.session()

	_, err := s.Authenticate(context.Background(), "alice")
	require.NoError(t, err)

	s.Close()
	assert.Equal(t, Unauthenticated, s.State())
	assert.Equal(t, router.Stats{}, f.router.Stats())

	assert.NotPanics(t, s.Close)

	_, err = s.Authenticate(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, router.Stats{}, f.router.Stats())
}

func TestMultipleSessionsSameUser(t *testing.T) {
	f := newFixture()
	a, b := f.session(), f.session()
	ctx := context.Background()

	_, err := a.Authenticate(ctx, "alice")
	require.NoError(t, err)
	_, err = b.Authenticate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, router.Stats{Users: 1, Connections: 2}, f.router.Stats())

	a.Close()
	assert.Equal(t, router.Stats{Users: 1, Connections: 1}, f.router.Stats())
	b.Close()
	assert.Equal(t, router.Stats{}, f.router.Stats())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", Unauthenticated.String())
	assert.Equal(t, "authenticating", Authenticating.String())
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "state(9)", State(9).String())
}
