// Package session implements the per-connection authentication state
// machine.
//
// A Session moves between Unauthenticated, Authenticating and Authenticated.
// While Authenticated it holds exactly one router registration; re-authenticating
// replaces that registration and closing the session always releases it.
// Token expiry is checked lazily by Authorize, never by a timer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/router"
)

var (
	// ErrUnauthenticated is returned when the session has no valid identity:
	// never authenticated, bad token, failed registration or expired token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTokenExpired accompanies ErrUnauthenticated when Authorize finds the
	// token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrAuthInProgress is returned for an AUTHENTICATE that overlaps one
	// still in flight.
	ErrAuthInProgress = errors.New("authentication in progress")

	// ErrClosed is returned by Authenticate after Close.
	ErrClosed = errors.New("session closed")
)

// State is the authentication state of a Session.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Registrar is the part of the router a session uses.
type Registrar interface {
	Register(ctx context.Context, userID string, d router.Deliverer) (router.Handle, error)
	Unregister(userID string, h router.Handle)
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// Session is owned by one connection worker. The mutex keeps the state
// consistent with Close, which may arrive from the transport's cleanup path;
// token verification and registration run without holding it.
type Session struct {
	verifier  auth.Verifier
	registrar Registrar
	deliverer router.Deliverer
	now       func() time.Time
	log       zerolog.Logger

	mu        sync.Mutex
	state     State
	closed    bool
	identity  auth.Identity
	expiresAt time.Time
	handle    router.Handle
}

// New creates an Unauthenticated session whose registrations deliver to d.
func New(verifier auth.Verifier, registrar Registrar, d router.Deliverer, opts ...Option) *Session {
	s := &Session{
		verifier:  verifier,
		registrar: registrar,
		deliverer: d,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate verifies token and registers the connection under the
// resulting identity. Any existing registration is released first.
//
// On failure the session is left Unauthenticated and the error wraps
// ErrUnauthenticated, except for ErrAuthInProgress (state unchanged) and
// ErrClosed.
func (s *Session) Authenticate(ctx context.Context, token string) (auth.Verified, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return auth.Verified{}, ErrClosed
	}
	if s.state == Authenticating {
		s.mu.Unlock()
		return auth.Verified{}, ErrAuthInProgress
	}
	prevUser, prevHandle, hadPrev := s.releaseLocked()
	s.state = Authenticating
	s.mu.Unlock()

	if hadPrev {
		s.registrar.Unregister(prevUser, prevHandle)
	}

	v, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.reset()
		return auth.Verified{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !s.now().Before(v.ExpiresAt) {
		s.reset()
		return auth.Verified{}, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrTokenExpired)
	}

	h, err := s.registrar.Register(ctx, v.Identity.UserID, s.deliverer)
	if err != nil {
		s.reset()
		return auth.Verified{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	s.mu.Lock()
	if s.closed {
		s.state = Unauthenticated
		s.mu.Unlock()
		s.registrar.Unregister(v.Identity.UserID, h)
		return auth.Verified{}, ErrClosed
	}
	s.state = Authenticated
	s.identity = v.Identity
	s.expiresAt = v.ExpiresAt
	s.handle = h
	s.mu.Unlock()

	s.log.Debug().
		Str("user", v.Identity.UserID).
		Time("expires", v.ExpiresAt).
		Msg("session authenticated")
	return v, nil
}

// Authorize returns the bound identity and registration handle for a
// non-AUTHENTICATE envelope. A session whose token has expired is
// deauthenticated and the error wraps both ErrUnauthenticated and
// ErrTokenExpired.
func (s *Session) Authorize() (auth.Identity, router.Handle, error) {
	s.mu.Lock()
	if s.state != Authenticated {
		s.mu.Unlock()
		return auth.Identity{}, 0, ErrUnauthenticated
	}
	if s.now().Before(s.expiresAt) {
		id, h := s.identity, s.handle
		s.mu.Unlock()
		return id, h, nil
	}

	user, h, _ := s.releaseLocked()
	s.mu.Unlock()

	s.registrar.Unregister(user, h)
	s.log.Debug().Str("user", user).Msg("session token expired")
	return auth.Identity{}, 0, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrTokenExpired)
}

// Close deauthenticates the session permanently. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	user, h, had := s.releaseLocked()
	s.mu.Unlock()

	if had {
		s.registrar.Unregister(user, h)
	}
}

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the bound identity, if authenticated.
func (s *Session) Identity() (auth.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.state == Authenticated
}

// releaseLocked clears an Authenticated binding and returns what must be
// unregistered. An Authenticating session is left untouched.
func (s *Session) releaseLocked() (string, router.Handle, bool) {
	if s.state != Authenticated {
		return "", 0, false
	}
	user, h := s.identity.UserID, s.handle
	s.state = Unauthenticated
	s.identity = auth.Identity{}
	s.expiresAt = time.Time{}
	s.handle = 0
	return user, h, true
}

func (s *Session) reset() {
	s.mu.Lock()
	s.state = Unauthenticated
	s.mu.Unlock()
}
