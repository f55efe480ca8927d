// Package router decides which live connections receive each outbound event.
//
// A Router keeps an in-memory index of user → {connections, rooms} and
// room → {users}. The index is a cache of the durable room membership held by
// the store; Refresh re-reads it and must be called for every user affected by
// a membership write. Delivery is best-effort: unknown users, rooms and
// handles resolve to silent no-ops.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Handle identifies one registered connection.
type Handle uint64

// Deliverer is the capability to push one envelope to a connection. Deliver
// must not block on the network; the transport queues the frame.
type Deliverer interface {
	Deliver(msgType string, payload any)
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(msgType string, payload any)

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(msgType string, payload any) { f(msgType, payload) }

// MembershipSource is the authoritative room membership.
type MembershipSource interface {
	RoomsOf(ctx context.Context, userID string) ([]string, error)
}

// Stats is a point-in-time count of registry entries.
type Stats struct {
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Router is safe for concurrent use. A single mutex guards the registry;
// membership fetches and deliveries run without holding it.
type Router struct {
	source MembershipSource
	log    zerolog.Logger

	mu         sync.Mutex
	reg        *registry
	nextHandle Handle
	refreshSeq uint64
}

// New creates a Router reading membership from source.
func New(source MembershipSource, log zerolog.Logger) *Router {
	return &Router{
		source: source,
		log:    log,
		reg:    newRegistry(),
	}
}

// Register adds a connection for userID and refreshes the user's rooms
// before returning. Registrations are additive: every call yields an
// independent handle. If the refresh fails the new connection is removed
// again and the error returned.
func (r *Router) Register(ctx context.Context, userID string, d Deliverer) (Handle, error) {
	r.mu.Lock()
	r.nextHandle++
	h := r.nextHandle
	r.reg.add(userID, h, d)
	r.mu.Unlock()

	if err := r.Refresh(ctx, userID); err != nil {
		r.Unregister(userID, h)
		return 0, fmt.Errorf("register %s: %w", userID, err)
	}

	r.log.Debug().Str("user", userID).Uint64("handle", uint64(h)).Msg("connection registered")
	return h, nil
}

// Unregister removes one connection. It is a no-op for unknown users or
// handles.
func (r *Router) Unregister(userID string, h Handle) {
	r.mu.Lock()
	removed := r.reg.remove(userID, h)
	r.mu.Unlock()

	if removed {
		r.log.Debug().Str("user", userID).Uint64("handle", uint64(h)).Msg("connection unregistered")
	}
}

// Refresh re-reads the rooms of userID and applies the difference to the
// cache. It does nothing when the user has no live connection.
//
// Each call takes a sequence number before fetching; a result is applied only
// if no later-started refresh has already been applied for that user.
func (r *Router) Refresh(ctx context.Context, userID string) error {
	r.mu.Lock()
	if _, ok := r.reg.users[userID]; !ok {
		r.mu.Unlock()
		return nil
	}
	r.refreshSeq++
	seq := r.refreshSeq
	r.mu.Unlock()

	rooms, err := r.source.RoomsOf(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch rooms of %s: %w", userID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.reg.users[userID]
	if !ok || seq <= e.appliedSeq {
		return nil
	}
	e.appliedSeq = seq
	joined, left := r.reg.setRooms(userID, rooms)

	if joined > 0 || left > 0 {
		r.log.Debug().
			Str("user", userID).
			Int("joined", joined).
			Int("left", left).
			Msg("membership refreshed")
	}
	return nil
}

// RefreshUsers refreshes every user concurrently and returns the first
// error. All refreshes run to completion regardless of failures.
func (r *Router) RefreshUsers(ctx context.Context, userIDs ...string) error {
	var g errgroup.Group
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error { return r.Refresh(ctx, id) })
	}
	return g.Wait()
}

// SendToConnection delivers to exactly one connection, if it still exists.
func (r *Router) SendToConnection(userID string, h Handle, msgType string, payload any) {
	r.mu.Lock()
	d, ok := r.reg.connection(userID, h)
	r.mu.Unlock()

	if ok {
		r.deliver(d, msgType, payload)
	}
}

// SendToUser delivers to every connection of userID.
func (r *Router) SendToUser(userID string, msgType string, payload any) {
	r.mu.Lock()
	targets := r.reg.appendConnections(nil, userID)
	r.mu.Unlock()

	for _, d := range targets {
		r.deliver(d, msgType, payload)
	}
}

// SendToRoom delivers to every connection of every user currently cached as
// a member of roomID. Recipients are snapshotted before delivery, so a
// concurrent membership change may or may not affect this broadcast.
func (r *Router) SendToRoom(roomID string, msgType string, payload any) {
	r.mu.Lock()
	targets := r.reg.roomConnections(roomID)
	r.mu.Unlock()

	for _, d := range targets {
		r.deliver(d, msgType, payload)
	}
}

func (r *Router) deliver(d Deliverer, msgType string, payload any) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Interface("panic", p).
				Str("type", msgType).
				Bytes("stack", debug.Stack()).
				Msg("deliverer panicked")
		}
	}()
	d.Deliver(msgType, payload)
}

// Stats returns the current registry counts.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Users: len(r.reg.users), Rooms: len(r.reg.rooms)}
	for _, e := range r.reg.users {
		s.Connections += len(e.conns)
	}
	return s
}

// RoomsOf returns the cached rooms of userID, sorted.
func (r *Router) RoomsOf(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.reg.users[userID]
	if !ok {
		return nil
	}
	return sortedKeys(e.rooms)
}

// RoomUsers returns the cached members of roomID, sorted.
func (r *Router) RoomUsers(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return sortedKeys(r.reg.rooms[roomID])
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
