package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps everything in process memory. A sync.RWMutex protects the
// maps so reads run concurrently while writes are serialised.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*User // keyed by user id
	byName   map[string]*User // keyed by lower-case username
	rooms    map[string]*Room
	messages []Message
	now      func() time.Time
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]*User),
		byName: make(map[string]*User),
		rooms:  make(map[string]*Room),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateUser(_ context.Context, username, email, passwordHash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(username)
	if _, exists := m.byName[key]; exists {
		return User{}, fmt.Errorf("%w: %q", ErrUsernameTaken, username)
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	m.byName[key] = u
	return *u, nil
}

func (m *Memory) UserByName(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byName[strings.ToLower(username)]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return *u, nil
}

func (m *Memory) UsersByID(_ context.Context, ids []string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]User, 0, len(ids))
	for _, id := range dedupe(ids) {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *Memory) CreateRoom(_ context.Context, members []string) (Room, error) {
	members = dedupe(members)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range members {
		if _, ok := m.users[id]; !ok {
			return Room{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
		}
	}

	r := &Room{
		ID:        uuid.NewString(),
		Members:   members,
		CreatedAt: m.now(),
	}
	m.rooms[r.ID] = r
	return copyRoom(r), nil
}

func (m *Memory) Room(_ context.Context, roomID string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return copyRoom(r), nil
}

func (m *Memory) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	rooms, err := m.RoomsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	return ids, nil
}

func (m *Memory) RoomsFor(_ context.Context, userID string) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Room
	for _, r := range m.rooms {
		if containsID(r.Members, userID) {
			out = append(out, copyRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return false, nil
	}
	return containsID(r.Members, userID), nil
}

func (m *Memory) RemoveMember(_ context.Context, roomID, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	remaining := make([]string, 0, len(r.Members))
	for _, id := range r.Members {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == len(r.Members) {
		return nil, ErrNotMember
	}
	r.Members = remaining
	return append([]string(nil), remaining...), nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	delete(m.rooms, roomID)

	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.RoomID != roomID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, roomID, authorID, content string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return Message{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: m.now(),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

// Messages returns every stored message of roomID in insertion order.
func (m *Memory) Messages(roomID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Memory) Ping(context.Context) error  { return nil }
func (m *Memory) Close(context.Context) error { return nil }

func copyRoom(r *Room) Room {
	c := *r
	c.Members = append([]string(nil), r.Members...)
	return c
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
