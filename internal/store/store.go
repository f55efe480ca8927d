// Package store persists accounts, rooms, room membership and chat messages.
//
// Three backends implement Store: an in-memory store for tests and single
// process deployments, PostgreSQL via pgx, and MongoDB. The router reads room
// membership through RoomsOf; the chat handlers and HTTP API use the rest.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user or room does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUsernameTaken is returned by CreateUser for a duplicate username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrUnknownUser is returned by CreateRoom when a member id does not
	// name an existing user.
	ErrUnknownUser = errors.New("unknown user")

	// ErrNotMember is returned by RemoveMember when the user is not in the
	// room.
	ErrNotMember = errors.New("not a member of room")
)

// User is a registered account.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Username     string    `json:"username" bson:"username"`
	Email        string    `json:"email,omitempty" bson:"email,omitempty"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" bson:"created_at"`
}

// Room is a chat room and its member user ids.
type Room struct {
	ID        string    `json:"id" bson:"_id"`
	Members   []string  `json:"members" bson:"members"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `json:"id" bson:"_id"`
	RoomID    string    `json:"roomId" bson:"room_id"`
	AuthorID  string    `json:"authorId" bson:"author_id"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// Store is the persistence collaborator. Implementations are safe for
// concurrent use.
type Store interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (User, error)
	UserByName(ctx context.Context, username string) (User, error)
	// UsersByID returns the users that exist among ids. Unknown ids are
	// skipped.
	UsersByID(ctx context.Context, ids []string) ([]User, error)

	// CreateRoom creates a room with the given members. Duplicate ids are
	// collapsed.
	CreateRoom(ctx context.Context, members []string) (Room, error)
	Room(ctx context.Context, roomID string) (Room, error)
	// RoomsOf lists the ids of every room userID belongs to.
	RoomsOf(ctx context.Context, userID string) ([]string, error)
	// RoomsFor lists every room userID belongs to, with members.
	RoomsFor(ctx context.Context, userID string) ([]Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	// RemoveMember removes userID from the room and returns the remaining
	// member ids.
	RemoveMember(ctx context.Context, roomID, userID string) ([]string, error)
	DeleteRoom(ctx context.Context, roomID string) error

	CreateMessage(ctx context.Context, roomID, authorID, content string) (Message, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
