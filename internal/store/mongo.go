package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Tyrowin/gochat/internal/config"
)

const (
	usersCollection    = "users"
	roomsCollection    = "rooms"
	messagesCollection = "messages"
)

// Mongo is a Store backed by MongoDB. Room membership is kept as a members
// array on the room document.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	rooms    *mongo.Collection
	messages *mongo.Collection
	now      func() time.Time
}

type mongoUser struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	UsernameKey  string    `bson:"username_key"`
	Email        string    `bson:"email,omitempty"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (u mongoUser) user() User {
	return User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

// NewMongo connects to MongoDB, pings it and ensures the indexes exist.
func NewMongo(ctx context.Context, cfg config.MongoConfig) (*Mongo, error) {
	opts := options.Client().ApplyURI(cfg.URI).SetAppName(config.DefaultServiceName)
	opts.SetMinPoolSize(cfg.MinPoolSize)
	opts.SetMaxPoolSize(cfg.MaxPoolSize)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &Mongo{
		client:   client,
		users:    db.Collection(usersCollection),
		rooms:    db.Collection(roomsCollection),
		messages: db.Collection(messagesCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username_key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_username_unique"),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}

	_, err = m.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "members", Value: 1}},
		Options: options.Index().SetName("rooms_members"),
	})
	if err != nil {
		return fmt.Errorf("create rooms index: %w", err)
	}

	_, err = m.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("messages_room_created"),
	})
	if err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	return nil
}

func (m *Mongo) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	doc := mongoUser{
		ID:           uuid.NewString(),
		Username:     username,
		UsernameKey:  strings.ToLower(username),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    m.now(),
	}

	if _, err := m.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, fmt.Errorf("%w: %q", ErrUsernameTaken, username)
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return doc.user(), nil
}

func (m *Mongo) UserByName(ctx context.Context, username string) (User, error) {
	var doc mongoUser
	err := m.users.FindOne(ctx, bson.D{{Key: "username_key", Value: strings.ToLower(username)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return doc.user(), nil
}

func (m *Mongo) UsersByID(ctx context.Context, ids []string) ([]User, error) {
	cur, err := m.users.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: dedupe(ids)}}}})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}

	var docs []mongoUser
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	out := make([]User, len(docs))
	for i, d := range docs {
		out[i] = d.user()
	}
	return out, nil
}

func (m *Mongo) CreateRoom(ctx context.Context, members []string) (Room, error) {
	members = dedupe(members)

	n, err := m.users.CountDocuments(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: members}}}})
	if err != nil {
		return Room{}, fmt.Errorf("count members: %w", err)
	}
	if int(n) != len(members) {
		return Room{}, ErrUnknownUser
	}

	r := Room{
		ID:        uuid.NewString(),
		Members:   members,
		CreatedAt: m.now(),
	}
	if _, err := m.rooms.InsertOne(ctx, r); err != nil {
		return Room{}, fmt.Errorf("insert room: %w", err)
	}
	return r, nil
}

func (m *Mongo) Room(ctx context.Context, roomID string) (Room, error) {
	var r Room
	err := m.rooms.FindOne(ctx, bson.D{{Key: "_id", Value: roomID}}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Room{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return Room{}, fmt.Errorf("find room: %w", err)
	}
	return r, nil
}

func (m *Mongo) RoomsOf(ctx context.Context, userID string) ([]string, error) {
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

func (m *Mongo) RoomsFor(ctx context.Context, userID string) ([]Room, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := m.rooms.Find(ctx, bson.D{{Key: "members", Value: userID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find rooms of %s: %w", userID, err)
	}

	var rooms []Room
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

func (m *Mongo) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	n, err := m.rooms.CountDocuments(ctx, bson.D{
		{Key: "_id", Value: roomID},
		{Key: "members", Value: userID},
	})
	if err != nil {
		return false, fmt.Errorf("count membership: %w", err)
	}
	return n > 0, nil
}

func (m *Mongo) RemoveMember(ctx context.Context, roomID, userID string) ([]string, error) {
	var r Room
	err := m.rooms.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: roomID}, {Key: "members", Value: userID}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "members", Value: userID}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("remove member: %w", err)
	}
	return r.Members, nil
}

func (m *Mongo) DeleteRoom(ctx context.Context, roomID string) error {
	res, err := m.rooms.DeleteOne(ctx, bson.D{{Key: "_id", Value: roomID}})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if _, err := m.messages.DeleteMany(ctx, bson.D{{Key: "room_id", Value: roomID}}); err != nil {
		return fmt.Errorf("delete room messages: %w", err)
	}
	return nil
}

func (m *Mongo) CreateMessage(ctx context.Context, roomID, authorID, content string) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: m.now(),
	}
	if _, err := m.messages.InsertOne(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
