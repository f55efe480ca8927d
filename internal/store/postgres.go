package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/gochat/internal/config"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		email         TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx ON users (lower(username))`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id         TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS room_members (
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS room_members_user_idx ON room_members (user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		author_id  TEXT NOT NULL REFERENCES users(id),
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// BuildConnString builds a PostgreSQL connection URL from cfg.
func BuildConnString(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// NewPostgres connects, verifies the connection and creates the schema.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}

	err := p.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, u.ID, u.Username, u.Email, u.PasswordHash).Scan(&u.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return User{}, fmt.Errorf("%w: %q", ErrUsernameTaken, username)
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UserByName(ctx context.Context, username string) (User, error) {
	var u User
	err := p.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE lower(username) = lower($1)
	`, username).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UsersByID(ctx context.Context, ids []string) ([]User, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE id = ANY($1)
	`, dedupe(ids))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateRoom(ctx context.Context, members []string) (Room, error) {
	r := Room{ID: uuid.NewString(), Members: dedupe(members)}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Room{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx,
		`INSERT INTO rooms (id) VALUES ($1) RETURNING created_at`, r.ID,
	).Scan(&r.CreatedAt); err != nil {
		return Room{}, fmt.Errorf("insert room: %w", err)
	}

	batch := &pgx.Batch{}
	for _, id := range r.Members {
		batch.Queue(`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, r.ID, id)
	}
	results := tx.SendBatch(ctx, batch)
	for _, id := range r.Members {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			if pgCode(err) == pgForeignKeyViolation {
				return Room{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
			}
			return Room{}, fmt.Errorf("insert member: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return Room{}, fmt.Errorf("insert members: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Room{}, fmt.Errorf("commit: %w", err)
	}
	return r, nil
}

func (p *Postgres) Room(ctx context.Context, roomID string) (Room, error) {
	r := Room{ID: roomID}
	err := p.pool.QueryRow(ctx, `SELECT created_at FROM rooms WHERE id = $1`, roomID).Scan(&r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return Room{}, fmt.Errorf("query room: %w", err)
	}

	r.Members, err = p.members(ctx, roomID)
	if err != nil {
		return Room{}, err
	}
	return r, nil
}

func (p *Postgres) members(ctx context.Context, roomID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan members: %w", err)
	}
	return ids, nil
}

func (p *Postgres) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT m.room_id FROM room_members m
		JOIN rooms r ON r.id = m.room_id
		WHERE m.user_id = $1
		ORDER BY r.created_at, r.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms of %s: %w", userID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan rooms: %w", err)
	}
	return ids, nil
}

func (p *Postgres) RoomsFor(ctx context.Context, userID string) ([]Room, error) {
	ids, err := p.RoomsOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Room, 0, len(ids))
	for _, id := range ids {
		r, err := p.Room(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Deleted between the two queries.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *Postgres) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return ok, nil
}

func (p *Postgres) RemoveMember(ctx context.Context, roomID, userID string) ([]string, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotMember
	}
	return p.members(ctx, roomID)
}

func (p *Postgres) DeleteRoom(ctx context.Context, roomID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) CreateMessage(ctx context.Context, roomID, authorID, content string) (Message, error) {
	msg := Message{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		AuthorID: authorID,
		Content:  content,
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO messages (id, room_id, author_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, msg.ID, msg.RoomID, msg.AuthorID, msg.Content).Scan(&msg.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return Message{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
