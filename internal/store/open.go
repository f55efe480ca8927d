package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/config"
)

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		log.Info().Str("backend", "memory").Msg("store opened")
		return NewMemory(), nil

	case "postgres":
		pg, err := NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info().
			Str("backend", "postgres").
			Str("host", cfg.Postgres.Host).
			Str("database", cfg.Postgres.Name).
			Msg("store opened")
		return pg, nil

	case "mongo":
		m, err := NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		log.Info().
			Str("backend", "mongo").
			Str("database", cfg.Mongo.Database).
			Msg("store opened")
		return m, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
