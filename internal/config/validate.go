package config

import (
	"errors"
	"fmt"
)

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 16

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Server.MaxMessageSize < 1 {
		return errors.New("server.max_message_size must be >= 1")
	}
	if c.Server.SendBufferSize < 1 {
		return errors.New("server.send_buffer_size must be >= 1")
	}
	if c.Server.RateLimit.Burst < 1 {
		return errors.New("server.rate_limit.burst must be >= 1")
	}

	if len(c.Auth.Secret) < MinSecretLength {
		return fmt.Errorf("auth.secret must be at least %d characters", MinSecretLength)
	}
	switch c.Auth.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when auth.cache.backend is redis")
		}
	default:
		return fmt.Errorf("auth.cache.backend must be memory, redis or none, got %q", c.Auth.Cache.Backend)
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return errors.New("store.mongo.uri is required")
		}
		if c.Store.Mongo.MinPoolSize > c.Store.Mongo.MaxPoolSize {
			return fmt.Errorf("store.mongo.min_pool_size (%d) cannot exceed max_pool_size (%d)",
				c.Store.Mongo.MinPoolSize, c.Store.Mongo.MaxPoolSize)
		}
	default:
		return fmt.Errorf("store.backend must be memory, postgres or mongo, got %q", c.Store.Backend)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	return nil
}

func (db *PostgresConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
