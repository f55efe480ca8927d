package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPort             = ":8080"
	DefaultOrigin           = "http://localhost:8080"
	DefaultMaxMessageSize   = 4096
	DefaultSendBufferSize   = 256
	DefaultRateLimitBurst   = 5
	DefaultRateLimitRefill  = time.Second
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultTokenTTL         = 24 * time.Hour
	DefaultAuthCacheBackend = "memory"
	DefaultAuthCacheTTL     = 5 * time.Minute
	DefaultAuthCacheCleanup = 10 * time.Minute
	DefaultStoreBackend     = "memory"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultMongoDatabase    = "gochat"
	DefaultMongoMinPool     = 1
	DefaultMongoMaxPool     = 20
	DefaultMongoTimeout     = 10 * time.Second
	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisKeyPrefix   = "gochat:"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultServiceName      = "gochat"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.AllowedOrigins == nil {
		c.Server.AllowedOrigins = []string{DefaultOrigin}
	}
	if c.Server.MaxMessageSize <= 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Server.SendBufferSize <= 0 {
		c.Server.SendBufferSize = DefaultSendBufferSize
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.Server.RateLimit.RefillInterval <= 0 {
		c.Server.RateLimit.RefillInterval = DefaultRateLimitRefill
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Auth defaults
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Auth.Cache.Backend == "" {
		c.Auth.Cache.Backend = DefaultAuthCacheBackend
	}
	if c.Auth.Cache.TTL <= 0 {
		c.Auth.Cache.TTL = DefaultAuthCacheTTL
	}
	if c.Auth.Cache.CleanupInterval <= 0 {
		c.Auth.Cache.CleanupInterval = DefaultAuthCacheCleanup
	}

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultStoreBackend
	}
	c.Store.Postgres.applyDefaults()
	if c.Store.Mongo.Database == "" {
		c.Store.Mongo.Database = DefaultMongoDatabase
	}
	if c.Store.Mongo.MinPoolSize == 0 {
		c.Store.Mongo.MinPoolSize = DefaultMongoMinPool
	}
	if c.Store.Mongo.MaxPoolSize == 0 {
		c.Store.Mongo.MaxPoolSize = DefaultMongoMaxPool
	}
	if c.Store.Mongo.ConnectTimeout <= 0 {
		c.Store.Mongo.ConnectTimeout = DefaultMongoTimeout
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.Service == "" {
		c.Log.Service = DefaultServiceName
	}
}

func (db *PostgresConfig) applyDefaults() {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
