package config

import (
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides file values with environment variables. Unparseable or
// non-positive numeric values are ignored and the previous value is kept.
func (c *Config) applyEnv(getenv func(string) string) {
	// Load SERVER_PORT
	if port := getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}

	// Load ALLOWED_ORIGINS
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = parseOrigins(origins)
	}

	// Load MAX_MESSAGE_SIZE
	if maxSize := getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		c.Server.MaxMessageSize = parseMaxMessageSize(maxSize, c.Server.MaxMessageSize)
	}

	// Load RATE_LIMIT_BURST
	if burst := getenv("RATE_LIMIT_BURST"); burst != "" {
		c.Server.RateLimit.Burst = parseIntValue(burst, c.Server.RateLimit.Burst)
	}

	// Load RATE_LIMIT_REFILL_INTERVAL (seconds)
	if interval := getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		c.Server.RateLimit.RefillInterval = parseRefillInterval(interval, c.Server.RateLimit.RefillInterval)
	}

	if secret := getenv("JWT_SECRET"); secret != "" {
		c.Auth.Secret = secret
	}
	if backend := getenv("STORE_BACKEND"); backend != "" {
		c.Store.Backend = strings.ToLower(strings.TrimSpace(backend))
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
