package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds settings for the board server runtime.
type ServerConfig struct {
	ListenAddr      string
	Database        DatabaseConfig
	JWT             JWTConfig
	Redis           RedisConfig
	RateLimit       RateLimitConfig
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	ShutdownTimeout time.Duration
	MaxFrameBytes   int64
	HistoryLimit    int
	SendBuffer      int
	AllowedOrigins  []string
	// Trace selects the span exporter: empty or "off" disables tracing, "stdout" prints spans.
	Trace string
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerURL     string
	CommandPrefix rune
	Username      string
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// RedisConfig points the rate limiter at a shared Redis. An empty Addr keeps limits in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig bounds how many posts one remote host may submit per interval.
type RateLimitConfig struct {
	Burst    int
	Interval time.Duration
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// LoadServerConfig builds the server configuration from environment variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      envOrDefault("POSTBOARD_LISTEN_ADDR", ":8000"),
		Database:        loadDatabaseConfig(),
		JWT:             loadJWTConfig(),
		Redis:           loadRedisConfig(),
		RateLimit:       loadRateLimitConfig(),
		ReadTimeout:     envDuration("POSTBOARD_READ_TIMEOUT", 60*time.Second),
		WriteTimeout:    envDuration("POSTBOARD_WRITE_TIMEOUT", 10*time.Second),
		PingInterval:    envDuration("POSTBOARD_PING_INTERVAL", 54*time.Second),
		ShutdownTimeout: envDuration("POSTBOARD_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxFrameBytes:   int64(envInt("POSTBOARD_MAX_FRAME_BYTES", 64<<10)),
		HistoryLimit:    envInt("POSTBOARD_HISTORY_LIMIT", 20),
		SendBuffer:      envInt("POSTBOARD_SEND_BUFFER", 256),
		AllowedOrigins:  envList("POSTBOARD_ALLOWED_ORIGINS", []string{"*"}),
		Trace:           strings.ToLower(envOrDefault("POSTBOARD_TRACE", "")),
	}
}

// LoadClientConfig builds the client configuration from environment variables.
func LoadClientConfig() ClientConfig {
	prefix := envOrDefault("POSTBOARD_COMMAND_PREFIX", "/")
	runes := []rune(prefix)
	commandPrefix := '/'
	if len(runes) > 0 {
		commandPrefix = runes[0]
	}
	return ClientConfig{
		ServerURL:     envOrDefault("POSTBOARD_SERVER_URL", "ws://127.0.0.1:8000/ws"),
		CommandPrefix: commandPrefix,
		Username:      envOrDefault("POSTBOARD_USERNAME", ""),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: strings.ToLower(envOrDefault("POSTBOARD_DB_DRIVER", DriverSQLite)),
		Path:   envOrDefault("POSTBOARD_DB_PATH", "database.db"),
		DSN:    envOrDefault("POSTBOARD_DB_DSN", ""),
	}
}

func loadJWTConfig() JWTConfig {
	expiration := envDuration("POSTBOARD_JWT_EXPIRATION", 24*time.Hour)
	return JWTConfig{
		Secret:     envOrDefault("POSTBOARD_JWT_SECRET", "replace-me"),
		Issuer:     envOrDefault("POSTBOARD_JWT_ISSUER", "postboard"),
		Expiration: expiration,
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     envOrDefault("POSTBOARD_REDIS_ADDR", ""),
		Password: envOrDefault("POSTBOARD_REDIS_PASSWORD", ""),
		DB:       envInt("POSTBOARD_REDIS_DB", 0),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Burst:    envInt("POSTBOARD_RATE_LIMIT_BURST", 5),
		Interval: envDuration("POSTBOARD_RATE_LIMIT_INTERVAL", time.Second),
	}
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return env
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(env); err == nil {
			return parsed
		}
	}
	return def
}

func envList(key string, def []string) []string {
	env, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	parts := strings.Split(env, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return def
	}
	return values
}
