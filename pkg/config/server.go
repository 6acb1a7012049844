package config

import "time"

// ServerConfig holds runtime configuration for the scaffold server.
//
// DatabaseURL and CacheAddr are optional collaborators: when left empty the
// server runs without the corresponding integration and its readiness probe.
type ServerConfig struct {
	Environment     string
	Addr            string
	DataDir         string
	DatabaseURL     string
	MigrationsDir   string
	CacheAddr       string
	CachePassword   string
	CacheDB         int
	RateLimit       int
	RateLimitWindow time.Duration
	ShutdownTimeout time.Duration
	ProbeTimeout    time.Duration
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("SERVER_ADDR", ":8080"),
		DataDir:         GetString("DATA_DIR", "."),
		DatabaseURL:     GetString("DATABASE_URL", ""),
		MigrationsDir:   GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		CacheAddr:       GetString("CACHE_ADDR", ""),
		CachePassword:   GetString("CACHE_PASSWORD", ""),
		CacheDB:         GetInt("CACHE_DB", 0),
		RateLimit:       GetInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow: GetSeconds("RATE_LIMIT_WINDOW_SECONDS", time.Minute),
		ShutdownTimeout: GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10*time.Second),
		ProbeTimeout:    GetSeconds("PROBE_TIMEOUT_SECONDS", 2*time.Second),
	}
}
