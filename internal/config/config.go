package config

import "time"

// Config holds runtime configuration for the analytics service.
type Config struct {
	Environment     string
	Addr            string
	DatabaseURL     string
	MigrationsDir   string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	PublicBaseURL string

	EventsBackend      string
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	GeoLookupBaseURL string
	GeoLookupTimeout time.Duration

	ActiveWindow    time.Duration
	RealtimeRefresh time.Duration

	InvitationTTL time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("API_ADDR", ":4000"),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://loupe:loupe@db:5432/loupe?sslmode=disable"),
		MigrationsDir:   GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:       GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:  time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL: time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,

		PublicBaseURL: GetString("PUBLIC_BASE_URL", "http://localhost:4000"),

		EventsBackend:      GetString("EVENTS_BACKEND", "postgres"),
		ClickHouseAddr:     GetString("CLICKHOUSE_ADDR", "clickhouse:9000"),
		ClickHouseDatabase: GetString("CLICKHOUSE_DB", "loupe"),
		ClickHouseUser:     GetString("CLICKHOUSE_USER", "default"),
		ClickHousePassword: GetString("CLICKHOUSE_PASSWORD", ""),

		GeoLookupBaseURL: GetString("GEO_LOOKUP_BASE_URL", "http://ipapi.co"),
		GeoLookupTimeout: time.Duration(GetInt("GEO_LOOKUP_TIMEOUT_MS", 2000)) * time.Millisecond,

		ActiveWindow:    time.Duration(GetInt("ACTIVE_WINDOW_SECONDS", 300)) * time.Second,
		RealtimeRefresh: time.Duration(GetInt("REALTIME_REFRESH_SECONDS", 30)) * time.Second,

		InvitationTTL: time.Duration(GetInt("INVITATION_TTL_HOURS", 168)) * time.Hour,

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
