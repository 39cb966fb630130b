package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/veloride/veloride/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Fares    FareConfig
	Match    MatchConfig
	Surge    SurgeConfig
	Idem     IdempotencyConfig
	Location LocationConfig
	Cache    CacheConfig
	PSP      PSPConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	CallTimeout time.Duration // per-call deadline on state-store operations
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	CallTimeout time.Duration // per-call deadline on geo index / lock / cache operations
}

// FareConfig holds the per-tier pricing parameters.
type FareConfig struct {
	BaseFare  map[model.Tier]float64
	PerKmRate map[model.Tier]float64
}

// MatchConfig holds the matching engine parameters.
type MatchConfig struct {
	InitialRadiusKm float64
	MaxRadiusKm     float64
	Backoff         float64
	RetryDelay      time.Duration
	Budget          time.Duration
	CandidateLimit  int
	LockTTL         time.Duration
	Workers         int
	QueueCapacity   int
}

// SurgeConfig holds surge-pricing parameters.
type SurgeConfig struct {
	CellGeohashLen int
	Window         time.Duration
	Max            float64
}

// IdempotencyConfig holds the idempotency-cache parameters.
type IdempotencyConfig struct {
	TTL          time.Duration
	InflightWait time.Duration
}

// LocationConfig holds the location-ingest parameters.
type LocationConfig struct {
	FlushInterval  time.Duration
	FlushBatch     int
	BufferCapacity int
}

// CacheConfig holds the read-cache parameters.
type CacheConfig struct {
	RideStatusTTL time.Duration
	DriverMetaTTL time.Duration
}

// PSPConfig holds the payment-service-provider settings. An empty BaseURL
// selects the deterministic stub client.
type PSPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "veloride")
	viper.SetDefault("POSTGRES_PASSWORD", "veloride_secret")
	viper.SetDefault("POSTGRES_DB", "veloride_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 50)
	viper.SetDefault("POSTGRES_MIN_CONNS", 10)
	viper.SetDefault("POSTGRES_CALL_TIMEOUT", "2s")

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 100)
	viper.SetDefault("REDIS_CALL_TIMEOUT", "500ms")

	viper.SetDefault("FARE_BASE_STANDARD", 50.0)
	viper.SetDefault("FARE_BASE_PREMIUM", 100.0)
	viper.SetDefault("FARE_BASE_XL", 80.0)
	viper.SetDefault("FARE_PER_KM_STANDARD", 12.0)
	viper.SetDefault("FARE_PER_KM_PREMIUM", 25.0)
	viper.SetDefault("FARE_PER_KM_XL", 18.0)

	viper.SetDefault("MATCH_INITIAL_RADIUS_KM", 2.0)
	viper.SetDefault("MATCH_MAX_RADIUS_KM", 10.0)
	viper.SetDefault("MATCH_BACKOFF", 1.5)
	viper.SetDefault("MATCH_RETRY_DELAY_MS", 200)
	viper.SetDefault("MATCH_BUDGET_MS", 30000)
	viper.SetDefault("MATCH_CANDIDATE_LIMIT", 20)
	viper.SetDefault("MATCH_LOCK_TTL", "10s")
	viper.SetDefault("MATCH_WORKERS", 8)
	viper.SetDefault("MATCH_QUEUE_CAPACITY", 1024)

	viper.SetDefault("SURGE_CELL_GEOHASH_LENGTH", 5)
	viper.SetDefault("SURGE_WINDOW_SECONDS", 300)
	viper.SetDefault("SURGE_MAX", 5.0)

	viper.SetDefault("IDEMPOTENCY_TTL_SECONDS", 86400)
	viper.SetDefault("IDEMPOTENCY_INFLIGHT_WAIT_MS", 10000)

	viper.SetDefault("LOCATION_FLUSH_INTERVAL_MS", 500)
	viper.SetDefault("LOCATION_FLUSH_BATCH", 1000)
	viper.SetDefault("LOCATION_BUFFER_CAPACITY", 10000)

	viper.SetDefault("RIDE_STATUS_CACHE_TTL_SECONDS", 30)
	viper.SetDefault("DRIVER_META_TTL_SECONDS", 300)

	viper.SetDefault("PSP_BASE_URL", "")
	viper.SetDefault("PSP_API_KEY", "")
	viper.SetDefault("PSP_TIMEOUT", "10s")

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by the orchestrator are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	cfg.Postgres = PostgresConfig{
		Host:        viper.GetString("POSTGRES_HOST"),
		Port:        viper.GetInt("POSTGRES_PORT"),
		User:        viper.GetString("POSTGRES_USER"),
		Password:    viper.GetString("POSTGRES_PASSWORD"),
		DBName:      viper.GetString("POSTGRES_DB"),
		SSLMode:     viper.GetString("POSTGRES_SSLMODE"),
		MaxConns:    viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns:    viper.GetInt32("POSTGRES_MIN_CONNS"),
		CallTimeout: viper.GetDuration("POSTGRES_CALL_TIMEOUT"),
	}

	cfg.Redis = RedisConfig{
		Host:        viper.GetString("REDIS_HOST"),
		Port:        viper.GetInt("REDIS_PORT"),
		Password:    viper.GetString("REDIS_PASSWORD"),
		DB:          viper.GetInt("REDIS_DB"),
		PoolSize:    viper.GetInt("REDIS_POOL_SIZE"),
		CallTimeout: viper.GetDuration("REDIS_CALL_TIMEOUT"),
	}

	cfg.Fares = FareConfig{
		BaseFare: map[model.Tier]float64{
			model.TierStandard: viper.GetFloat64("FARE_BASE_STANDARD"),
			model.TierPremium:  viper.GetFloat64("FARE_BASE_PREMIUM"),
			model.TierXL:       viper.GetFloat64("FARE_BASE_XL"),
		},
		PerKmRate: map[model.Tier]float64{
			model.TierStandard: viper.GetFloat64("FARE_PER_KM_STANDARD"),
			model.TierPremium:  viper.GetFloat64("FARE_PER_KM_PREMIUM"),
			model.TierXL:       viper.GetFloat64("FARE_PER_KM_XL"),
		},
	}

	cfg.Match = MatchConfig{
		InitialRadiusKm: viper.GetFloat64("MATCH_INITIAL_RADIUS_KM"),
		MaxRadiusKm:     viper.GetFloat64("MATCH_MAX_RADIUS_KM"),
		Backoff:         viper.GetFloat64("MATCH_BACKOFF"),
		RetryDelay:      time.Duration(viper.GetInt("MATCH_RETRY_DELAY_MS")) * time.Millisecond,
		Budget:          time.Duration(viper.GetInt("MATCH_BUDGET_MS")) * time.Millisecond,
		CandidateLimit:  viper.GetInt("MATCH_CANDIDATE_LIMIT"),
		LockTTL:         viper.GetDuration("MATCH_LOCK_TTL"),
		Workers:         viper.GetInt("MATCH_WORKERS"),
		QueueCapacity:   viper.GetInt("MATCH_QUEUE_CAPACITY"),
	}

	cfg.Surge = SurgeConfig{
		CellGeohashLen: viper.GetInt("SURGE_CELL_GEOHASH_LENGTH"),
		Window:         time.Duration(viper.GetInt("SURGE_WINDOW_SECONDS")) * time.Second,
		Max:            viper.GetFloat64("SURGE_MAX"),
	}

	cfg.Idem = IdempotencyConfig{
		TTL:          time.Duration(viper.GetInt("IDEMPOTENCY_TTL_SECONDS")) * time.Second,
		InflightWait: time.Duration(viper.GetInt("IDEMPOTENCY_INFLIGHT_WAIT_MS")) * time.Millisecond,
	}

	cfg.Location = LocationConfig{
		FlushInterval:  time.Duration(viper.GetInt("LOCATION_FLUSH_INTERVAL_MS")) * time.Millisecond,
		FlushBatch:     viper.GetInt("LOCATION_FLUSH_BATCH"),
		BufferCapacity: viper.GetInt("LOCATION_BUFFER_CAPACITY"),
	}

	cfg.Cache = CacheConfig{
		RideStatusTTL: time.Duration(viper.GetInt("RIDE_STATUS_CACHE_TTL_SECONDS")) * time.Second,
		DriverMetaTTL: time.Duration(viper.GetInt("DRIVER_META_TTL_SECONDS")) * time.Second,
	}

	cfg.PSP = PSPConfig{
		BaseURL: viper.GetString("PSP_BASE_URL"),
		APIKey:  viper.GetString("PSP_API_KEY"),
		Timeout: viper.GetDuration("PSP_TIMEOUT"),
	}

	return cfg, nil
}
