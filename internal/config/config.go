package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Deployment environments accepted in NODE_ENV.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Config carries every runtime knob the server reads from the environment.
// Load applies defaults first, then overrides, then validates.
type Config struct {
	Env  string
	Host string
	Port string

	DatabaseURL string
	RedisURL    string

	IDPSecretKey      string
	IDPPublishableKey string

	KeyEncryptionSecret         string
	KeyEncryptionSecretPrevious string

	CORSOrigin string
	TrustProxy bool
	LogLevel   string

	DevUserID            string
	AllowInsecureDevAuth bool

	SyncBatchLimit int
	SyncPullLimit  int

	StreamTicketSecret string
	StreamTicketTTL    time.Duration

	RequireRedisForReady bool

	TombstoneRetention  time.Duration
	ChangeRetention     time.Duration
	MaintenanceInterval time.Duration

	PGPoolMaxConns int32
	PGPoolMinConns int32
}

const (
	defaultBatchLimit = 100
	defaultPullLimit  = 500

	maxBatchLimit = 500
	maxPullLimit  = 2000
)

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                         env("NODE_ENV", EnvDevelopment),
		Host:                        env("SERVER_HOST", "0.0.0.0"),
		Port:                        env("SERVER_PORT", "8080"),
		DatabaseURL:                 env("DATABASE_URL", ""),
		RedisURL:                    env("REDIS_URL", ""),
		IDPSecretKey:                env("IDP_SECRET_KEY", ""),
		IDPPublishableKey:           env("IDP_PUBLISHABLE_KEY", ""),
		KeyEncryptionSecret:         env("KEY_ENCRYPTION_SECRET", ""),
		KeyEncryptionSecretPrevious: env("KEY_ENCRYPTION_SECRET_PREVIOUS", ""),
		CORSOrigin:                  env("CORS_ORIGIN", "*"),
		TrustProxy:                  envBool("TRUST_PROXY", false),
		LogLevel:                    env("LOG_LEVEL", "info"),
		DevUserID:                   env("AUTH_DEV_USER_ID", ""),
		AllowInsecureDevAuth:        envBool("ALLOW_INSECURE_DEV_AUTH", false),
		StreamTicketSecret:          env("STREAM_TICKET_SECRET", ""),
		RequireRedisForReady:        envBool("REQUIRE_REDIS_FOR_READY", false),
	}

	var err error
	if cfg.SyncBatchLimit, err = envInt("SYNC_BATCH_LIMIT", defaultBatchLimit); err != nil {
		return nil, err
	}
	if cfg.SyncPullLimit, err = envInt("SYNC_PULL_LIMIT", defaultPullLimit); err != nil {
		return nil, err
	}

	ticketTTL, err := envInt("STREAM_TICKET_TTL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.StreamTicketTTL = time.Duration(ticketTTL) * time.Second

	if cfg.TombstoneRetention, err = envMillis("TOMBSTONE_RETENTION_MS", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ChangeRetention, err = envMillis("NOTE_CHANGES_RETENTION_MS", 45*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaintenanceInterval, err = envMillis("MAINTENANCE_INTERVAL_MS", 10*time.Minute); err != nil {
		return nil, err
	}

	maxConns, err := envInt("PG_POOL_MAX_CONNS", 20)
	if err != nil {
		return nil, err
	}
	minConns, err := envInt("PG_POOL_MIN_CONNS", 2)
	if err != nil {
		return nil, err
	}
	cfg.PGPoolMaxConns = int32(maxConns)
	cfg.PGPoolMinConns = int32(minConns)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces cross-field and environment-specific constraints.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return fmt.Errorf("NODE_ENV must be one of development, test, production; got %q", c.Env)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.SyncBatchLimit < 1 || c.SyncBatchLimit > maxBatchLimit {
		return fmt.Errorf("SYNC_BATCH_LIMIT must be within [1,%d]; got %d", maxBatchLimit, c.SyncBatchLimit)
	}
	if c.SyncPullLimit < 1 || c.SyncPullLimit > maxPullLimit {
		return fmt.Errorf("SYNC_PULL_LIMIT must be within [1,%d]; got %d", maxPullLimit, c.SyncPullLimit)
	}

	if c.KeyEncryptionSecret != "" && len(c.KeyEncryptionSecret) < 16 {
		return fmt.Errorf("KEY_ENCRYPTION_SECRET must be at least 16 characters")
	}
	if c.StreamTicketTTL <= 0 {
		return fmt.Errorf("STREAM_TICKET_TTL_SECONDS must be positive")
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("MAINTENANCE_INTERVAL_MS must be positive")
	}
	if c.PGPoolMaxConns < 1 || c.PGPoolMinConns < 0 || c.PGPoolMinConns > c.PGPoolMaxConns {
		return fmt.Errorf("invalid pg pool bounds: min=%d max=%d", c.PGPoolMinConns, c.PGPoolMaxConns)
	}

	if c.IsProduction() {
		if c.AllowInsecureDevAuth {
			return fmt.Errorf("ALLOW_INSECURE_DEV_AUTH must be false in production")
		}
		if c.IDPSecretKey == "" {
			return fmt.Errorf("IDP_SECRET_KEY is required in production")
		}
		if c.StreamTicketSecret == "" {
			return fmt.Errorf("STREAM_TICKET_SECRET is required in production")
		}
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

func (c *Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

// DevAuthEnabled reports whether the insecure identity override may be honored.
func (c *Config) DevAuthEnabled() bool {
	return c.AllowInsecureDevAuth && !c.IsProduction()
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer; got %q", k, v)
	}
	return n, nil
}

// envMillis reads a millisecond count. Negative values are allowed so retention
// windows can be forced to expire everything.
func envMillis(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer millisecond count; got %q", k, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
