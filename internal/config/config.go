package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// Storage
	StorageDriver string
	DatabaseURL   string

	// Auth0
	Auth0Domain   string
	Auth0Audience string

	// Server
	Port        string
	CORSOrigins []string
	Env         string

	// PublicURL is the externally reachable base URL listed in the API docs
	PublicURL string

	// Layouts
	LayoutSeedFile string
	MaxLayoutBytes int64

	RateLimit RateLimitConfig

	// Snapshots of the memory store
	Snapshot SnapshotConfig
}

// RateLimitConfig holds per-user write rate limits
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// SnapshotConfig holds snapshot persistence settings
type SnapshotConfig struct {
	Enabled  bool
	Key      string
	Interval time.Duration
	S3       S3Config
}

// S3Config holds AWS S3 configuration
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional: for MinIO/LocalStack local dev
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	perMinute, err := getEnvInt("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, err
	}
	burst, err := getEnvInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, err
	}
	maxBytes, err := getEnvInt("MAX_LAYOUT_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	snapshotEnabled, err := getEnvBool("SNAPSHOT_ENABLED", false)
	if err != nil {
		return nil, err
	}
	snapshotInterval, err := getEnvDuration("SNAPSHOT_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", StorageMemory)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		Auth0Domain:    getEnv("AUTH0_DOMAIN", ""),
		Auth0Audience:  getEnv("AUTH0_AUDIENCE", ""),
		Port:           getEnv("PORT", "8080"),
		CORSOrigins:    strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		Env:            getEnv("ENV", "development"),
		PublicURL:      strings.TrimSuffix(getEnv("PUBLIC_URL", ""), "/"),
		LayoutSeedFile: getEnv("LAYOUT_SEED_FILE", ""),
		MaxLayoutBytes: int64(maxBytes),
		RateLimit: RateLimitConfig{
			PerMinute: perMinute,
			Burst:     burst,
		},
		Snapshot: SnapshotConfig{
			Enabled:  snapshotEnabled,
			Key:      getEnv("SNAPSHOT_KEY", "layouts/snapshot.json"),
			Interval: snapshotInterval,
			S3: S3Config{
				Region:          getEnv("S3_REGION", "us-east-1"),
				Bucket:          getEnv("S3_BUCKET", "layouts-snapshots"),
				AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
				Endpoint:        getEnv("S3_ENDPOINT", ""), // Empty = use AWS, set for MinIO/LocalStack
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
		if c.Snapshot.Enabled {
			return fmt.Errorf("SNAPSHOT_ENABLED applies only to STORAGE_DRIVER=memory")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageMemory, StoragePostgres, c.StorageDriver)
	}
	if c.Auth0Domain == "" {
		return fmt.Errorf("AUTH0_DOMAIN is required")
	}
	if c.Auth0Audience == "" {
		return fmt.Errorf("AUTH0_AUDIENCE is required")
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be positive")
	}
	if c.MaxLayoutBytes <= 0 {
		return fmt.Errorf("MAX_LAYOUT_BYTES must be positive")
	}
	if c.Snapshot.Enabled {
		if c.Snapshot.S3.Bucket == "" || c.Snapshot.Key == "" {
			return fmt.Errorf("S3_BUCKET and SNAPSHOT_KEY are required when SNAPSHOT_ENABLED=true")
		}
		if c.Snapshot.Interval <= 0 {
			return fmt.Errorf("SNAPSHOT_INTERVAL must be positive")
		}
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
