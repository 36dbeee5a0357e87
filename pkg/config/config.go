package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/bazaar/pkg/cache"
	"github.com/platinummonkey/bazaar/pkg/observability"
	"github.com/platinummonkey/bazaar/pkg/storage/blob"
	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

const (
	BlobTypeS3         = "s3"
	BlobTypeFilesystem = "filesystem"

	AuthProviderOIDC = "oidc"
	AuthProviderHMAC = "hmac"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Blob          BlobConfig          `yaml:"blob"`
	Cache         CacheConfig         `yaml:"cache"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Janitor       JanitorConfig       `yaml:"janitor"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	MaxBundleBytes    int64 `yaml:"max_bundle_bytes"`
	DownloadWorkers   int   `yaml:"download_workers"`
	DownloadQueueSize int   `yaml:"download_queue_size"`
}

// DatabaseConfig selects and tunes the relational store
type DatabaseConfig struct {
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// SQL converts to the sqldb open configuration
func (c DatabaseConfig) SQL() sqldb.Config {
	return sqldb.Config{
		Driver:      c.Driver,
		DSN:         c.DSN,
		MaxConns:    c.MaxConns,
		MinConns:    c.MinConns,
		Timeout:     c.Timeout,
		MaxLifetime: c.MaxLifetime,
		MaxIdleTime: c.MaxIdleTime,
	}
}

// BlobConfig selects the bundle store
type BlobConfig struct {
	Type string `yaml:"type"`

	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
	S3CreateBucket bool   `yaml:"s3_create_bucket"`

	FilesystemRoot string `yaml:"filesystem_root"`
	// PublicBaseURL is where the filesystem handler is reachable from clients
	PublicBaseURL string `yaml:"public_base_url"`
	SigningSecret string `yaml:"signing_secret"`

	SignedURLTTL time.Duration `yaml:"signed_url_ttl"`
}

// S3 converts to the S3 store configuration
func (c BlobConfig) S3() blob.S3Config {
	return blob.S3Config{
		Endpoint:     c.S3Endpoint,
		Region:       c.S3Region,
		Bucket:       c.S3Bucket,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		UsePathStyle: c.S3UsePathStyle,
		CreateBucket: c.S3CreateBucket,
	}
}

// Filesystem converts to the filesystem store configuration
func (c BlobConfig) Filesystem() blob.FilesystemConfig {
	return blob.FilesystemConfig{
		Root:          c.FilesystemRoot,
		BaseURL:       strings.TrimSuffix(c.PublicBaseURL, "/"),
		SigningSecret: c.SigningSecret,
	}
}

// CacheConfig configures the extension read cache
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	LRUSize  int           `yaml:"lru_size"`
	TTL      time.Duration `yaml:"ttl"`
}

// Cache converts to the cache configuration
func (c CacheConfig) Cache() cache.Config {
	return cache.Config{RedisURL: c.RedisURL, LRUSize: c.LRUSize, TTL: c.TTL}
}

// AuthConfig configures session verification and API key lifetimes
type AuthConfig struct {
	Provider   string `yaml:"provider"`
	IssuerURL  string `yaml:"issuer_url"`
	ClientID   string `yaml:"client_id"`
	HMACSecret string `yaml:"hmac_secret"`

	APIKeyLifetimeDays    int `yaml:"api_key_lifetime_days"`
	APIKeyMaxLifetimeDays int `yaml:"api_key_max_lifetime_days"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level parses LogLevel
func (c ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(c.LogLevel)
}

// OTel converts to the OpenTelemetry configuration
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// JanitorConfig schedules the maintenance worker
type JanitorConfig struct {
	// Schedule is a robfig/cron spec
	Schedule     string        `yaml:"schedule"`
	KeyRetention time.Duration `yaml:"key_retention"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			HealthPort:        "9090",
			MaxBundleBytes:    64 << 20,
			DownloadWorkers:   4,
			DownloadQueueSize: 1024,
		},
		Database: DatabaseConfig{
			Driver:      sqldb.DriverPostgres,
			MaxConns:    20,
			MinConns:    5,
			Timeout:     5 * time.Second,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
		},
		Blob: BlobConfig{
			Type:         BlobTypeS3,
			S3Region:     "us-east-1",
			SignedURLTTL: 5 * time.Minute,
		},
		Cache: CacheConfig{
			LRUSize: 1000,
			TTL:     5 * time.Minute,
		},
		Auth: AuthConfig{
			Provider:              AuthProviderOIDC,
			APIKeyLifetimeDays:    90,
			APIKeyMaxLifetimeDays: 365,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "bazaar",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
		Janitor: JanitorConfig{
			Schedule:     "@every 1h",
			KeyRetention: 30 * 24 * time.Hour,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by BAZAAR_CONFIG_FILE, then BAZAAR_* environment variables. A .env file in
// the working directory is loaded first; it never overrides variables that
// are already set.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()
	if path := os.Getenv("BAZAAR_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("BAZAAR_HOST", s.Host)
	s.Port = getEnv("BAZAAR_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("BAZAAR_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("BAZAAR_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("BAZAAR_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("BAZAAR_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("BAZAAR_HEALTH_PORT", s.HealthPort)
	s.MaxBundleBytes = getEnvInt64("BAZAAR_MAX_BUNDLE_BYTES", s.MaxBundleBytes)
	s.DownloadWorkers = getEnvInt("BAZAAR_DOWNLOAD_WORKERS", s.DownloadWorkers)
	s.DownloadQueueSize = getEnvInt("BAZAAR_DOWNLOAD_QUEUE_SIZE", s.DownloadQueueSize)

	d := &c.Database
	d.Driver = getEnv("BAZAAR_DB_DRIVER", d.Driver)
	d.DSN = getEnv("BAZAAR_DB_DSN", d.DSN)
	d.MaxConns = getEnvInt("BAZAAR_DB_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("BAZAAR_DB_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("BAZAAR_DB_TIMEOUT", d.Timeout)
	d.MaxLifetime = getEnvDuration("BAZAAR_DB_MAX_LIFETIME", d.MaxLifetime)
	d.MaxIdleTime = getEnvDuration("BAZAAR_DB_MAX_IDLE_TIME", d.MaxIdleTime)

	b := &c.Blob
	b.Type = getEnv("BAZAAR_BLOB_TYPE", b.Type)
	b.S3Endpoint = getEnv("BAZAAR_S3_ENDPOINT", b.S3Endpoint)
	b.S3Region = getEnv("BAZAAR_S3_REGION", b.S3Region)
	b.S3Bucket = getEnv("BAZAAR_S3_BUCKET", b.S3Bucket)
	b.S3AccessKey = getEnv("BAZAAR_S3_ACCESS_KEY", b.S3AccessKey)
	b.S3SecretKey = getEnv("BAZAAR_S3_SECRET_KEY", b.S3SecretKey)
	b.S3UsePathStyle = getEnvBool("BAZAAR_S3_USE_PATH_STYLE", b.S3UsePathStyle)
	b.S3CreateBucket = getEnvBool("BAZAAR_S3_CREATE_BUCKET", b.S3CreateBucket)
	b.FilesystemRoot = getEnv("BAZAAR_FILESYSTEM_ROOT", b.FilesystemRoot)
	b.PublicBaseURL = getEnv("BAZAAR_PUBLIC_BASE_URL", b.PublicBaseURL)
	b.SigningSecret = getEnv("BAZAAR_BLOB_SIGNING_SECRET", b.SigningSecret)
	b.SignedURLTTL = getEnvDuration("BAZAAR_SIGNED_URL_TTL", b.SignedURLTTL)

	ch := &c.Cache
	ch.RedisURL = getEnv("BAZAAR_REDIS_URL", ch.RedisURL)
	ch.LRUSize = getEnvInt("BAZAAR_LRU_CACHE_SIZE", ch.LRUSize)
	ch.TTL = getEnvDuration("BAZAAR_CACHE_TTL", ch.TTL)

	a := &c.Auth
	a.Provider = getEnv("BAZAAR_AUTH_PROVIDER", a.Provider)
	a.IssuerURL = getEnv("BAZAAR_OIDC_ISSUER_URL", a.IssuerURL)
	a.ClientID = getEnv("BAZAAR_OIDC_CLIENT_ID", a.ClientID)
	a.HMACSecret = getEnv("BAZAAR_HMAC_SECRET", a.HMACSecret)
	a.APIKeyLifetimeDays = getEnvInt("BAZAAR_API_KEY_LIFETIME_DAYS", a.APIKeyLifetimeDays)
	a.APIKeyMaxLifetimeDays = getEnvInt("BAZAAR_API_KEY_MAX_LIFETIME_DAYS", a.APIKeyMaxLifetimeDays)

	o := &c.Observability
	o.LogLevel = getEnv("BAZAAR_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("BAZAAR_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("BAZAAR_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("BAZAAR_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("BAZAAR_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("BAZAAR_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("BAZAAR_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("BAZAAR_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	j := &c.Janitor
	j.Schedule = getEnv("BAZAAR_JANITOR_SCHEDULE", j.Schedule)
	j.KeyRetention = getEnvDuration("BAZAAR_JANITOR_KEY_RETENTION", j.KeyRetention)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBundleBytes <= 0 {
		return fmt.Errorf("max bundle bytes must be positive")
	}
	if c.Server.DownloadWorkers < 1 {
		return fmt.Errorf("download workers must be at least 1")
	}

	switch c.Database.Driver {
	case sqldb.DriverPostgres, sqldb.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)", c.Database.Driver, sqldb.DriverPostgres, sqldb.DriverSQLite)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	switch c.Blob.Type {
	case BlobTypeS3:
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blob storage")
		}
	case BlobTypeFilesystem:
		if c.Blob.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem blob storage")
		}
		if c.Blob.PublicBaseURL == "" {
			return fmt.Errorf("public base URL is required for filesystem blob storage")
		}
		if len(c.Blob.SigningSecret) < 32 {
			return fmt.Errorf("blob signing secret must be at least 32 bytes")
		}
	default:
		return fmt.Errorf("invalid blob type: %s (must be s3 or filesystem)", c.Blob.Type)
	}
	if c.Blob.SignedURLTTL <= 0 {
		return fmt.Errorf("signed URL TTL must be positive")
	}

	switch c.Auth.Provider {
	case AuthProviderOIDC:
		if c.Auth.IssuerURL == "" || c.Auth.ClientID == "" {
			return fmt.Errorf("OIDC issuer URL and client ID are required for oidc auth")
		}
	case AuthProviderHMAC:
		if len(c.Auth.HMACSecret) < 32 {
			return fmt.Errorf("hmac secret must be at least 32 bytes")
		}
	default:
		return fmt.Errorf("invalid auth provider: %s (must be oidc or hmac)", c.Auth.Provider)
	}
	if c.Auth.APIKeyMaxLifetimeDays < 1 {
		return fmt.Errorf("api key max lifetime must be at least 1 day")
	}
	if c.Auth.APIKeyLifetimeDays < 1 || c.Auth.APIKeyLifetimeDays > c.Auth.APIKeyMaxLifetimeDays {
		return fmt.Errorf("api key default lifetime must be between 1 and %d days", c.Auth.APIKeyMaxLifetimeDays)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
