// Package config loads bazaar configuration.
//
// # Sources
//
// Values are resolved in order, later sources winning:
//
//  1. built-in defaults (Default)
//  2. the YAML file named by BAZAAR_CONFIG_FILE, when set
//  3. BAZAAR_* environment variables
//
// A .env file in the working directory is read into the environment before
// any of this and never overrides variables that are already set.
//
// # Environment
//
// Server settings:
//
//	BAZAAR_HOST="0.0.0.0"
//	BAZAAR_PORT="8080"
//	BAZAAR_HEALTH_PORT="9090"
//	BAZAAR_MAX_BUNDLE_BYTES="67108864"
//	BAZAAR_DOWNLOAD_WORKERS="4"
//
// Database settings:
//
//	BAZAAR_DB_DRIVER="postgres"  # postgres, sqlite3
//	BAZAAR_DB_DSN="postgres://localhost/bazaar?sslmode=disable"
//	BAZAAR_DB_MAX_CONNS="20"
//
// Blob settings:
//
//	BAZAAR_BLOB_TYPE="s3"  # s3, filesystem
//	BAZAAR_S3_BUCKET="bazaar-bundles"
//	BAZAAR_S3_ENDPOINT="http://minio:9000"
//	BAZAAR_FILESYSTEM_ROOT="/var/lib/bazaar/bundles"
//	BAZAAR_PUBLIC_BASE_URL="http://localhost:8080/blobs"
//	BAZAAR_BLOB_SIGNING_SECRET="..."
//	BAZAAR_SIGNED_URL_TTL="5m"
//
// Cache settings:
//
//	BAZAAR_REDIS_URL="redis://localhost:6379/0"
//	BAZAAR_LRU_CACHE_SIZE="1000"
//	BAZAAR_CACHE_TTL="5m"
//
// Auth settings:
//
//	BAZAAR_AUTH_PROVIDER="oidc"  # oidc, hmac
//	BAZAAR_OIDC_ISSUER_URL="https://accounts.example.com"
//	BAZAAR_OIDC_CLIENT_ID="bazaar"
//	BAZAAR_HMAC_SECRET="..."
//	BAZAAR_API_KEY_LIFETIME_DAYS="90"
//	BAZAAR_API_KEY_MAX_LIFETIME_DAYS="365"
//
// Observability settings:
//
//	BAZAAR_LOG_LEVEL="info"  # debug, info, warn, error
//	BAZAAR_METRICS_ENABLED="true"
//	BAZAAR_OTEL_ENABLED="true"
//	BAZAAR_OTEL_ENDPOINT="otel-collector:4317"
//
// Janitor settings:
//
//	BAZAAR_JANITOR_SCHEDULE="@every 1h"
//	BAZAAR_JANITOR_KEY_RETENTION="720h"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	db, err := sqldb.Open(ctx, cfg.Database.SQL())
package config
