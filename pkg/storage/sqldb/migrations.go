package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the marketplace schema in application order. Types
// are restricted to what both postgres and sqlite accept.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create publishers and categories",
			SQL: `
				CREATE TABLE IF NOT EXISTS publishers (
					id TEXT PRIMARY KEY,
					subject_id TEXT NOT NULL,
					slug TEXT NOT NULL,
					display_name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					website_url TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					CONSTRAINT publishers_subject_id_key UNIQUE (subject_id),
					CONSTRAINT publishers_slug_key UNIQUE (slug)
				);

				CREATE TABLE IF NOT EXISTS categories (
					id TEXT PRIMARY KEY,
					slug TEXT NOT NULL,
					name TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					CONSTRAINT categories_slug_key UNIQUE (slug)
				);

				INSERT INTO categories (id, slug, name, created_at) VALUES
					('0b6e5a7c-1f43-4c8e-9a51-2d0c7f7d3a01', 'productivity', 'Productivity', CURRENT_TIMESTAMP),
					('0b6e5a7c-1f43-4c8e-9a51-2d0c7f7d3a02', 'developer-tools', 'Developer Tools', CURRENT_TIMESTAMP),
					('0b6e5a7c-1f43-4c8e-9a51-2d0c7f7d3a03', 'themes', 'Themes', CURRENT_TIMESTAMP),
					('0b6e5a7c-1f43-4c8e-9a51-2d0c7f7d3a04', 'integrations', 'Integrations', CURRENT_TIMESTAMP);
			`,
		},
		{
			Version:     2,
			Description: "Create extensions",
			SQL: `
				CREATE TABLE IF NOT EXISTS extensions (
					id TEXT PRIMARY KEY,
					publisher_id TEXT NOT NULL REFERENCES publishers(id),
					category_id TEXT REFERENCES categories(id),
					identifier TEXT NOT NULL,
					slug TEXT NOT NULL,
					public_key TEXT NOT NULL,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					homepage_url TEXT NOT NULL DEFAULT '',
					repository_url TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'draft',
					total_downloads BIGINT NOT NULL DEFAULT 0,
					average_rating INTEGER,
					review_count INTEGER NOT NULL DEFAULT 0,
					published_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					CONSTRAINT extensions_identifier_key UNIQUE (identifier),
					CONSTRAINT extensions_slug_key UNIQUE (slug),
					CONSTRAINT extensions_public_key_key UNIQUE (public_key)
				);

				CREATE INDEX IF NOT EXISTS idx_extensions_publisher_id ON extensions(publisher_id);
				CREATE INDEX IF NOT EXISTS idx_extensions_status ON extensions(status);
			`,
		},
		{
			Version:     3,
			Description: "Create versions",
			SQL: `
				CREATE TABLE IF NOT EXISTS versions (
					id TEXT PRIMARY KEY,
					extension_id TEXT NOT NULL REFERENCES extensions(id),
					version TEXT NOT NULL,
					bundle_path TEXT NOT NULL,
					bundle_size BIGINT NOT NULL,
					bundle_hash TEXT NOT NULL,
					manifest TEXT NOT NULL,
					changelog TEXT NOT NULL DEFAULT '',
					min_app_version TEXT,
					max_app_version TEXT,
					permissions TEXT NOT NULL DEFAULT '[]',
					status TEXT NOT NULL DEFAULT 'draft',
					downloads BIGINT NOT NULL DEFAULT 0,
					published_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					CONSTRAINT versions_extension_id_version_key UNIQUE (extension_id, version),
					CONSTRAINT versions_bundle_path_key UNIQUE (bundle_path)
				);

				CREATE INDEX IF NOT EXISTS idx_versions_extension_status ON versions(extension_id, status);
			`,
		},
		{
			Version:     4,
			Description: "Create reviews and downloads",
			SQL: `
				CREATE TABLE IF NOT EXISTS reviews (
					id TEXT PRIMARY KEY,
					extension_id TEXT NOT NULL REFERENCES extensions(id),
					subject_id TEXT NOT NULL,
					rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
					title TEXT,
					content TEXT,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					CONSTRAINT reviews_extension_id_subject_id_key UNIQUE (extension_id, subject_id)
				);

				CREATE TABLE IF NOT EXISTS downloads (
					id TEXT PRIMARY KEY,
					extension_id TEXT NOT NULL REFERENCES extensions(id),
					version_id TEXT NOT NULL REFERENCES versions(id),
					subject_id TEXT,
					platform TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_downloads_version_id ON downloads(version_id);
				CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
			`,
		},
		{
			Version:     5,
			Description: "Create api keys",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id TEXT PRIMARY KEY,
					publisher_id TEXT NOT NULL REFERENCES publishers(id),
					name TEXT NOT NULL,
					key_hash TEXT NOT NULL,
					key_prefix TEXT NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					last_used_at TIMESTAMP,
					revoked_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					CONSTRAINT api_keys_key_hash_key UNIQUE (key_hash)
				);

				CREATE INDEX IF NOT EXISTS idx_api_keys_publisher_id ON api_keys(publisher_id);
				CREATE INDEX IF NOT EXISTS idx_api_keys_expires_at ON api_keys(expires_at);
			`,
		},
	}
}

// Migrate applies every pending migration, each in its own transaction.
// It is safe to call on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
				return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Description, err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
				migration.Version, migration.Description, time.Now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// AppliedVersions returns the set of migration versions already applied
func AppliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
