package marketplace

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

// ReconcileExtensionStatus publishes every draft extension that already has
// a published version. Publishing does this atomically, so a non-zero
// result means a write outside the publish path left the pair inconsistent.
// Safe to run repeatedly.
func (s *Service) ReconcileExtensionStatus(ctx context.Context) (int, error) {
	var slugs []string
	err := sqldb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT e.slug FROM extensions e
			WHERE e.status = $1
			AND EXISTS (SELECT 1 FROM versions v WHERE v.extension_id = e.id AND v.status = $2)
		`, string(ExtensionStatusDraft), string(VersionStatusPublished))
		if err != nil {
			return internalf(err, "failed to find unreconciled extensions")
		}
		for rows.Next() {
			var slug string
			if err := rows.Scan(&slug); err != nil {
				rows.Close()
				return internalf(err, "failed to scan extension")
			}
			slugs = append(slugs, slug)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return internalf(err, "failed to read extensions")
		}
		if len(slugs) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE extensions
			SET status = $1,
				published_at = COALESCE(published_at, (
					SELECT MIN(v.published_at) FROM versions v
					WHERE v.extension_id = extensions.id AND v.status = $1
				)),
				updated_at = $2
			WHERE status = $3
			AND EXISTS (SELECT 1 FROM versions v WHERE v.extension_id = extensions.id AND v.status = $1)
		`, string(ExtensionStatusPublished), s.clock(), string(ExtensionStatusDraft))
		if err != nil {
			return internalf(err, "failed to reconcile extensions")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(slugs) > 0 {
		s.invalidateExtensions(ctx, slugs...)
		s.log(ctx).WithField("extensions", slugs).Warn("Reconciled draft extensions with published versions")
	}
	return len(slugs), nil
}
