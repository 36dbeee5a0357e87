package marketplace

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/platinummonkey/bazaar/pkg/async"
	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

// RecordDownload appends a download event and increments the extension and
// version counters by one. The event insert comes first; counters never move
// without it.
func (s *Service) RecordDownload(ctx context.Context, ext *Extension, v *Version, subjectID string, meta DownloadMetadata) error {
	err := sqldb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO downloads (id, extension_id, version_id, subject_id, platform, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), ext.ID, v.ID, nullableString(subjectID), truncate(meta.Platform, 64), truncate(meta.UserAgent, 512), s.clock())
		if err != nil {
			return internalf(err, "failed to insert download event")
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE extensions SET total_downloads = total_downloads + 1 WHERE id = $1`, ext.ID); err != nil {
			return internalf(err, "failed to increment extension downloads")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE versions SET downloads = downloads + 1 WHERE id = $1`, v.ID); err != nil {
			return internalf(err, "failed to increment version downloads")
		}
		return nil
	})
	s.observeDownload(err)
	if err != nil {
		return err
	}

	s.invalidateExtensions(ctx, ext.Slug)
	return nil
}

// dispatchDownload hands the record to the download pool. A full or closed
// pool drops the event; the caller's response is never affected.
func (s *Service) dispatchDownload(ctx context.Context, ext *Extension, v *Version, subjectID string, meta DownloadMetadata) {
	logger := s.log(ctx).WithFields(map[string]interface{}{
		"extension_id": ext.ExtensionID,
		"version":      v.Version,
	})

	record := func(taskCtx context.Context) error {
		return s.RecordDownload(taskCtx, ext, v, subjectID, meta)
	}

	if s.downloads == nil {
		if err := record(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Error("Failed to record download")
		}
		return
	}

	if err := s.downloads.TrySubmit(record); err != nil {
		if errors.Is(err, async.ErrPoolFull) {
			s.observeDownloadResult("dropped")
		}
		logger.WithError(err).Warn("Download event not recorded")
	}
}

func (s *Service) observeDownload(err error) {
	if err != nil {
		s.observeDownloadResult("error")
		return
	}
	s.observeDownloadResult("success")
}

func (s *Service) observeDownloadResult(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.DownloadsRecordedTotal.WithLabelValues(result).Inc()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
