package marketplace

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/observability"
	"github.com/platinummonkey/bazaar/pkg/semver"
	"github.com/platinummonkey/bazaar/pkg/storage/blob"
	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

const bundleContentType = "application/zip"

const versionColumns = `
	id, extension_id, version, bundle_path, bundle_size, bundle_hash, manifest, changelog,
	min_app_version, max_app_version, permissions, status, downloads, published_at, created_at, updated_at
`

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var permissions string
	err := row.Scan(
		&v.ID, &v.ExtensionID, &v.Version, &v.BundlePath, &v.BundleSize, &v.BundleHash, &v.Manifest, &v.Changelog,
		&v.MinAppVersion, &v.MaxAppVersion, &permissions, &v.Status, &v.Downloads, &v.PublishedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(permissions), &v.Permissions); err != nil {
		return nil, err
	}
	if v.Permissions == nil {
		v.Permissions = []string{}
	}
	return &v, nil
}

// hashBundle returns the lowercase hex SHA-256 of data
func hashBundle(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// publishedVersions returns the version strings of every published version
// of extensionID
func publishedVersions(ctx context.Context, q queryer, extensionID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT version FROM versions WHERE extension_id = $1 AND status = $2`,
		extensionID, string(VersionStatusPublished),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func checkOrdering(version string, published []string) error {
	if !semver.GreaterThanAll(version, published) {
		return apperrors.InvalidInput("version %s must be greater than published version %s", version, semver.Max(published))
	}
	return nil
}

// CreateVersion uploads a bundle as a new draft version of the extension
// slug owned by publisherID.
func (s *Service) CreateVersion(ctx context.Context, publisherID, slug string, req CreateVersionRequest) (version *Version, err error) {
	ctx, span := observability.StartSpan(ctx, "marketplace.CreateVersion",
		attribute.String("extension.slug", slug),
		attribute.String("version", req.Version),
	)
	defer func() {
		observability.EndSpan(span, err)
		s.observeVersionCreate(err)
	}()

	ext, err := s.GetOwnedExtension(ctx, publisherID, slug)
	if err != nil {
		return nil, err
	}

	req.Permissions = normalizePermissions(req.Permissions)
	if err := validateVersionRequest(&req); err != nil {
		return nil, err
	}

	dup, err := exists(ctx, s.db,
		`SELECT 1 FROM versions WHERE extension_id = $1 AND version = $2`, ext.ID, req.Version)
	if err != nil {
		return nil, internalf(err, "failed to check version")
	}
	if dup {
		return nil, apperrors.Conflict("version %s already exists", req.Version)
	}

	published, err := publishedVersions(ctx, s.db, ext.ID)
	if err != nil {
		return nil, internalf(err, "failed to load published versions")
	}
	if err := checkOrdering(req.Version, published); err != nil {
		return nil, err
	}

	bundleHash := hashBundle(req.Bundle)
	bundlePath := blob.BundlePath(ext.PublisherSlug, ext.Slug, req.Version)

	if _, err := s.blobs.Put(ctx, bundlePath, req.Bundle, bundleContentType); err != nil {
		switch {
		case errors.Is(err, blob.ErrAlreadyExists):
			return nil, apperrors.Conflict("bundle for version %s already exists", req.Version)
		case errors.Is(err, blob.ErrInvalidPath):
			return nil, apperrors.InvalidInput("version %s cannot be used in a bundle path", req.Version)
		default:
			return nil, internalf(err, "failed to store bundle")
		}
	}

	permissions, err := json.Marshal(req.Permissions)
	if err != nil {
		s.deleteBundle(ctx, bundlePath)
		return nil, internalf(err, "failed to encode permissions")
	}

	now := s.clock()
	version = &Version{
		ID:            uuid.New().String(),
		ExtensionID:   ext.ID,
		Version:       req.Version,
		BundlePath:    bundlePath,
		BundleSize:    int64(len(req.Bundle)),
		BundleHash:    bundleHash,
		Manifest:      req.Manifest,
		Changelog:     req.Changelog,
		MinAppVersion: stringPtr(req.MinAppVersion),
		MaxAppVersion: stringPtr(req.MaxAppVersion),
		Permissions:   req.Permissions,
		Status:        VersionStatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO versions (
			id, extension_id, version, bundle_path, bundle_size, bundle_hash, manifest, changelog,
			min_app_version, max_app_version, permissions, status, downloads, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $13)
	`, version.ID, version.ExtensionID, version.Version, version.BundlePath, version.BundleSize, version.BundleHash,
		version.Manifest, version.Changelog, nullableString(req.MinAppVersion), nullableString(req.MaxAppVersion),
		string(permissions), string(version.Status), now)
	if err != nil {
		// an orphaned bundle would block any retry of this version
		s.deleteBundle(ctx, bundlePath)
		if sqldb.IsUniqueViolation(err) {
			return nil, apperrors.Conflict("version %s already exists", req.Version)
		}
		return nil, internalf(err, "failed to create version")
	}

	if s.metrics != nil {
		s.metrics.BundleSizeBytes.Observe(float64(version.BundleSize))
	}
	s.log(ctx).WithFields(map[string]interface{}{
		"extension_id": ext.ExtensionID,
		"version":      version.Version,
		"bundle_hash":  version.BundleHash,
		"bundle_size":  version.BundleSize,
	}).Info("Version created")

	return version, nil
}

func (s *Service) deleteBundle(ctx context.Context, path string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), path); err != nil {
		s.log(ctx).WithError(err).WithField("bundle_path", path).Error("Failed to delete orphaned bundle")
	}
}

func (s *Service) observeVersionCreate(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.VersionsCreatedTotal.WithLabelValues(resultLabel(err)).Inc()
}

// PublishVersion moves a draft version to published. The first publish of
// an extension also publishes the extension; both writes commit together.
func (s *Service) PublishVersion(ctx context.Context, publisherID, slug, versionString string) (version *Version, err error) {
	ctx, span := observability.StartSpan(ctx, "marketplace.PublishVersion",
		attribute.String("extension.slug", slug),
		attribute.String("version", versionString),
	)
	defer func() {
		observability.EndSpan(span, err)
		if s.metrics != nil {
			s.metrics.VersionPublishTotal.WithLabelValues(resultLabel(err)).Inc()
		}
	}()

	ext, err := s.GetOwnedExtension(ctx, publisherID, slug)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	err = sqldb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// serializes concurrent publishes of the same extension
		if _, err := tx.ExecContext(ctx, `UPDATE extensions SET updated_at = updated_at WHERE id = $1`, ext.ID); err != nil {
			return internalf(err, "failed to lock extension")
		}

		var versionID string
		var status VersionStatus
		err := tx.QueryRowContext(ctx,
			`SELECT id, status FROM versions WHERE extension_id = $1 AND version = $2`, ext.ID, versionString,
		).Scan(&versionID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("version %s not found", versionString)
		}
		if err != nil {
			return internalf(err, "failed to get version")
		}
		if status != VersionStatusDraft {
			return apperrors.InvalidState("version %s is %s, only draft versions can be published", versionString, status)
		}

		published, err := publishedVersions(ctx, tx, ext.ID)
		if err != nil {
			return internalf(err, "failed to load published versions")
		}
		if err := checkOrdering(versionString, published); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE versions SET status = $1, published_at = $2, updated_at = $2
			WHERE id = $3 AND status = $4
		`, string(VersionStatusPublished), now, versionID, string(VersionStatusDraft))
		if err != nil {
			return internalf(err, "failed to publish version")
		}
		if n, err := res.RowsAffected(); err != nil {
			return internalf(err, "failed to publish version")
		} else if n == 0 {
			return apperrors.InvalidState("version %s is no longer a draft", versionString)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE extensions
			SET status = CASE WHEN status = $1 THEN $2 ELSE status END,
				published_at = CASE WHEN status = $1 THEN $3 ELSE published_at END,
				updated_at = $3
			WHERE id = $4
		`, string(ExtensionStatusDraft), string(ExtensionStatusPublished), now, ext.ID)
		if err != nil {
			return internalf(err, "failed to update extension")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateExtensions(ctx, ext.Slug)
	s.log(ctx).WithFields(map[string]interface{}{
		"extension_id": ext.ExtensionID,
		"version":      versionString,
		"first":        ext.Status == ExtensionStatusDraft,
	}).Info("Version published")

	return s.getVersion(ctx, ext.ID, versionString)
}

// ListVersions returns the versions of the extension slug, newest first by
// version precedence. When publishedOnly is set drafts are left out.
func (s *Service) ListVersions(ctx context.Context, slug string, publishedOnly bool) ([]Version, error) {
	ext, err := s.GetExtension(ctx, slug)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + versionColumns + ` FROM versions WHERE extension_id = $1`
	args := []interface{}{ext.ID}
	if publishedOnly {
		query += ` AND status = $2`
		args = append(args, string(VersionStatusPublished))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalf(err, "failed to query versions")
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, internalf(err, "failed to scan version")
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, internalf(err, "failed to read versions")
	}

	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare(versions[i].Version, versions[j].Version) > 0
	})
	return versions, nil
}

// GetVersion returns one version of the extension slug
func (s *Service) GetVersion(ctx context.Context, slug, versionString string) (*Version, error) {
	ext, err := s.GetExtension(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.getVersion(ctx, ext.ID, versionString)
}

func (s *Service) getVersion(ctx context.Context, extensionID, versionString string) (*Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE extension_id = $1 AND version = $2`,
		extensionID, versionString,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("version %s not found", versionString)
	}
	if err != nil {
		return nil, internalf(err, "failed to get version")
	}
	return v, nil
}

// DownloadURL signs a retrieval URL for a published version's bundle and
// records the download in the background. Recording never affects the
// returned URL.
func (s *Service) DownloadURL(ctx context.Context, slug, versionString, subjectID string, meta DownloadMetadata) (*DownloadURL, error) {
	ext, err := s.lookupExtension(ctx, slug)
	if err != nil {
		return nil, err
	}
	v, err := s.getVersion(ctx, ext.ID, versionString)
	if err != nil {
		return nil, err
	}
	if v.Status != VersionStatusPublished {
		return nil, apperrors.NotFound("version %s not found", versionString)
	}

	expiresAt := s.clock().Add(s.cfg.SignedURLTTL)
	url, err := s.blobs.SignedURL(ctx, v.BundlePath, s.cfg.SignedURLTTL)
	if err != nil {
		return nil, internalf(err, "failed to sign bundle url")
	}

	s.dispatchDownload(ctx, ext, v, subjectID, meta)

	return &DownloadURL{
		URL:        url,
		BundleHash: v.BundleHash,
		BundleSize: v.BundleSize,
		ExpiresAt:  expiresAt.Truncate(time.Second),
	}, nil
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(apperrors.KindOf(err))
}
