package marketplace

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

const extensionSelect = `
	SELECT
		e.id, e.identifier, e.publisher_id, p.slug, e.category_id, c.slug,
		e.slug, e.public_key, e.name, e.description, e.homepage_url, e.repository_url,
		e.status, e.total_downloads, e.average_rating, e.review_count,
		e.published_at, e.created_at, e.updated_at
	FROM extensions e
	JOIN publishers p ON p.id = e.publisher_id
	LEFT JOIN categories c ON c.id = e.category_id
`

func scanExtension(row rowScanner) (*Extension, error) {
	var e Extension
	err := row.Scan(
		&e.ID, &e.ExtensionID, &e.PublisherID, &e.PublisherSlug, &e.CategoryID, &e.CategorySlug,
		&e.Slug, &e.PublicKey, &e.Name, &e.Description, &e.HomepageURL, &e.RepositoryURL,
		&e.Status, &e.TotalDownloads, &e.AverageRating, &e.ReviewCount,
		&e.PublishedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateExtension creates a draft extension owned by publisherID
func (s *Service) CreateExtension(ctx context.Context, publisherID string, req CreateExtensionRequest) (*Extension, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	publisher, err := s.getPublisherByID(ctx, publisherID)
	if err != nil {
		return nil, err
	}

	taken, err := exists(ctx, s.db, `SELECT 1 FROM extensions WHERE slug = $1`, req.Slug)
	if err != nil {
		return nil, internalf(err, "failed to check extension slug")
	}
	if taken {
		return nil, apperrors.Conflict("extension slug %q is already taken", req.Slug)
	}

	taken, err = exists(ctx, s.db, `SELECT 1 FROM extensions WHERE public_key = $1`, req.PublicKey)
	if err != nil {
		return nil, internalf(err, "failed to check extension public key")
	}
	if taken {
		return nil, apperrors.Conflict("public key is already registered to another extension")
	}

	categoryID, err := s.resolveCategory(ctx, req.CategorySlug)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extensions (
			id, publisher_id, category_id, identifier, slug, public_key, name,
			description, homepage_url, repository_url, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, id, publisher.ID, categoryID, extensionIdentifier(publisher.Slug, req.Slug), req.Slug, req.PublicKey, req.Name,
		req.Description, req.HomepageURL, req.RepositoryURL, string(ExtensionStatusDraft), now)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return nil, apperrors.Conflict("extension slug, public key or identifier already exists")
		}
		return nil, internalf(err, "failed to create extension")
	}

	s.log(ctx).WithFields(map[string]interface{}{
		"extension_id": extensionIdentifier(publisher.Slug, req.Slug),
		"publisher_id": publisher.ID,
	}).Info("Extension created")

	return s.getExtension(ctx, s.db, `WHERE e.id = $1`, id)
}

// UpdateExtension patches an extension owned by publisherID. Slug and
// public key cannot change.
func (s *Service) UpdateExtension(ctx context.Context, publisherID, slug string, patch UpdateExtensionRequest) (*Extension, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}

	ext, err := s.GetOwnedExtension(ctx, publisherID, slug)
	if err != nil {
		return nil, err
	}

	if patch.Slug != nil && *patch.Slug != ext.Slug {
		return nil, apperrors.InvalidInput("slug cannot be changed")
	}
	if patch.PublicKey != nil && *patch.PublicKey != ext.PublicKey {
		return nil, apperrors.InvalidInput("public_key cannot be changed")
	}

	categoryID := ext.CategoryID
	if patch.CategorySlug != nil {
		if *patch.CategorySlug != "" && !slugPattern.MatchString(*patch.CategorySlug) {
			return nil, apperrors.InvalidInput("category must be a slug")
		}
		categoryID, err = s.resolveCategory(ctx, *patch.CategorySlug)
		if err != nil {
			return nil, err
		}
	}
	if patch.Name != nil {
		ext.Name = *patch.Name
	}
	if patch.Description != nil {
		ext.Description = *patch.Description
	}
	if patch.HomepageURL != nil {
		ext.HomepageURL = *patch.HomepageURL
	}
	if patch.RepositoryURL != nil {
		ext.RepositoryURL = *patch.RepositoryURL
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE extensions
		SET name = $1, description = $2, homepage_url = $3, repository_url = $4, category_id = $5, updated_at = $6
		WHERE id = $7
	`, ext.Name, ext.Description, ext.HomepageURL, ext.RepositoryURL, categoryID, s.clock(), ext.ID)
	if err != nil {
		return nil, internalf(err, "failed to update extension")
	}
	s.invalidateExtensions(ctx, ext.Slug)

	return s.getExtension(ctx, s.db, `WHERE e.id = $1`, ext.ID)
}

// GetExtension returns the extension with the given slug, through the cache.
// Only published extensions are cached.
func (s *Service) GetExtension(ctx context.Context, slug string) (*Extension, error) {
	if ext, ok := s.cachedExtension(ctx, slug); ok && ext.Status == ExtensionStatusPublished {
		return ext, nil
	}

	ext, err := s.lookupExtension(ctx, slug)
	if err != nil {
		return nil, err
	}
	if ext.Status == ExtensionStatusPublished {
		s.storeExtension(ctx, ext)
	}
	return ext, nil
}

// lookupExtension reads the extension straight from the database. Status
// checks on write paths go through here, never the cache.
func (s *Service) lookupExtension(ctx context.Context, slug string) (*Extension, error) {
	return s.getExtension(ctx, s.db, `WHERE e.slug = $1`, slug)
}

// GetOwnedExtension returns the extension with slug only when publisherID
// owns it; any other extension is reported as not found.
func (s *Service) GetOwnedExtension(ctx context.Context, publisherID, slug string) (*Extension, error) {
	return s.getExtension(ctx, s.db, `WHERE e.slug = $1 AND e.publisher_id = $2`, slug, publisherID)
}

func (s *Service) getExtension(ctx context.Context, q queryer, where string, args ...interface{}) (*Extension, error) {
	ext, err := scanExtension(q.QueryRowContext(ctx, extensionSelect+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("extension not found")
	}
	if err != nil {
		return nil, internalf(err, "failed to get extension")
	}
	return ext, nil
}

// resolveCategory maps a category slug to its id. Unknown and empty slugs
// resolve to no category.
func (s *Service) resolveCategory(ctx context.Context, slug string) (*string, error) {
	if slug == "" {
		return nil, nil
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM categories WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internalf(err, "failed to resolve category")
	}
	return &id, nil
}

// ListCategories returns every category ordered by name
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, internalf(err, "failed to query categories")
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name); err != nil {
			return nil, internalf(err, "failed to scan category")
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, internalf(err, "failed to read categories")
	}
	return categories, nil
}
