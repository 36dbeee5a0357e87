package marketplace

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/auth"
	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

const publisherColumns = `id, subject_id, slug, display_name, description, website_url, created_at, updated_at`

func scanPublisher(row rowScanner) (*Publisher, error) {
	var p Publisher
	err := row.Scan(&p.ID, &p.SubjectID, &p.Slug, &p.DisplayName, &p.Description, &p.WebsiteURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RegisterPublisher binds a new publisher to subjectID
func (s *Service) RegisterPublisher(ctx context.Context, subjectID string, req RegisterPublisherRequest) (*Publisher, error) {
	if subjectID == "" {
		return nil, apperrors.Unauthenticated("missing subject")
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	owned, err := exists(ctx, s.db, `SELECT 1 FROM publishers WHERE subject_id = $1`, subjectID)
	if err != nil {
		return nil, internalf(err, "failed to check publisher")
	}
	if owned {
		return nil, apperrors.Conflict("caller already owns a publisher")
	}

	taken, err := exists(ctx, s.db, `SELECT 1 FROM publishers WHERE slug = $1`, req.Slug)
	if err != nil {
		return nil, internalf(err, "failed to check publisher slug")
	}
	if taken {
		return nil, apperrors.Conflict("publisher slug %q is already taken", req.Slug)
	}

	now := s.clock()
	p := &Publisher{
		ID:          uuid.New().String(),
		SubjectID:   subjectID,
		Slug:        req.Slug,
		DisplayName: req.DisplayName,
		Description: req.Description,
		WebsiteURL:  req.WebsiteURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO publishers (id, subject_id, slug, display_name, description, website_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, p.ID, p.SubjectID, p.Slug, p.DisplayName, p.Description, p.WebsiteURL, now)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return nil, apperrors.Conflict("publisher already exists")
		}
		return nil, internalf(err, "failed to create publisher")
	}

	s.log(ctx).WithFields(map[string]interface{}{
		"publisher_id": p.ID,
		"slug":         p.Slug,
	}).Info("Publisher registered")

	return p, nil
}

// UpdatePublisher applies patch to the publisher owned by subjectID
func (s *Service) UpdatePublisher(ctx context.Context, subjectID string, patch UpdatePublisherRequest) (*Publisher, error) {
	if err := validateStruct(patch); err != nil {
		return nil, err
	}

	p, err := s.GetPublisherBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if patch.Slug != nil && *patch.Slug != p.Slug {
		taken, err := exists(ctx, s.db, `SELECT 1 FROM publishers WHERE slug = $1 AND id <> $2`, *patch.Slug, p.ID)
		if err != nil {
			return nil, internalf(err, "failed to check publisher slug")
		}
		if taken {
			return nil, apperrors.Conflict("publisher slug %q is already taken", *patch.Slug)
		}
		p.Slug = *patch.Slug
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.WebsiteURL != nil {
		p.WebsiteURL = *patch.WebsiteURL
	}
	p.UpdatedAt = s.clock()

	_, err = s.db.ExecContext(ctx, `
		UPDATE publishers
		SET slug = $1, display_name = $2, description = $3, website_url = $4, updated_at = $5
		WHERE id = $6
	`, p.Slug, p.DisplayName, p.Description, p.WebsiteURL, p.UpdatedAt, p.ID)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return nil, apperrors.Conflict("publisher slug %q is already taken", p.Slug)
		}
		return nil, internalf(err, "failed to update publisher")
	}

	return p, nil
}

// GetPublisherBySlug returns the publisher with the given slug
func (s *Service) GetPublisherBySlug(ctx context.Context, slug string) (*Publisher, error) {
	return s.getPublisher(ctx, `SELECT `+publisherColumns+` FROM publishers WHERE slug = $1`, slug)
}

// GetPublisherBySubject returns the publisher bound to subjectID
func (s *Service) GetPublisherBySubject(ctx context.Context, subjectID string) (*Publisher, error) {
	return s.getPublisher(ctx, `SELECT `+publisherColumns+` FROM publishers WHERE subject_id = $1`, subjectID)
}

func (s *Service) getPublisherByID(ctx context.Context, id string) (*Publisher, error) {
	return s.getPublisher(ctx, `SELECT `+publisherColumns+` FROM publishers WHERE id = $1`, id)
}

func (s *Service) getPublisher(ctx context.Context, query string, arg string) (*Publisher, error) {
	p, err := scanPublisher(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("publisher not found")
	}
	if err != nil {
		return nil, internalf(err, "failed to get publisher")
	}
	return p, nil
}

// ResolvePublisher returns the publisher an identity acts for: the key's
// publisher for API keys, the subject's publisher for sessions.
func (s *Service) ResolvePublisher(ctx context.Context, identity *auth.Identity) (*Publisher, error) {
	if identity == nil {
		return nil, apperrors.Unauthenticated("authentication required")
	}
	if identity.PublisherID != "" {
		return s.getPublisherByID(ctx, identity.PublisherID)
	}
	p, err := s.GetPublisherBySubject(ctx, identity.SubjectID)
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return nil, apperrors.NotFound("no publisher is registered for the caller")
	}
	return p, err
}
