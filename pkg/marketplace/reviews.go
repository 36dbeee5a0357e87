package marketplace

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/httputil"
)

const reviewColumns = `id, extension_id, subject_id, rating, title, content, created_at, updated_at`

func scanReview(row rowScanner) (*Review, error) {
	var r Review
	if err := row.Scan(&r.ID, &r.ExtensionID, &r.SubjectID, &r.Rating, &r.Title, &r.Content, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertReview writes subjectID's review of the extension slug, replacing
// any earlier one, then recomputes the extension's rating aggregates.
func (s *Service) UpsertReview(ctx context.Context, slug, subjectID string, req UpsertReviewRequest) (*Review, error) {
	if subjectID == "" {
		return nil, apperrors.Unauthenticated("authentication required")
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	ext, err := s.lookupExtension(ctx, slug)
	if err != nil {
		return nil, err
	}
	if ext.Status != ExtensionStatusPublished {
		return nil, apperrors.InvalidState("extension %s is not published", ext.ExtensionID)
	}

	now := s.clock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, extension_id, subject_id, rating, title, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (extension_id, subject_id) DO UPDATE
		SET rating = excluded.rating, title = excluded.title, content = excluded.content, updated_at = excluded.updated_at
	`, uuid.New().String(), ext.ID, subjectID, req.Rating, req.Title, req.Content, now)
	if err != nil {
		return nil, internalf(err, "failed to write review")
	}
	s.observeReview("upsert")

	if err := s.RecomputeRating(ctx, ext); err != nil {
		return nil, err
	}

	r, err := scanReview(s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE extension_id = $1 AND subject_id = $2`, ext.ID, subjectID))
	if err != nil {
		return nil, internalf(err, "failed to read review")
	}
	return r, nil
}

// DeleteReview removes subjectID's review of the extension slug
func (s *Service) DeleteReview(ctx context.Context, slug, subjectID string) error {
	ext, err := s.lookupExtension(ctx, slug)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reviews WHERE extension_id = $1 AND subject_id = $2`, ext.ID, subjectID)
	if err != nil {
		return internalf(err, "failed to delete review")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return internalf(err, "failed to delete review")
	}
	if n == 0 {
		return apperrors.NotFound("review not found")
	}
	s.observeReview("delete")

	return s.RecomputeRating(ctx, ext)
}

// ListReviews returns a page of reviews for the extension slug, newest first
func (s *Service) ListReviews(ctx context.Context, slug string, page httputil.Pagination) (*ReviewList, error) {
	ext, err := s.GetExtension(ctx, slug)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE extension_id = $1`, ext.ID).Scan(&total); err != nil {
		return nil, internalf(err, "failed to count reviews")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE extension_id = $1
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3
	`, ext.ID, page.Limit, page.Offset)
	if err != nil {
		return nil, internalf(err, "failed to query reviews")
	}
	defer rows.Close()

	reviews := []Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, internalf(err, "failed to scan review")
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, internalf(err, "failed to read reviews")
	}

	return &ReviewList{
		Reviews: reviews,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	}, nil
}

// RecomputeRating rebuilds average_rating and review_count for ext from its
// reviews in one statement. average_rating is round(mean*100), NULL when
// there are no reviews.
func (s *Service) RecomputeRating(ctx context.Context, ext *Extension) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE extensions
		SET average_rating = (
				SELECT CAST(ROUND(AVG(rating) * 100) AS INTEGER) FROM reviews WHERE extension_id = $1
			),
			review_count = (SELECT COUNT(*) FROM reviews WHERE extension_id = $1)
		WHERE id = $1
	`, ext.ID)
	if err != nil {
		return internalf(err, "failed to recompute rating")
	}
	s.invalidateExtensions(ctx, ext.Slug)
	return nil
}

func (s *Service) observeReview(operation string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReviewWritesTotal.WithLabelValues(operation).Inc()
}

// GetReview returns subjectID's review of the extension slug
func (s *Service) GetReview(ctx context.Context, slug, subjectID string) (*Review, error) {
	ext, err := s.GetExtension(ctx, slug)
	if err != nil {
		return nil, err
	}
	r, err := scanReview(s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE extension_id = $1 AND subject_id = $2`, ext.ID, subjectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("review not found")
	}
	if err != nil {
		return nil, internalf(err, "failed to read review")
	}
	return r, nil
}
