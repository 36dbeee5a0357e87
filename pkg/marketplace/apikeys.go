package marketplace

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/auth"
	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

var _ auth.KeyStore = (*Service)(nil)

const day = 24 * time.Hour

// CreateAPIKey issues a key for publisherID. The plaintext key is in the
// result and is not stored anywhere.
func (s *Service) CreateAPIKey(ctx context.Context, publisherID string, req CreateAPIKeyRequest) (*CreatedAPIKey, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	days := req.ExpiresInDays
	if days == 0 {
		days = s.cfg.APIKeyLifetimeDays
	}
	if days < 1 || days > s.cfg.APIKeyMaxLifetimeDays {
		return nil, apperrors.InvalidInput("expires_in_days must be between 1 and %d", s.cfg.APIKeyMaxLifetimeDays)
	}

	if _, err := s.getPublisherByID(ctx, publisherID); err != nil {
		return nil, err
	}

	key, keyHash, prefix, err := s.keys.GenerateKey()
	if err != nil {
		return nil, internalf(err, "failed to generate api key")
	}

	now := s.clock()
	created := &CreatedAPIKey{
		APIKey: APIKey{
			ID:          uuid.New().String(),
			PublisherID: publisherID,
			Name:        req.Name,
			KeyPrefix:   prefix,
			ExpiresAt:   now.Add(time.Duration(days) * day),
			CreatedAt:   now,
		},
		Key: key,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, publisher_id, name, key_hash, key_prefix, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, created.ID, publisherID, req.Name, keyHash, prefix, created.ExpiresAt, now)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return nil, internalf(err, "api key hash collision")
		}
		return nil, internalf(err, "failed to create api key")
	}

	s.log(ctx).WithFields(map[string]interface{}{
		"publisher_id": publisherID,
		"key_id":       created.ID,
		"expires_at":   created.ExpiresAt,
	}).Info("API key created")

	return created, nil
}

// ListAPIKeys returns the publisher's keys, newest first, without secrets
func (s *Service) ListAPIKeys(ctx context.Context, publisherID string) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, publisher_id, name, key_prefix, expires_at, last_used_at, revoked_at, created_at
		FROM api_keys
		WHERE publisher_id = $1
		ORDER BY created_at DESC, id
	`, publisherID)
	if err != nil {
		return nil, internalf(err, "failed to query api keys")
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.PublisherID, &k.Name, &k.KeyPrefix, &k.ExpiresAt, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, internalf(err, "failed to scan api key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, internalf(err, "failed to read api keys")
	}
	return keys, nil
}

// RevokeAPIKey disables a key owned by publisherID. Revoked keys fail
// authentication exactly like unknown ones.
func (s *Service) RevokeAPIKey(ctx context.Context, publisherID, keyID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = $1
		WHERE id = $2 AND publisher_id = $3 AND revoked_at IS NULL
	`, s.clock(), keyID, publisherID)
	if err != nil {
		return internalf(err, "failed to revoke api key")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return internalf(err, "failed to revoke api key")
	}
	if n == 0 {
		return apperrors.NotFound("api key not found")
	}

	s.log(ctx).WithFields(map[string]interface{}{
		"publisher_id": publisherID,
		"key_id":       keyID,
	}).Info("API key revoked")
	return nil
}

// FindActiveAPIKey implements auth.KeyStore
func (s *Service) FindActiveAPIKey(ctx context.Context, keyHash string, now time.Time) (*auth.KeyRecord, error) {
	var rec auth.KeyRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT k.id, k.publisher_id, p.subject_id, k.expires_at
		FROM api_keys k
		JOIN publishers p ON p.id = k.publisher_id
		WHERE k.key_hash = $1 AND k.expires_at > $2 AND k.revoked_at IS NULL
	`, keyHash, now.UTC()).Scan(&rec.ID, &rec.PublisherID, &rec.SubjectID, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TouchAPIKey implements auth.KeyStore
func (s *Service) TouchAPIKey(ctx context.Context, keyID string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, usedAt.UTC(), keyID)
	if err != nil {
		return err
	}
	return nil
}

// PurgeExpiredAPIKeys deletes keys that expired or were revoked more than
// retention ago and returns how many were removed.
func (s *Service) PurgeExpiredAPIKeys(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE expires_at < $1 OR revoked_at < $1`, cutoff)
	if err != nil {
		return 0, internalf(err, "failed to purge api keys")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, internalf(err, "failed to purge api keys")
	}
	return n, nil
}
