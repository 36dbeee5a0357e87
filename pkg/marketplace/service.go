package marketplace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/async"
	"github.com/platinummonkey/bazaar/pkg/auth"
	"github.com/platinummonkey/bazaar/pkg/cache"
	"github.com/platinummonkey/bazaar/pkg/observability"
	"github.com/platinummonkey/bazaar/pkg/storage/blob"
)

const (
	DefaultSignedURLTTL          = 5 * time.Minute
	DefaultAPIKeyLifetimeDays    = 90
	DefaultAPIKeyMaxLifetimeDays = 365
)

// Config holds the service tunables
type Config struct {
	SignedURLTTL          time.Duration
	APIKeyLifetimeDays    int
	APIKeyMaxLifetimeDays int
}

// Service implements the publisher registry, extension catalog, version
// pipeline, rating aggregator and download recorder on top of a SQL store
// and a blob store.
type Service struct {
	db        *sql.DB
	blobs     blob.Store
	cache     cache.Cache
	downloads *async.WorkerPool
	logger    *observability.Logger
	metrics   *observability.Metrics
	keys      *auth.KeyGenerator
	cfg       Config
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithCache serves extension reads through c
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithDownloadPool records download events on pool instead of inline
func WithDownloadPool(pool *async.WorkerPool) Option {
	return func(s *Service) {
		s.downloads = pool
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithClock overrides time.Now for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new marketplace service
func NewService(db *sql.DB, blobs blob.Store, logger *observability.Logger, cfg Config, opts ...Option) *Service {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = DefaultSignedURLTTL
	}
	if cfg.APIKeyMaxLifetimeDays <= 0 {
		cfg.APIKeyMaxLifetimeDays = DefaultAPIKeyMaxLifetimeDays
	}
	if cfg.APIKeyLifetimeDays <= 0 {
		cfg.APIKeyLifetimeDays = DefaultAPIKeyLifetimeDays
	}
	if cfg.APIKeyLifetimeDays > cfg.APIKeyMaxLifetimeDays {
		cfg.APIKeyLifetimeDays = cfg.APIKeyMaxLifetimeDays
	}

	s := &Service{
		db:     db,
		blobs:  blobs,
		cache:  cache.NopCache{},
		logger: logger,
		keys:   auth.NewKeyGenerator(),
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) log(ctx context.Context) *observability.Logger {
	return observability.FromContext(observability.WithLogger(ctx, s.logger))
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func exists(ctx context.Context, q queryer, query string, args ...interface{}) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// invalidateExtensions drops cached extension reads. Failures are logged;
// cached entries expire on their own.
func (s *Service) invalidateExtensions(ctx context.Context, slugs ...string) {
	if len(slugs) == 0 {
		return
	}
	keys := make([]string, len(slugs))
	for i, slug := range slugs {
		keys[i] = cache.ExtensionKey(slug)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log(ctx).WithError(err).WithField("slugs", slugs).Warn("Failed to invalidate extension cache")
	}
}

func (s *Service) cachedExtension(ctx context.Context, slug string) (*Extension, bool) {
	data, err := s.cache.Get(ctx, cache.ExtensionKey(slug))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log(ctx).WithError(err).Warn("Extension cache read failed")
		}
		return nil, false
	}
	var ext Extension
	if err := json.Unmarshal(data, &ext); err != nil {
		s.log(ctx).WithError(err).Warn("Discarding undecodable cached extension")
		return nil, false
	}
	return &ext, true
}

func (s *Service) storeExtension(ctx context.Context, ext *Extension) {
	data, err := json.Marshal(ext)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.ExtensionKey(ext.Slug), data); err != nil {
		s.log(ctx).WithError(err).Warn("Extension cache write failed")
	}
}

func internalf(err error, format string, args ...interface{}) error {
	return apperrors.Internal(fmt.Sprintf(format, args...), err)
}
