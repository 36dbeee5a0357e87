package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/observability"
)

// errInvalidCredential is shared by every rejection path so that unknown,
// expired and revoked keys are indistinguishable to the caller.
const errInvalidCredential = "invalid or expired credential"

// Resolver turns a request credential into an Identity
type Resolver struct {
	sessions  SessionVerifier
	keys      KeyStore
	generator *KeyGenerator
	tasks     TaskRunner
	logger    *observability.Logger
	now       func() time.Time
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithClock overrides the time source used for key expiry checks
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver. sessions may be nil when no identity
// provider is configured, in which case only API keys authenticate.
func NewResolver(sessions SessionVerifier, keys KeyStore, tasks TaskRunner, logger *observability.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		sessions:  sessions,
		keys:      keys,
		generator: NewKeyGenerator(),
		tasks:     tasks,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve authenticates a bearer credential
func (r *Resolver) Resolve(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, apperrors.Unauthenticated("missing credential")
	}

	if IsAPIKey(credential) {
		return r.resolveAPIKey(ctx, credential)
	}

	if r.sessions == nil {
		return nil, apperrors.Unauthenticated(errInvalidCredential)
	}

	subjectID, err := r.sessions.Verify(ctx, credential)
	if err != nil || subjectID == "" {
		if err != nil {
			r.logger.WithError(err).Debug("session verification failed")
		}
		return nil, apperrors.Unauthenticated(errInvalidCredential)
	}

	return &Identity{SubjectID: subjectID, Method: MethodSession}, nil
}

func (r *Resolver) resolveAPIKey(ctx context.Context, credential string) (*Identity, error) {
	if err := r.generator.ValidateKeyFormat(credential); err != nil {
		return nil, apperrors.Unauthenticated(errInvalidCredential)
	}

	now := r.now().UTC()
	record, err := r.keys.FindActiveAPIKey(ctx, r.generator.HashKey(credential), now)
	if err != nil {
		return nil, apperrors.Internal("failed to look up api key", err)
	}
	if record == nil {
		return nil, apperrors.Unauthenticated(errInvalidCredential)
	}

	// best effort; the outcome of this request never depends on it
	keyID := record.ID
	r.tasks.Go(ctx, "api key touch", func(ctx context.Context) error {
		return r.keys.TouchAPIKey(ctx, keyID, now)
	})

	return &Identity{
		SubjectID:   record.SubjectID,
		PublisherID: record.PublisherID,
		Method:      MethodAPIKey,
		APIKeyID:    record.ID,
	}, nil
}
