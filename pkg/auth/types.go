package auth

import (
	"context"
	"time"
)

// Method records how a caller authenticated
type Method string

const (
	MethodSession Method = "session"
	MethodAPIKey  Method = "api_key"
)

// Identity is an authenticated caller
type Identity struct {
	// SubjectID is the stable identifier from the identity provider. For API
	// keys it is the subject that owns the key's publisher.
	SubjectID string `json:"subject_id"`
	// PublisherID is set when the credential is scoped to a publisher
	PublisherID string `json:"publisher_id,omitempty"`
	Method      Method `json:"method"`
	APIKeyID    string `json:"-"`
}

// KeyRecord is the stored side of an API key needed to authenticate with it
type KeyRecord struct {
	ID          string
	PublisherID string
	SubjectID   string
	ExpiresAt   time.Time
}

// KeyStore looks up API keys by hash
type KeyStore interface {
	// FindActiveAPIKey returns the unrevoked key with the given hash whose
	// expiry is strictly after now, or nil when there is none.
	FindActiveAPIKey(ctx context.Context, keyHash string, now time.Time) (*KeyRecord, error)

	// TouchAPIKey records a successful use of the key
	TouchAPIKey(ctx context.Context, keyID string, usedAt time.Time) error
}

// SessionVerifier verifies an opaque session token with the identity
// provider and returns its subject
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (subjectID string, err error)
}

// TaskRunner runs detached fire-and-forget work
type TaskRunner interface {
	Go(ctx context.Context, taskName string, fn func(context.Context) error)
}
