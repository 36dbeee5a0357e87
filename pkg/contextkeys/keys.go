// Package contextkeys provides centralized context key definitions.
//
// All request-scoped values shared between packages are keyed here so the
// middleware that sets a value and the handlers that read it agree on the
// key and its type.
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: every mutating marketplace endpoint
	IdentityKey Key = "identity"

	// RequestStartTimeKey contains the time.Time the request was accepted
	// Set by: httputil.RequestIDMiddleware
	// Used by: request logging
	RequestStartTimeKey Key = "request_start_time"
)

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRequestStartTime records when the request was accepted
func WithRequestStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, t)
}

// RequestStartTime returns the recorded start time, if any
func RequestStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return t, ok
}
