package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/auth"
	"github.com/platinummonkey/bazaar/pkg/contextkeys"
	"github.com/platinummonkey/bazaar/pkg/httputil"
	"github.com/platinummonkey/bazaar/pkg/observability"
)

// IdentityResolver authenticates a bearer credential
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (*auth.Identity, error)
}

// Authenticator resolves the Authorization header into an auth.Identity
type Authenticator struct {
	resolver IdentityResolver
	metrics  *observability.Metrics
}

// NewAuthenticator creates the authentication middleware. metrics may be nil.
func NewAuthenticator(resolver IdentityResolver, metrics *observability.Metrics) *Authenticator {
	return &Authenticator{
		resolver: resolver,
		metrics:  metrics,
	}
}

// Required rejects requests that do not carry a valid credential
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return a.handler(next, false)
}

// Optional attaches an identity when a credential is present. A present but
// invalid credential is still rejected.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return a.handler(next, true)
}

func (a *Authenticator) handler(next http.Handler, optional bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, err := httputil.BearerToken(r)
		if err != nil {
			a.observe("malformed", "failure")
			httputil.WriteUnauthorized(w, err.Error())
			return
		}
		if credential == "" {
			if optional {
				next.ServeHTTP(w, r)
				return
			}
			a.observe("none", "failure")
			httputil.WriteUnauthorized(w, "missing credential")
			return
		}

		method := string(auth.MethodSession)
		if auth.IsAPIKey(credential) {
			method = string(auth.MethodAPIKey)
		}

		identity, err := a.resolver.Resolve(r.Context(), credential)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindUnauthenticated {
				a.observe(method, "failure")
				httputil.WriteUnauthorized(w, apperrors.PublicMessage(err))
				return
			}
			a.observe(method, "error")
			httputil.WriteError(w, r, err)
			return
		}
		a.observe(method, "success")

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = observability.WithSubjectID(ctx, identity.SubjectID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) observe(method, result string) {
	if a.metrics == nil {
		return
	}
	a.metrics.AuthAttemptsTotal.WithLabelValues(method, result).Inc()
}

// GetIdentity extracts the caller identity from the request, or nil
func GetIdentity(r *http.Request) *auth.Identity {
	return IdentityFromContext(r.Context())
}

// IdentityFromContext extracts the caller identity from ctx, or nil
func IdentityFromContext(ctx context.Context) *auth.Identity {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
