package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/auth"
	"github.com/platinummonkey/bazaar/pkg/observability"
)

type fakeResolver struct {
	identities map[string]*auth.Identity
	err        error
}

func (f *fakeResolver) Resolve(_ context.Context, credential string) (*auth.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id, ok := f.identities[credential]; ok {
		return id, nil
	}
	return nil, apperrors.Unauthenticated("invalid or expired credential")
}

func newTestAuthenticator(resolver IdentityResolver) (*Authenticator, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewAuthenticator(resolver, metrics), metrics
}

func TestAuthenticator_Required(t *testing.T) {
	resolver := &fakeResolver{identities: map[string]*auth.Identity{
		"session-token": {SubjectID: "user-1", Method: auth.MethodSession},
	}}
	authn, metrics := newTestAuthenticator(resolver)

	var got *auth.Identity
	handler := authn.Required(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetIdentity(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid credential", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer session-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, got)
		assert.Equal(t, "user-1", got.SubjectID)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthAttemptsTotal.WithLabelValues("session", "success")))
	})

	t.Run("missing credential", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"missing credential","code":"unauthenticated"}`, w.Body.String())
	})

	t.Run("unknown api key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bzr_unknown")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthAttemptsTotal.WithLabelValues("api_key", "failure")))
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthenticator_Optional(t *testing.T) {
	authn, _ := newTestAuthenticator(&fakeResolver{})

	called := false
	handler := authn.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, GetIdentity(r))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)

	called = false
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.False(t, called, "invalid credential is rejected even when optional")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticator_ResolverFailureIsInternal(t *testing.T) {
	authn, _ := newTestAuthenticator(&fakeResolver{err: apperrors.Internal("failed to look up api key", errors.New("db down"))})

	handler := authn.Required(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bzr_whatever")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}
