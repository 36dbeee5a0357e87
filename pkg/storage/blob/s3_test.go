package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bazaar/pkg/observability"
)

// fakeS3 implements the handful of path-style S3 calls the store makes
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, _ = io.Copy(io.Discard, r.Body)
	key := strings.TrimPrefix(r.URL.Path, "/bundles/")

	switch {
	case r.Method == http.MethodHead && strings.TrimSuffix(r.URL.Path, "/") == "/bundles":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		if f.objects[key] && r.Header.Get("If-None-Match") == "*" {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusPreconditionFailed)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message></Error>`)
			return
		}
		f.objects[key] = true
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestS3Store(t *testing.T, metrics *observability.Metrics) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]bool{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewS3Store(context.Background(), S3Config{
		Endpoint:     server.URL,
		Region:       "us-east-1",
		Bucket:       "bundles",
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
	}, metrics)
	require.NoError(t, err)
	return store, fake
}

func TestS3Store_PutIsImmutable(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store, fake := newTestS3Store(t, metrics)
	ctx := context.Background()

	location, err := store.Put(ctx, "acme/tool/1.0.0.zip", []byte("bundle"), "application/zip")
	require.NoError(t, err)
	assert.Equal(t, "s3://bundles/acme/tool/1.0.0.zip", location)
	assert.True(t, fake.objects["acme/tool/1.0.0.zip"])

	_, err = store.Put(ctx, "acme/tool/1.0.0.zip", []byte("other"), "application/zip")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BlobOperationsTotal.WithLabelValues("put", "s3", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BlobOperationsTotal.WithLabelValues("put", "s3", "error")))
}

func TestS3Store_DeleteAndHealth(t *testing.T) {
	store, fake := newTestS3Store(t, nil)
	ctx := context.Background()

	_, err := store.Put(ctx, "acme/tool/1.0.0.zip", []byte("bundle"), "application/zip")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "acme/tool/1.0.0.zip"))
	assert.False(t, fake.objects["acme/tool/1.0.0.zip"])

	assert.NoError(t, store.HealthCheck(ctx))
}

func TestS3Store_SignedURL(t *testing.T) {
	store, _ := newTestS3Store(t, nil)

	signed, err := store.SignedURL(context.Background(), "acme/tool/1.0.0.zip", 5*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "/bundles/acme/tool/1.0.0.zip", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestS3Store_RejectsInvalidPath(t *testing.T) {
	store, _ := newTestS3Store(t, nil)
	_, err := store.Put(context.Background(), "../etc/passwd", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
