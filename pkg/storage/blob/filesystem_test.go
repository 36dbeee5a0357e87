package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestFilesystemStore(t *testing.T, baseURL string) *FilesystemStore {
	t.Helper()
	store, err := NewFilesystemStore(FilesystemConfig{
		Root:          t.TempDir(),
		BaseURL:       baseURL,
		SigningSecret: testSecret,
	}, nil)
	require.NoError(t, err)
	return store
}

func TestBundlePath(t *testing.T) {
	assert.Equal(t, "acme/tool/1.0.0.zip", BundlePath("acme", "tool", "1.0.0"))
}

func TestCleanPath(t *testing.T) {
	for _, bad := range []string{"", "/abs/path.zip", "../escape.zip", "a/../../b.zip", "a//b.zip", "a\\b.zip", "."} {
		_, err := cleanPath(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
	got, err := cleanPath("acme/tool/1.0.0+build.1.zip")
	require.NoError(t, err)
	assert.Equal(t, "acme/tool/1.0.0+build.1.zip", got)
}

func TestNewFilesystemStore_Validation(t *testing.T) {
	_, err := NewFilesystemStore(FilesystemConfig{Root: t.TempDir(), BaseURL: "http://x", SigningSecret: "short"}, nil)
	assert.Error(t, err)

	_, err = NewFilesystemStore(FilesystemConfig{BaseURL: "http://x", SigningSecret: testSecret}, nil)
	assert.Error(t, err)
}

func TestFilesystemStore_PutIsImmutable(t *testing.T) {
	store := newTestFilesystemStore(t, "http://localhost/blobs")
	ctx := context.Background()

	_, err := store.Put(ctx, "acme/tool/1.0.0.zip", []byte("first"), "application/zip")
	require.NoError(t, err)

	_, err = store.Put(ctx, "acme/tool/1.0.0.zip", []byte("second"), "application/zip")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, store.Delete(ctx, "acme/tool/1.0.0.zip"))
	require.NoError(t, store.Delete(ctx, "acme/tool/1.0.0.zip"), "deleting twice is fine")

	_, err = store.Put(ctx, "acme/tool/1.0.0.zip", []byte("third"), "application/zip")
	assert.NoError(t, err, "path is writable again after compensation delete")
}

func TestFilesystemStore_SignedURLRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newTestFilesystemStore(t, server.URL+"/blobs")
	mux.Handle("/blobs/", http.StripPrefix("/blobs", store.Handler()))

	ctx := context.Background()
	payload := []byte("PK\x03\x04 bundle bytes")
	_, err := store.Put(ctx, "acme/tool/1.0.0.zip", payload, "application/zip")
	require.NoError(t, err)

	signed, err := store.SignedURL(ctx, "acme/tool/1.0.0.zip", 5*time.Minute)
	require.NoError(t, err)

	resp, err := http.Get(signed)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	want := sha256.Sum256(payload)
	got := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(want[:]), hex.EncodeToString(got[:]))
}

func TestFilesystemStore_HandlerRejects(t *testing.T) {
	store := newTestFilesystemStore(t, "http://localhost/blobs")
	ctx := context.Background()
	_, err := store.Put(ctx, "acme/tool/1.0.0.zip", []byte("data"), "application/zip")
	require.NoError(t, err)

	signed, err := store.SignedURL(ctx, "acme/tool/1.0.0.zip", time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)
	query := u.RawQuery

	serve := func(target string) int {
		rec := httptest.NewRecorder()
		store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("/acme/tool/1.0.0.zip?"+query))
	assert.Equal(t, http.StatusForbidden, serve("/acme/tool/1.1.0.zip?"+query), "signature is bound to the path")
	assert.Equal(t, http.StatusForbidden, serve("/acme/tool/1.0.0.zip?"+strings.Replace(query, "signature=", "signature=00", 1)))

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, http.StatusForbidden, serve("/acme/tool/1.0.0.zip?"+query), "expired link")
}

func TestFilesystemStore_HealthCheck(t *testing.T) {
	store := newTestFilesystemStore(t, "http://localhost/blobs")
	assert.NoError(t, store.HealthCheck(context.Background()))
}
