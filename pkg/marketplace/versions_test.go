package marketplace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/storage/blob"
)

func TestPublishLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.publisher(t, "user-1", "acme")
	ext := env.extension(t, p.ID, "tool", "pk1")
	require.Equal(t, ExtensionStatusDraft, ext.Status)

	v1 := env.version(t, p.ID, "tool", "1.0.0")
	assert.Equal(t, VersionStatusDraft, v1.Status)
	assert.Equal(t, "acme/tool/1.0.0.zip", v1.BundlePath)

	env.clock.Advance(time.Minute)
	published, err := env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, VersionStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	ext, err = env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, ExtensionStatusPublished, ext.Status)
	require.NotNil(t, ext.PublishedAt)
	firstPublishedAt := *ext.PublishedAt
	publishedUpdatedAt := ext.UpdatedAt

	_, err = env.svc.CreateVersion(ctx, p.ID, "tool", versionRequest("0.9.0"))
	assertKind(t, err, apperrors.KindInvalidInput)

	env.clock.Advance(time.Minute)
	v2 := env.version(t, p.ID, "tool", "1.1.0")
	assert.Equal(t, VersionStatusDraft, v2.Status)

	ext, err = env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, ExtensionStatusPublished, ext.Status)
	assert.True(t, ext.UpdatedAt.Equal(publishedUpdatedAt), "creating a draft must not touch the extension")

	env.clock.Advance(time.Minute)
	_, err = env.svc.PublishVersion(ctx, p.ID, "tool", "1.1.0")
	require.NoError(t, err)

	ext, err = env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.True(t, ext.UpdatedAt.After(publishedUpdatedAt))
	assert.True(t, ext.PublishedAt.Equal(firstPublishedAt), "first publish time is kept")
}

func TestPublishVersion_Idempotence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")
	env.version(t, p.ID, "tool", "1.0.0")

	first, err := env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)
	before, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	_, err = env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	assertKind(t, err, apperrors.KindInvalidState)

	again, err := env.svc.GetVersion(ctx, "tool", "1.0.0")
	require.NoError(t, err)
	assert.True(t, again.PublishedAt.Equal(*first.PublishedAt))

	after, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt))
	assert.True(t, after.PublishedAt.Equal(*before.PublishedAt))
}

func TestPublishVersion_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acme := env.publisher(t, "user-1", "acme")
	globex := env.publisher(t, "user-2", "globex")
	env.extension(t, acme.ID, "tool", "pk1")
	env.version(t, acme.ID, "tool", "1.0.0")

	_, err := env.svc.PublishVersion(ctx, acme.ID, "tool", "2.0.0")
	assertKind(t, err, apperrors.KindNotFound)

	_, err = env.svc.PublishVersion(ctx, globex.ID, "tool", "1.0.0")
	assertKind(t, err, apperrors.KindNotFound)

	_, err = env.db.ExecContext(ctx, `UPDATE versions SET status = 'rejected' WHERE version = '1.0.0'`)
	require.NoError(t, err)
	_, err = env.svc.PublishVersion(ctx, acme.ID, "tool", "1.0.0")
	assertKind(t, err, apperrors.KindInvalidState)

	ext, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, ExtensionStatusDraft, ext.Status)
}

func TestParallelDrafts_PublishedOutOfOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")

	// drafts are not ordered against each other
	env.version(t, p.ID, "tool", "2.0.0")
	env.version(t, p.ID, "tool", "1.5.0")

	_, err := env.svc.PublishVersion(ctx, p.ID, "tool", "2.0.0")
	require.NoError(t, err)

	_, err = env.svc.PublishVersion(ctx, p.ID, "tool", "1.5.0")
	assertKind(t, err, apperrors.KindInvalidInput)

	v, err := env.svc.GetVersion(ctx, "tool", "1.5.0")
	require.NoError(t, err)
	assert.Equal(t, VersionStatusDraft, v.Status)
}

func TestCreateVersion_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")

	tests := []struct {
		name   string
		mutate func(*CreateVersionRequest)
	}{
		{"not semver", func(r *CreateVersionRequest) { r.Version = "1.0" }},
		{"leading v", func(r *CreateVersionRequest) { r.Version = "v1.0.0" }},
		{"leading zero", func(r *CreateVersionRequest) { r.Version = "01.0.0" }},
		{"empty bundle", func(r *CreateVersionRequest) { r.Bundle = nil }},
		{"missing manifest", func(r *CreateVersionRequest) { r.Manifest = "" }},
		{"scalar manifest", func(r *CreateVersionRequest) { r.Manifest = "42" }},
		{"list manifest", func(r *CreateVersionRequest) { r.Manifest = "[1, 2]" }},
		{"broken manifest", func(r *CreateVersionRequest) { r.Manifest = "{name: [" }},
		{"bad min app version", func(r *CreateVersionRequest) { r.MinAppVersion = "one" }},
		{"min above max", func(r *CreateVersionRequest) { r.MinAppVersion = "2.0.0"; r.MaxAppVersion = "1.0.0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := versionRequest("1.0.0")
			tt.mutate(&req)
			_, err := env.svc.CreateVersion(ctx, p.ID, "tool", req)
			assertKind(t, err, apperrors.KindInvalidInput)
		})
	}
	assert.Zero(t, env.blobs.putCalls, "nothing is stored for rejected uploads")
}

func TestCreateVersion_StoresMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")

	req := versionRequest("1.0.0-rc.1+build.7")
	req.Manifest = "name: tool\nentry: index.js\n"
	req.MinAppVersion = "3.0.0"
	req.Permissions = []string{"network", " clipboard ", "network", ""}
	v, err := env.svc.CreateVersion(ctx, p.ID, "tool", req)
	require.NoError(t, err)

	got, err := env.svc.GetVersion(ctx, "tool", "1.0.0-rc.1+build.7")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, "name: tool\nentry: index.js\n", got.Manifest, "manifest is stored verbatim")
	assert.Equal(t, []string{"network", "clipboard"}, got.Permissions)
	require.NotNil(t, got.MinAppVersion)
	assert.Equal(t, "3.0.0", *got.MinAppVersion)
	assert.Nil(t, got.MaxAppVersion)

	sum := sha256.Sum256(req.Bundle)
	assert.Equal(t, hex.EncodeToString(sum[:]), got.BundleHash)
	assert.Equal(t, int64(len(req.Bundle)), got.BundleSize)
}

func TestCreateVersion_DuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")
	env.version(t, p.ID, "tool", "1.0.0")

	_, err := env.svc.CreateVersion(ctx, p.ID, "tool", versionRequest("1.0.0"))
	assertKind(t, err, apperrors.KindConflict)

	// duplicates conflict regardless of status
	_, err = env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)
	_, err = env.svc.CreateVersion(ctx, p.ID, "tool", versionRequest("1.0.0"))
	assertKind(t, err, apperrors.KindConflict)
}

func TestCreateVersion_ExistingBundleIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")

	_, err := env.blobs.Put(ctx, "acme/tool/1.0.0.zip", []byte("left behind"), "application/zip")
	require.NoError(t, err)

	_, err = env.svc.CreateVersion(ctx, p.ID, "tool", versionRequest("1.0.0"))
	assertKind(t, err, apperrors.KindConflict)
	assert.True(t, env.blobs.has("acme/tool/1.0.0.zip"), "an existing bundle is never overwritten or removed")
}

func TestCreateVersion_StorageFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")

	env.blobs.putErr = errors.New("s3: connection reset")
	_, err := env.svc.CreateVersion(ctx, p.ID, "tool", versionRequest("1.0.0"))
	assertKind(t, err, apperrors.KindInternal)
	assert.NotContains(t, apperrors.PublicMessage(err), "s3")
}

func TestCreateVersion_RowFailureDeletesBundle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")

	_, err := env.db.ExecContext(ctx, `
		CREATE TRIGGER reject_versions BEFORE INSERT ON versions
		BEGIN SELECT RAISE(ABORT, 'rejected'); END
	`)
	require.NoError(t, err)

	_, err = env.svc.CreateVersion(ctx, p.ID, "tool", versionRequest("1.0.0"))
	assertKind(t, err, apperrors.KindInternal)
	assert.False(t, env.blobs.has("acme/tool/1.0.0.zip"))
	assert.Equal(t, []string{"acme/tool/1.0.0.zip"}, env.blobs.deleted)

	_, err = env.db.ExecContext(ctx, `DROP TRIGGER reject_versions`)
	require.NoError(t, err)
	env.version(t, p.ID, "tool", "1.0.0")
}

func TestCreateVersion_NotOwner(t *testing.T) {
	env := newTestEnv(t)
	acme := env.publisher(t, "user-1", "acme")
	globex := env.publisher(t, "user-2", "globex")
	env.extension(t, acme.ID, "tool", "pk1")

	_, err := env.svc.CreateVersion(context.Background(), globex.ID, "tool", versionRequest("1.0.0"))
	assertKind(t, err, apperrors.KindNotFound)
}

func TestListVersions_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")

	for _, v := range []string{"1.0.0", "1.10.0", "1.2.0", "2.0.0-beta.1"} {
		env.version(t, p.ID, "tool", v)
	}
	_, err := env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)

	all, err := env.svc.ListVersions(ctx, "tool", false)
	require.NoError(t, err)
	var got []string
	for _, v := range all {
		got = append(got, v.Version)
	}
	assert.Equal(t, []string{"2.0.0-beta.1", "1.10.0", "1.2.0", "1.0.0"}, got)

	published, err := env.svc.ListVersions(ctx, "tool", true)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "1.0.0", published[0].Version)
}

func TestDownloadURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")
	v := env.version(t, p.ID, "tool", "1.0.0")

	_, err := env.svc.DownloadURL(ctx, "tool", "1.0.0", "", DownloadMetadata{})
	assertKind(t, err, apperrors.KindNotFound)

	_, err = env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)

	dl, err := env.svc.DownloadURL(ctx, "tool", "1.0.0", "user-9", DownloadMetadata{Platform: "linux"})
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/acme/tool/1.0.0.zip?ttl=300", dl.URL)
	assert.Equal(t, v.BundleHash, dl.BundleHash)
	assert.Equal(t, v.BundleSize, dl.BundleSize)
	assert.True(t, dl.ExpiresAt.Equal(env.clock.Now().Add(DefaultSignedURLTTL)))

	// no pool configured: recorded inline
	got, err := env.svc.GetVersion(ctx, "tool", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Downloads)
}

func TestDownloadURL_SigningFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.publisher(t, "user-1", "acme")
	env.extension(t, p.ID, "tool", "pk1")
	env.version(t, p.ID, "tool", "1.0.0")
	_, err := env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)

	env.blobs.signErr = errors.New("presign failed")
	_, err = env.svc.DownloadURL(ctx, "tool", "1.0.0", "", DownloadMetadata{})
	assertKind(t, err, apperrors.KindInternal)
}

// The hash handed out with a download URL matches the bytes served at it.
func TestBundleHashRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := blob.NewFilesystemStore(blob.FilesystemConfig{
		Root:          t.TempDir(),
		BaseURL:       server.URL + "/blobs",
		SigningSecret: strings.Repeat("s", 32),
	}, nil)
	require.NoError(t, err)
	mux.Handle("/blobs/", http.StripPrefix("/blobs", store.Handler()))

	db := openTestDB(t)
	svc := NewService(db, store, testLogger(), Config{})
	ctx := context.Background()

	p, err := svc.RegisterPublisher(ctx, "user-1", RegisterPublisherRequest{Slug: "acme", DisplayName: "Acme"})
	require.NoError(t, err)
	_, err = svc.CreateExtension(ctx, p.ID, CreateExtensionRequest{Slug: "tool", PublicKey: "pk1", Name: "Tool"})
	require.NoError(t, err)

	req := versionRequest("1.0.0")
	req.Bundle = []byte("PK\x03\x04 not really a zip but bytes are bytes")
	_, err = svc.CreateVersion(ctx, p.ID, "tool", req)
	require.NoError(t, err)
	_, err = svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)

	dl, err := svc.DownloadURL(ctx, "tool", "1.0.0", "", DownloadMetadata{})
	require.NoError(t, err)

	resp, err := http.Get(dl.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	sum := sha256.Sum256(body)
	assert.Equal(t, dl.BundleHash, hex.EncodeToString(sum[:]))
	assert.Equal(t, dl.BundleSize, int64(len(body)))
}
