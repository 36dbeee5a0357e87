package marketplace

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bazaar/pkg/cache"
)

func TestGetExtension_CachesPublishedOnly(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(10, time.Minute, nil)
	env := newTestEnv(t, WithCache(c))

	p := env.publisher(t, "owner", "acme")
	env.extension(t, p.ID, "tool", "pk1")

	ext, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, ExtensionStatusDraft, ext.Status)
	_, err = c.Get(ctx, cache.ExtensionKey("tool"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss, "drafts are not cached")

	env.version(t, p.ID, "tool", "1.0.0")
	_, err = env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)

	ext, err = env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, ExtensionStatusPublished, ext.Status)
	_, err = c.Get(ctx, cache.ExtensionKey("tool"))
	assert.NoError(t, err)
}

func TestStaleDraftCacheEntry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(10, time.Minute, nil)
	env := newTestEnv(t, WithCache(c))

	p := env.publisher(t, "owner", "acme")
	draft := env.extension(t, p.ID, "tool", "pk1")
	env.version(t, p.ID, "tool", "1.0.0")
	_, err := env.svc.PublishVersion(ctx, p.ID, "tool", "1.0.0")
	require.NoError(t, err)

	// a reader that loaded the draft before the publish writes it back late
	data, err := json.Marshal(draft)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, cache.ExtensionKey("tool"), data))

	ext, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, ExtensionStatusPublished, ext.Status)

	require.NoError(t, c.Set(ctx, cache.ExtensionKey("tool"), data))

	review, err := env.svc.UpsertReview(ctx, "tool", "alice", UpsertReviewRequest{Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, review.Rating)

	_, err = env.svc.DownloadURL(ctx, "tool", "1.0.0", "", DownloadMetadata{})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteReview(ctx, "tool", "alice"))
}
