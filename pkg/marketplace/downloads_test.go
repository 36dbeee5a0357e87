package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/bazaar/pkg/async"
	"github.com/platinummonkey/bazaar/pkg/observability"
)

func publishedVersion(t *testing.T, env *testEnv) (*Extension, *Version) {
	t.Helper()
	ctx := context.Background()
	publishedTool(t, env)
	ext, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	v, err := env.svc.GetVersion(ctx, "tool", "1.0.0")
	require.NoError(t, err)
	return ext, v
}

func countDownloadEvents(t *testing.T, env *testEnv) int {
	t.Helper()
	var n int
	require.NoError(t, env.db.QueryRow(`SELECT COUNT(*) FROM downloads`).Scan(&n))
	return n
}

func TestRecordDownload_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext, v := publishedVersion(t, env)

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			return env.svc.RecordDownload(ctx, ext, v, "", DownloadMetadata{Platform: "linux"})
		})
	}
	require.NoError(t, g.Wait())

	gotExt, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	gotVersion, err := env.svc.GetVersion(ctx, "tool", "1.0.0")
	require.NoError(t, err)

	assert.Equal(t, ext.TotalDownloads+100, gotExt.TotalDownloads)
	assert.Equal(t, v.Downloads+100, gotVersion.Downloads)
	assert.Equal(t, 100, countDownloadEvents(t, env))
}

func TestRecordDownload_FailsClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext, v := publishedVersion(t, env)

	bogus := *v
	bogus.ID = "00000000-0000-0000-0000-000000000000"
	err := env.svc.RecordDownload(ctx, ext, &bogus, "user-1", DownloadMetadata{})
	require.Error(t, err)

	gotExt, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, ext.TotalDownloads, gotExt.TotalDownloads, "counter moved without an event")
	assert.Zero(t, countDownloadEvents(t, env))
}

func TestRecordDownload_TruncatesMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ext, v := publishedVersion(t, env)

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, env.svc.RecordDownload(ctx, ext, v, "", DownloadMetadata{
		Platform:  string(long),
		UserAgent: string(long),
	}))

	var platform, agent string
	var subject *string
	require.NoError(t, env.db.QueryRow(`SELECT platform, user_agent, subject_id FROM downloads`).Scan(&platform, &agent, &subject))
	assert.Len(t, platform, 64)
	assert.Len(t, agent, 512)
	assert.Nil(t, subject, "anonymous downloads have no subject")
}

func TestDownloadURL_RecordsThroughPool(t *testing.T) {
	pool := async.NewWorkerPool(context.Background(), 2, 16, "download recording", 5*time.Second, testLogger())
	env := newTestEnv(t, WithDownloadPool(pool))
	ctx := context.Background()
	publishedVersion(t, env)

	for i := 0; i < 5; i++ {
		_, err := env.svc.DownloadURL(ctx, "tool", "1.0.0", "", DownloadMetadata{})
		require.NoError(t, err)
	}
	require.NoError(t, pool.Shutdown(5*time.Second))

	v, err := env.svc.GetVersion(ctx, "tool", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Downloads)
}

func TestDownloadURL_FullPoolDropsEvent(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	pool := async.NewWorkerPool(context.Background(), 1, 1, "download recording", 5*time.Second, testLogger())
	env := newTestEnv(t, WithDownloadPool(pool), WithMetrics(metrics))
	ctx := context.Background()
	publishedVersion(t, env)

	// one task occupies the worker, another fills the queue
	release := make(chan struct{})
	block := func(context.Context) error {
		<-release
		return nil
	}
	require.NoError(t, pool.Submit(block))
	require.NoError(t, pool.Submit(block))

	dl, err := env.svc.DownloadURL(ctx, "tool", "1.0.0", "", DownloadMetadata{})
	require.NoError(t, err, "a dropped event never fails the download")
	assert.NotEmpty(t, dl.URL)

	close(release)
	require.NoError(t, pool.Shutdown(5*time.Second))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DownloadsRecordedTotal.WithLabelValues("dropped")))
	assert.Zero(t, countDownloadEvents(t, env))
}
