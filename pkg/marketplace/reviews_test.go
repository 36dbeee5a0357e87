package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/httputil"
)

func publishedTool(t *testing.T, env *testEnv) *Publisher {
	t.Helper()
	p := env.publisher(t, "owner", "acme")
	env.extension(t, p.ID, "tool", "pk1")
	env.version(t, p.ID, "tool", "1.0.0")
	_, err := env.svc.PublishVersion(context.Background(), p.ID, "tool", "1.0.0")
	require.NoError(t, err)
	return p
}

func TestReviews_Aggregates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	publishedTool(t, env)

	_, err := env.svc.UpsertReview(ctx, "tool", "alice", UpsertReviewRequest{Rating: 4})
	require.NoError(t, err)
	_, err = env.svc.UpsertReview(ctx, "tool", "bob", UpsertReviewRequest{Rating: 5})
	require.NoError(t, err)

	ext, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	require.NotNil(t, ext.AverageRating)
	assert.Equal(t, 450, *ext.AverageRating)
	assert.Equal(t, 2, ext.ReviewCount)

	// alice changes her mind; her old rating no longer counts
	title := "meh"
	_, err = env.svc.UpsertReview(ctx, "tool", "alice", UpsertReviewRequest{Rating: 2, Title: &title})
	require.NoError(t, err)

	ext, err = env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, 350, *ext.AverageRating)
	assert.Equal(t, 2, ext.ReviewCount)

	r, err := env.svc.GetReview(ctx, "tool", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Rating)
	require.NotNil(t, r.Title)
	assert.Equal(t, "meh", *r.Title)
}

func TestReviews_Rounding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	publishedTool(t, env)

	for subject, rating := range map[string]int{"a": 5, "b": 4, "c": 4} {
		_, err := env.svc.UpsertReview(ctx, "tool", subject, UpsertReviewRequest{Rating: rating})
		require.NoError(t, err)
	}

	ext, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, 433, *ext.AverageRating)
}

func TestReviews_DeleteRecomputes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	publishedTool(t, env)

	_, err := env.svc.UpsertReview(ctx, "tool", "alice", UpsertReviewRequest{Rating: 3})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteReview(ctx, "tool", "alice"))
	assertKind(t, env.svc.DeleteReview(ctx, "tool", "alice"), apperrors.KindNotFound)

	ext, err := env.svc.GetExtension(ctx, "tool")
	require.NoError(t, err)
	assert.Nil(t, ext.AverageRating, "no reviews means no rating")
	assert.Zero(t, ext.ReviewCount)
}

func TestReviews_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := publishedTool(t, env)
	env.extension(t, p.ID, "draft-tool", "pk-draft")

	for _, rating := range []int{0, 6, -1} {
		_, err := env.svc.UpsertReview(ctx, "tool", "alice", UpsertReviewRequest{Rating: rating})
		assertKind(t, err, apperrors.KindInvalidInput)
	}

	_, err := env.svc.UpsertReview(ctx, "draft-tool", "alice", UpsertReviewRequest{Rating: 5})
	assertKind(t, err, apperrors.KindInvalidState)

	_, err = env.svc.UpsertReview(ctx, "missing", "alice", UpsertReviewRequest{Rating: 5})
	assertKind(t, err, apperrors.KindNotFound)
}

func TestListReviews(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	publishedTool(t, env)

	for i, subject := range []string{"a", "b", "c"} {
		env.clock.Advance(time.Second)
		_, err := env.svc.UpsertReview(ctx, "tool", subject, UpsertReviewRequest{Rating: i + 1})
		require.NoError(t, err)
	}

	page, err := env.svc.ListReviews(ctx, "tool", httputil.Pagination{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Reviews, 2)
	assert.Equal(t, "c", page.Reviews[0].SubjectID)
	assert.Equal(t, "b", page.Reviews[1].SubjectID)

	page, err = env.svc.ListReviews(ctx, "tool", httputil.Pagination{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page.Reviews, 1)
	assert.Equal(t, "a", page.Reviews[0].SubjectID)
}
