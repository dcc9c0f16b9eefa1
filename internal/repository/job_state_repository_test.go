package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisJobStateRepositoryRoundTrip(t *testing.T) {
	client, mr := newTestRedis(t)
	repo := NewRedisJobStateRepository(client, time.Hour)
	ctx := context.Background()

	job := &models.ComputationJob{ID: "job-1", TenantID: "t1", State: models.JobStatePending, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Save(ctx, job))
	assert.Equal(t, time.Hour, mr.TTL("results:job:job-1"))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, got.State)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrJobNotFound))
}

func TestRedisJobStateRepositoryListByStatePrunesExpired(t *testing.T) {
	client, mr := newTestRedis(t)
	repo := NewRedisJobStateRepository(client, time.Minute)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, &models.ComputationJob{ID: "b", State: models.JobStatePending, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, repo.Save(ctx, &models.ComputationJob{ID: "a", State: models.JobStatePending, CreatedAt: base}))
	require.NoError(t, repo.Save(ctx, &models.ComputationJob{ID: "c", State: models.JobStateCompleted, CreatedAt: base}))
	mr.Del("results:job:b")

	pending, err := repo.ListByState(ctx, models.JobStatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)

	members, err := mr.Members("results:jobs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, members)
}

func TestMemoryJobStateRepository(t *testing.T) {
	repo := NewMemoryJobStateRepository(0)
	ctx := context.Background()

	job := &models.ComputationJob{ID: "job-1", State: models.JobStateActive, Progress: models.ComputationProgress{Errors: []string{"x"}}}
	require.NoError(t, repo.Save(ctx, job))
	job.Progress.Errors[0] = "mutated"

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.Progress.Errors)

	active, err := repo.ListByState(ctx, models.JobStateActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = repo.Get(ctx, "nope")
	assert.True(t, errors.Is(err, appErrors.ErrJobNotFound))
}

func TestMemoryJobStateRepositoryExpiresRecords(t *testing.T) {
	repo := NewMemoryJobStateRepository(time.Hour)
	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &models.ComputationJob{ID: "old", State: models.JobStateCompleted}))
	clock = clock.Add(30 * time.Minute)
	require.NoError(t, repo.Save(ctx, &models.ComputationJob{ID: "new", State: models.JobStateCompleted}))

	clock = clock.Add(45 * time.Minute)
	_, err := repo.Get(ctx, "old")
	assert.True(t, errors.Is(err, appErrors.ErrJobNotFound))
	completed, err := repo.ListByState(ctx, models.JobStateCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "new", completed[0].ID)

	require.NoError(t, repo.Save(ctx, &models.ComputationJob{ID: "next", State: models.JobStatePending}))
	assert.NotContains(t, repo.jobs, "old")
	assert.Len(t, repo.jobs, 2)
}

func TestCacheRepository(t *testing.T) {
	client, mr := newTestRedis(t)
	repo := NewCacheRepository(client, nil)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "results:stats:t1:term-1:jss1:all", map[string]int{"count": 3}, time.Minute))
	require.NoError(t, repo.Set(ctx, "results:stats:t1:term-1:jss2:all", map[string]int{"count": 5}, time.Minute))

	var dest map[string]int
	require.NoError(t, repo.Get(ctx, "results:stats:t1:term-1:jss1:all", &dest))
	assert.Equal(t, 3, dest["count"])

	require.NoError(t, repo.DeleteByPattern(ctx, "results:*:t1:term-1:jss1:*"))
	assert.False(t, mr.Exists("results:stats:t1:term-1:jss1:all"))
	assert.True(t, mr.Exists("results:stats:t1:term-1:jss2:all"))

	err := repo.Get(ctx, "results:stats:t1:term-1:jss1:all", &dest)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))

	disabled := NewCacheRepository(nil, nil)
	assert.True(t, errors.Is(disabled.Get(ctx, "k", &dest), appErrors.ErrCacheMiss))
	assert.NoError(t, disabled.Set(ctx, "k", 1, time.Minute))
}
