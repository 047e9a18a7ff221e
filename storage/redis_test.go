package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &Redis{Client: client, logger: zap.NewNop().Sugar()}, mr
}

func TestRedisHealthCheck(t *testing.T) {
	r, _ := newTestRedis(t)
	assert.NoError(t, r.HealthCheck(context.Background()))
}

func TestRedisQueueStats(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := mr.Lpush("queue:notifications:waiting", "job")
		require.NoError(t, err)
	}
	mr.ZAdd("queue:notifications:failed", 1, "job-1")
	mr.ZAdd("queue:notifications:failed", 2, "job-2")

	depths, err := r.QueueStats(ctx, "notifications")
	require.NoError(t, err)
	assert.Equal(t, int64(5), depths.Waiting)
	assert.Equal(t, int64(2), depths.Failed)
}

func TestRedisQueueStatsEmptyQueue(t *testing.T) {
	r, _ := newTestRedis(t)
	depths, err := r.QueueStats(context.Background(), "empty")
	require.NoError(t, err)
	assert.Zero(t, depths.Waiting)
	assert.Zero(t, depths.Failed)
}

func TestRedisScheduledJobCount(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.HSet("scheduler:jobs", "daily-health", "0 6 * * *")
	mr.HSet("scheduler:jobs", "weekly-correlation", "0 7 * * 1")

	count, err := r.ScheduledJobCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
