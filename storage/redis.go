package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis wraps the shared redis client used for cache liveness probes and
// background-job queue inspection.
type Redis struct {
	Client *redis.Client
	logger *zap.SugaredLogger
}

// QueueDepths holds the observed depth of one named background-job queue.
type QueueDepths struct {
	Queue   string
	Waiting int64
	Failed  int64
}

// NewRedis connects to redis and verifies the connection with a ping.
func NewRedis(addr, password string, db int, logger *zap.SugaredLogger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to Redis successfully")
	return &Redis{Client: client, logger: logger}, nil
}

// HealthCheck performs a liveness ping against redis.
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// QueueStats reads the waiting-list length and failed-set cardinality for a
// named job queue. Queues follow the platform convention
// queue:<name>:waiting (list) and queue:<name>:failed (zset).
func (r *Redis) QueueStats(ctx context.Context, queue string) (QueueDepths, error) {
	waiting, err := r.Client.LLen(ctx, fmt.Sprintf("queue:%s:waiting", queue)).Result()
	if err != nil {
		return QueueDepths{}, fmt.Errorf("failed to read waiting depth for queue %s: %w", queue, err)
	}

	failed, err := r.Client.ZCard(ctx, fmt.Sprintf("queue:%s:failed", queue)).Result()
	if err != nil {
		return QueueDepths{}, fmt.Errorf("failed to read failed depth for queue %s: %w", queue, err)
	}

	return QueueDepths{Queue: queue, Waiting: waiting, Failed: failed}, nil
}

// ScheduledJobCount returns the number of registered scheduled jobs, stored
// by the platform scheduler under a well-known hash.
func (r *Redis) ScheduledJobCount(ctx context.Context) (int64, error) {
	count, err := r.Client.HLen(ctx, "scheduler:jobs").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled jobs: %w", err)
	}
	return count, nil
}

// Close releases the redis client.
func (r *Redis) Close() error {
	return r.Client.Close()
}
