package checks

import (
	"context"

	"go.uber.org/zap"

	"watchtower/core"
)

// LivenessProber is the minimal surface a storage backend exposes for a
// native liveness call.
type LivenessProber interface {
	HealthCheck(ctx context.Context) error
}

// StorageChecker probes the three independent storage backends. Each probe
// is isolated: one backend failing never affects the others' results.
type StorageChecker struct {
	redis      LivenessProber
	mongodb    LivenessProber
	clickhouse LivenessProber
	logger     *zap.SugaredLogger
}

// NewStorageChecker creates the storage-backend checker.
func NewStorageChecker(redis, mongodb, clickhouse LivenessProber, logger *zap.SugaredLogger) *StorageChecker {
	return &StorageChecker{redis: redis, mongodb: mongodb, clickhouse: clickhouse, logger: logger}
}

// Category implements Checker.
func (c *StorageChecker) Category() string { return core.CategoryStorage }

// Run executes the backend liveness probes concurrently.
func (c *StorageChecker) Run(ctx context.Context) []core.CheckResult {
	return executeAll(ctx, core.CategoryStorage, []probe{
		{name: "redis", timeout: core.ProbeTimeoutShort, run: liveness(c.redis)},
		{name: "mongodb", timeout: core.ProbeTimeoutShort, run: liveness(c.mongodb)},
		{name: "clickhouse", timeout: core.ProbeTimeoutShort, run: liveness(c.clickhouse)},
	})
}

// RedisResult runs the redis probe standalone; used by the quick check.
func (c *StorageChecker) RedisResult(ctx context.Context) core.CheckResult {
	return execute(ctx, core.CategoryStorage, probe{name: "redis", timeout: core.ProbeTimeoutShort, run: liveness(c.redis)})
}

// MongoResult runs the mongodb probe standalone; used by the quick check.
func (c *StorageChecker) MongoResult(ctx context.Context) core.CheckResult {
	return execute(ctx, core.CategoryStorage, probe{name: "mongodb", timeout: core.ProbeTimeoutShort, run: liveness(c.mongodb)})
}

func liveness(p LivenessProber) probeFunc {
	return func(ctx context.Context) (core.Status, map[string]float64, error) {
		if err := p.HealthCheck(ctx); err != nil {
			return core.StatusUnhealthy, nil, err
		}
		return core.StatusHealthy, nil, nil
	}
}
