package checks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"watchtower/config"
	"watchtower/core"
	"watchtower/storage"
)

// QueueInspector reads background-job queue depths.
type QueueInspector interface {
	QueueStats(ctx context.Context, queue string) (storage.QueueDepths, error)
}

// QueueChecker classifies each named background-job queue by its waiting
// and failed depths.
type QueueChecker struct {
	cfg       *config.Config
	inspector QueueInspector
	logger    *zap.SugaredLogger
}

// NewQueueChecker creates the job-queue checker.
func NewQueueChecker(cfg *config.Config, inspector QueueInspector, logger *zap.SugaredLogger) *QueueChecker {
	return &QueueChecker{cfg: cfg, inspector: inspector, logger: logger}
}

// Category implements Checker.
func (c *QueueChecker) Category() string { return core.CategoryQueues }

// Run probes every configured queue concurrently.
func (c *QueueChecker) Run(ctx context.Context) []core.CheckResult {
	probes := make([]probe, len(c.cfg.Queues))
	for i, queue := range c.cfg.Queues {
		probes[i] = probe{
			name:    fmt.Sprintf("queue_%s", queue),
			timeout: core.ProbeTimeoutShort,
			run:     c.queueProbe(queue),
		}
	}
	return executeAll(ctx, core.CategoryQueues, probes)
}

func (c *QueueChecker) queueProbe(queue string) probeFunc {
	return func(ctx context.Context) (core.Status, map[string]float64, error) {
		depths, err := c.inspector.QueueStats(ctx, queue)
		if err != nil {
			return core.StatusError, nil, err
		}

		values := map[string]float64{
			"waiting": float64(depths.Waiting),
			"failed":  float64(depths.Failed),
		}

		t := c.cfg.QueueThresholds
		return ClassifyQueue(depths.Failed, depths.Waiting, t.FailedWarn, t.FailedUnhealthy, t.WaitingMax), values, nil
	}
}

// ClassifyQueue maps queue depths to a status. A deep failed set or a
// runaway waiting list is unhealthy; a growing failed set is a warning.
func ClassifyQueue(failed, waiting, failedWarn, failedUnhealthy, waitingMax int64) core.Status {
	switch {
	case failed > failedUnhealthy || waiting > waitingMax:
		return core.StatusUnhealthy
	case failed > failedWarn:
		return core.StatusWarning
	default:
		return core.StatusHealthy
	}
}
