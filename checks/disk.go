package checks

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"

	"watchtower/core"
	"watchtower/metrics"
)

// diskUsage reads the root filesystem usage percent.
func (c *BackupChecker) diskUsage(ctx context.Context) (core.Status, map[string]float64, error) {
	usage, err := disk.UsageWithContext(ctx, c.cfg.Server.DiskRoot)
	if err != nil {
		return core.StatusError, nil, fmt.Errorf("failed to read disk usage for %s: %w", c.cfg.Server.DiskRoot, err)
	}

	values := map[string]float64{
		"used_percent": usage.UsedPercent,
		"free_gb":      float64(usage.Free) / 1024 / 1024 / 1024,
		"total_gb":     float64(usage.Total) / 1024 / 1024 / 1024,
	}

	return classifyPercent(usage.UsedPercent, c.cfg.Server.DiskWarnPercent, c.cfg.Server.DiskCritPercent), values, nil
}

// trackedDirectories measures the size of each tracked directory so growth
// trends are visible in metrics. Sizes inform, they never escalate.
func (c *BackupChecker) trackedDirectories(ctx context.Context) (core.Status, map[string]float64, error) {
	values := make(map[string]float64, len(c.cfg.Server.TrackedDirectories))
	for _, dir := range c.cfg.Server.TrackedDirectories {
		if err := ctx.Err(); err != nil {
			return core.StatusError, values, err
		}
		size, err := directorySize(dir)
		if err != nil {
			c.logger.Warnw("Failed to size tracked directory", "dir", dir, "error", err)
			continue
		}
		values[dir] = float64(size)
		metrics.TrackedDirectoryBytes.WithLabelValues(dir).Set(float64(size))
	}
	return core.StatusHealthy, values, nil
}

// directorySize sums the file sizes under root. Unreadable entries are
// skipped rather than failing the walk.
func directorySize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
