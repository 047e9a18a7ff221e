package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"watchtower/config"
	"watchtower/core"
	"watchtower/storage"
)

// OffsiteBackups lists the newest object of an offsite backup bucket.
type OffsiteBackups interface {
	NewestObject(bucket, prefix string) (*storage.BackupObject, error)
}

// BackupChecker classifies each configured backup type by the age and size
// of its most recent artifact. Cloud-managed backups short-circuit to
// healthy since the provider guarantees them.
type BackupChecker struct {
	cfg     *config.Config
	offsite OffsiteBackups
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewBackupChecker creates the backup checker. offsite may be nil when no
// s3-managed backup types are configured.
func NewBackupChecker(cfg *config.Config, offsite OffsiteBackups, logger *zap.SugaredLogger) *BackupChecker {
	return &BackupChecker{cfg: cfg, offsite: offsite, logger: logger, now: time.Now}
}

// Category implements Checker.
func (c *BackupChecker) Category() string { return core.CategoryBackups }

// Run probes every configured backup type concurrently, plus the disk
// probes that share this category.
func (c *BackupChecker) Run(ctx context.Context) []core.CheckResult {
	probes := make([]probe, 0, len(c.cfg.Backups.Specs)+2)
	for _, spec := range c.cfg.Backups.Specs {
		probes = append(probes, probe{
			name:    fmt.Sprintf("backup_%s", spec.Type),
			timeout: core.ProbeTimeoutLong,
			run:     c.backupProbe(spec),
		})
	}
	probes = append(probes,
		probe{name: "disk_usage", timeout: core.ProbeTimeoutShort, run: c.diskUsage},
		probe{name: "tracked_directories", timeout: core.ProbeTimeoutLong, run: c.trackedDirectories},
	)
	return executeAll(ctx, core.CategoryBackups, probes)
}

func (c *BackupChecker) backupProbe(spec config.BackupSpec) probeFunc {
	return func(ctx context.Context) (core.Status, map[string]float64, error) {
		switch spec.Managed {
		case "cloud":
			return core.StatusHealthy, nil, nil
		case "s3":
			if c.offsite == nil {
				return core.StatusError, nil, fmt.Errorf("s3 backup %s configured without an offsite client", spec.Type)
			}
			obj, err := c.offsite.NewestObject(spec.Bucket, spec.Prefix)
			if err != nil {
				return core.StatusUnhealthy, nil, err
			}
			return c.classifyArtifact(obj.LastModified, obj.SizeBytes)
		default:
			newest, err := newestMatchingFile(spec.Dir, spec.Pattern)
			if err != nil {
				return core.StatusUnhealthy, nil, err
			}
			return c.classifyArtifact(newest.ModTime(), newest.Size())
		}
	}
}

// classifyArtifact applies the shared age and size rules to one backup
// artifact.
func (c *BackupChecker) classifyArtifact(modified time.Time, size int64) (core.Status, map[string]float64, error) {
	age := c.now().Sub(modified)
	values := map[string]float64{
		"age_hours":  age.Hours(),
		"size_bytes": float64(size),
	}

	switch {
	case size < c.cfg.Backups.MinSize:
		return core.StatusCritical, values, fmt.Errorf("backup artifact is %d bytes, likely truncated", size)
	case age > c.cfg.Backups.CriticalAge:
		return core.StatusCritical, values, nil
	case age > c.cfg.Backups.WarnAge:
		return core.StatusWarning, values, nil
	default:
		return core.StatusHealthy, values, nil
	}
}

// newestMatchingFile returns the most recently modified file in dir whose
// base name matches pattern (filepath.Match syntax).
func newestMatchingFile(dir, pattern string) (os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup dir %s: %w", dir, err)
	}

	var newest os.FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pattern != "" {
			matched, err := filepath.Match(pattern, entry.Name())
			if err != nil {
				return nil, fmt.Errorf("invalid backup pattern %q: %w", pattern, err)
			}
			if !matched {
				continue
			}
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == nil || info.ModTime().After(newest.ModTime()) {
			newest = info
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("no backup files matching %q in %s", pattern, dir)
	}
	return newest, nil
}
