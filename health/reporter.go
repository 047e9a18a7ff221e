// Package health aggregates the probe suite into platform-level reports.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"watchtower/checks"
	"watchtower/core"
)

// HistorySink persists health reports for trend queries.
type HistorySink interface {
	SaveHealthReport(ctx context.Context, report *core.HealthReport) error
}

// Reporter runs the full category suite or a cheap quick subset and
// aggregates the results under the worst-of severity ranking.
type Reporter struct {
	checkers []checks.Checker
	server   *checks.ServerChecker
	storage  *checks.StorageChecker
	external *checks.ExternalChecker
	history  HistorySink
	logger   *zap.SugaredLogger
}

// NewReporter wires the reporter. history may be nil, in which case reports
// are not persisted.
func NewReporter(
	server *checks.ServerChecker,
	storage *checks.StorageChecker,
	external *checks.ExternalChecker,
	frontend *checks.FrontendChecker,
	queues *checks.QueueChecker,
	backups *checks.BackupChecker,
	history HistorySink,
	logger *zap.SugaredLogger,
) *Reporter {
	checkers := make([]checks.Checker, 0, 6)
	if server != nil {
		checkers = append(checkers, server)
	}
	if storage != nil {
		checkers = append(checkers, storage)
	}
	if external != nil {
		checkers = append(checkers, external)
	}
	if frontend != nil {
		checkers = append(checkers, frontend)
	}
	if queues != nil {
		checkers = append(checkers, queues)
	}
	if backups != nil {
		checkers = append(checkers, backups)
	}

	return &Reporter{
		checkers: checkers,
		server:   server,
		storage:  storage,
		external: external,
		history:  history,
		logger:   logger,
	}
}

// RunFull executes every category concurrently and aggregates the results.
// The report is persisted when a history sink is configured; persistence
// failures are logged and swallowed so observability plumbing can never
// take down the check itself.
func (r *Reporter) RunFull(ctx context.Context) *core.HealthReport {
	started := time.Now()

	reports := make([]core.CategoryReport, len(r.checkers))
	var wg sync.WaitGroup
	for i, checker := range r.checkers {
		wg.Add(1)
		go func(i int, checker checks.Checker) {
			defer wg.Done()
			reports[i] = core.NewCategoryReport(checker.Category(), checker.Run(ctx))
		}(i, checker)
	}
	wg.Wait()

	report := core.NewHealthReport(started, reports)
	r.persist(ctx, report)

	r.logger.Infow("Full health check completed",
		"overall", report.Overall,
		"checks", report.Summary.TotalChecks,
		"critical", report.Summary.Critical,
		"unhealthy", report.Summary.Unhealthy,
		"warning", report.Summary.Warning,
		"duration_ms", report.ExecutionMS)

	return report
}

// RunQuick executes the cheap high-frequency subset: host ping, cache,
// primary document store, and the first external dependency. Quick reports
// are not persisted.
func (r *Reporter) RunQuick(ctx context.Context) *core.HealthReport {
	started := time.Now()

	results := make([]core.CheckResult, 4)
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); results[0] = r.server.PingResult(ctx) }()
	go func() { defer wg.Done(); results[1] = r.storage.RedisResult(ctx) }()
	go func() { defer wg.Done(); results[2] = r.storage.MongoResult(ctx) }()
	go func() { defer wg.Done(); results[3] = r.external.PrimaryResult(ctx) }()
	wg.Wait()

	byCategory := map[string][]core.CheckResult{}
	for _, result := range results {
		byCategory[result.Category] = append(byCategory[result.Category], result)
	}
	reports := make([]core.CategoryReport, 0, len(byCategory))
	for category, grouped := range byCategory {
		reports = append(reports, core.NewCategoryReport(category, grouped))
	}

	return core.NewHealthReport(started, reports)
}

func (r *Reporter) persist(ctx context.Context, report *core.HealthReport) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveHealthReport(ctx, report); err != nil {
		r.logger.Warnw("Failed to persist health report", "error", err)
	}
}
