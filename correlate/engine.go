// Package correlate finds cross-agent patterns in persisted monitoring
// history. It runs weekly; every heuristic is fail-soft so one broken
// data source never blocks the rest of the report.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"watchtower/core"
	"watchtower/storage"
)

// Trend indicator tuples the heuristics read. Declines are run-over-run:
// the newest sample compared to the one before it.
const (
	securityAgent     = "security-audit"
	securityAction    = "scan"
	securityMetric    = "score"
	performanceAgent  = "performance-trend"
	performanceAction = "scan"
	performanceMetric = "score"
	qualityAgent      = "code-quality"
	qualityAction     = "scan"
	qualityMetric     = "todo_count"
)

const (
	healthRunWindow   = 7
	staleIssueAge     = 7 * 24 * time.Hour
	qualityGrowthRate = 1.10
)

// SampleSource provides historical metric samples, newest first.
type SampleSource interface {
	RecentSamples(ctx context.Context, agentName, action string, limit int) ([]core.MetricSample, error)
}

// HealthHistory provides the most recent persisted health reports.
type HealthHistory interface {
	RecentHealthReports(ctx context.Context, limit int) ([]core.HealthReport, error)
}

// IssueLister exposes the currently open issues.
type IssueLister interface {
	OpenIssues(ctx context.Context, filters core.IssueFilters) ([]core.AgentIssue, error)
}

// ReportSink persists correlation reports.
type ReportSink interface {
	SaveCorrelationReport(ctx context.Context, report *core.CorrelationReport) error
}

// Engine runs the correlation heuristics over persisted history.
type Engine struct {
	samples SampleSource
	history HealthHistory
	issues  IssueLister
	sink    ReportSink
	logger  *zap.SugaredLogger
	now     func() time.Time

	// QualityFloor is the absolute value below which code-quality growth
	// is ignored; BacklogLimit is the open-issue count past which the
	// backlog insight fires.
	QualityFloor float64
	BacklogLimit int
}

// NewEngine wires the correlation engine. sink may be nil to skip
// persistence.
func NewEngine(samples SampleSource, history HealthHistory, issues IssueLister, sink ReportSink, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		samples:      samples,
		history:      history,
		issues:       issues,
		sink:         sink,
		logger:       logger,
		now:          time.Now,
		QualityFloor: 50,
		BacklogLimit: 10,
	}
}

// Run executes all heuristics and persists the combined report.
func (e *Engine) Run(ctx context.Context) *core.CorrelationReport {
	report := &core.CorrelationReport{GeneratedAt: e.now().UTC()}

	e.runHeuristic("trend_decline", func() error { return e.trendDecline(ctx, report) })
	e.runHeuristic("quality_growth", func() error { return e.qualityGrowth(ctx, report) })
	e.runHeuristic("persistent_warnings", func() error { return e.persistentWarnings(ctx, report) })
	e.runHeuristic("issue_backlog", func() error { return e.issueBacklog(ctx, report) })

	if e.sink != nil {
		if err := e.sink.SaveCorrelationReport(ctx, report); err != nil {
			e.logger.Warnw("Failed to persist correlation report", "error", err)
		}
	}

	e.logger.Infow("Correlation run completed",
		"correlations", len(report.Correlations), "insights", len(report.Insights))
	return report
}

// runHeuristic isolates one heuristic, converting panics and errors into
// log lines.
func (e *Engine) runHeuristic(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("Correlation heuristic panicked", "heuristic", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		e.logger.Warnw("Correlation heuristic failed", "heuristic", name, "error", err)
	}
}

// trendDecline flags a simultaneous run-over-run decline in the security
// and performance trend indicators.
func (e *Engine) trendDecline(ctx context.Context, report *core.CorrelationReport) error {
	securityDown, secDelta, err := e.declined(ctx, securityAgent, securityAction, securityMetric)
	if err != nil {
		return err
	}
	performanceDown, perfDelta, err := e.declined(ctx, performanceAgent, performanceAction, performanceMetric)
	if err != nil {
		return err
	}

	if securityDown && performanceDown {
		report.Correlations = append(report.Correlations, core.Correlation{
			Kind:     "simultaneous_trend_decline",
			Severity: core.SeverityHigh,
			Agents:   []string{securityAgent, performanceAgent},
			Description: fmt.Sprintf(
				"Security score dropped %.1f and performance score dropped %.1f in the same period; a shared root cause is likely.",
				-secDelta, -perfDelta),
		})
	}
	return nil
}

// declined reports whether the newest sample of the metric is lower than
// the previous one, and by how much. An agent with no history yet is not
// a decline.
func (e *Engine) declined(ctx context.Context, agent, action, metric string) (bool, float64, error) {
	samples, err := e.samples.RecentSamples(ctx, agent, action, 2)
	if errors.Is(err, storage.ErrNoSamples) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to load %s samples: %w", agent, err)
	}
	if len(samples) < 2 {
		return false, 0, nil
	}
	latest, okLatest := samples[0].Metrics[metric]
	previous, okPrev := samples[1].Metrics[metric]
	if !okLatest || !okPrev {
		return false, 0, nil
	}
	return latest < previous, latest - previous, nil
}

// qualityGrowth flags the code-quality debt metric growing more than 10%
// run-over-run once it is past the absolute floor.
func (e *Engine) qualityGrowth(ctx context.Context, report *core.CorrelationReport) error {
	samples, err := e.samples.RecentSamples(ctx, qualityAgent, qualityAction, 2)
	if errors.Is(err, storage.ErrNoSamples) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s samples: %w", qualityAgent, err)
	}
	if len(samples) < 2 {
		return nil
	}
	latest, okLatest := samples[0].Metrics[qualityMetric]
	previous, okPrev := samples[1].Metrics[qualityMetric]
	if !okLatest || !okPrev || previous <= 0 {
		return nil
	}

	if latest > previous*qualityGrowthRate && latest > e.QualityFloor {
		report.Insights = append(report.Insights, core.Insight{
			Kind:     "quality_debt_growth",
			Severity: core.SeverityLow,
			Description: fmt.Sprintf(
				"Code-quality debt grew from %.0f to %.0f (+%.0f%%); worth a cleanup pass before it compounds.",
				previous, latest, (latest/previous-1)*100),
		})
	}
	return nil
}

// persistentWarnings flags more than half of the recent health runs
// carrying warnings.
func (e *Engine) persistentWarnings(ctx context.Context, report *core.CorrelationReport) error {
	reports, err := e.history.RecentHealthReports(ctx, healthRunWindow)
	if err != nil {
		return fmt.Errorf("failed to load health history: %w", err)
	}
	if len(reports) == 0 {
		return nil
	}

	warned := 0
	for _, r := range reports {
		if r.Summary.Warning > 0 || r.Summary.Unhealthy > 0 || r.Summary.Critical > 0 {
			warned++
		}
	}

	if warned*2 > len(reports) {
		report.Correlations = append(report.Correlations, core.Correlation{
			Kind:     "persistent_warnings",
			Severity: core.SeverityMedium,
			Agents:   []string{"health-reporter"},
			Description: fmt.Sprintf(
				"%d of the last %d health runs reported warnings or worse; something is chronically unwell rather than transient.",
				warned, len(reports)),
		})
	}
	return nil
}

// issueBacklog flags an accumulation of open issues older than a week.
func (e *Engine) issueBacklog(ctx context.Context, report *core.CorrelationReport) error {
	issues, err := e.issues.OpenIssues(ctx, core.IssueFilters{})
	if err != nil {
		return fmt.Errorf("failed to list open issues: %w", err)
	}

	cutoff := e.now().Add(-staleIssueAge)
	stale := 0
	for _, issue := range issues {
		if issue.DetectedAt.Before(cutoff) {
			stale++
		}
	}

	if stale > e.BacklogLimit {
		report.Insights = append(report.Insights, core.Insight{
			Kind:     "issue_backlog",
			Severity: core.SeverityMedium,
			Description: fmt.Sprintf(
				"%d open issues are older than a week (limit %d); the backlog needs triage.",
				stale, e.BacklogLimit),
		})
	}
	return nil
}
