package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Check categories. Each category is probed independently and aggregated
// via WorstOf.
const (
	CategoryServer   = "server"
	CategoryStorage  = "storage"
	CategoryExternal = "external"
	CategoryFrontend = "frontend"
	CategoryQueues   = "queues"
	CategoryBackups  = "backups"
)

// CheckResult is the outcome of a single probe. Probes never return errors
// outward; failures are encoded as a result with status error or unhealthy.
type CheckResult struct {
	Name      string             `json:"name" bson:"name"`
	Category  string             `json:"category" bson:"category"`
	Status    Status             `json:"status" bson:"status"`
	LatencyMS int64              `json:"latency_ms,omitempty" bson:"latency_ms,omitempty"`
	Err       string             `json:"error,omitempty" bson:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp" bson:"timestamp"`
	Metrics   map[string]float64 `json:"metrics,omitempty" bson:"metrics,omitempty"`
}

// FailedResult builds an error-status result for a probe that could not run.
func FailedResult(name, category string, started time.Time, err error) CheckResult {
	return CheckResult{
		Name:      name,
		Category:  category,
		Status:    StatusError,
		LatencyMS: time.Since(started).Milliseconds(),
		Err:       err.Error(),
		Timestamp: time.Now().UTC(),
	}
}

// CategoryReport groups the results of one category under its worst status.
type CategoryReport struct {
	Category string        `json:"category" bson:"category"`
	Status   Status        `json:"status" bson:"status"`
	Checks   []CheckResult `json:"checks" bson:"checks"`
}

// NewCategoryReport aggregates checks into a report; the category status is
// the worst status among its checks.
func NewCategoryReport(category string, checks []CheckResult) CategoryReport {
	statuses := make([]Status, len(checks))
	for i, c := range checks {
		statuses[i] = c.Status
	}
	return CategoryReport{
		Category: category,
		Status:   WorstOf(statuses...),
		Checks:   checks,
	}
}

// ReportSummary carries machine-readable issue counts for a health report.
type ReportSummary struct {
	TotalChecks int `json:"total_checks" bson:"total_checks"`
	Critical    int `json:"critical" bson:"critical"`
	Unhealthy   int `json:"unhealthy" bson:"unhealthy"`
	Warning     int `json:"warning" bson:"warning"`
}

// HealthReport is the aggregated outcome of one reporter run.
type HealthReport struct {
	Timestamp   time.Time        `json:"timestamp" bson:"timestamp"`
	Overall     Status           `json:"overall_status" bson:"overall_status"`
	ExecutionMS int64            `json:"execution_ms" bson:"execution_ms"`
	Categories  []CategoryReport `json:"categories" bson:"categories"`
	Summary     ReportSummary    `json:"summary" bson:"summary"`
}

// NewHealthReport aggregates category reports into a health report with
// overall status and summary counts.
func NewHealthReport(started time.Time, categories []CategoryReport) *HealthReport {
	report := &HealthReport{
		Timestamp:   started.UTC(),
		ExecutionMS: time.Since(started).Milliseconds(),
		Categories:  categories,
	}

	statuses := make([]Status, 0, len(categories))
	for _, cat := range categories {
		statuses = append(statuses, cat.Status)
		for _, check := range cat.Checks {
			report.Summary.TotalChecks++
			switch check.Status {
			case StatusCritical:
				report.Summary.Critical++
			case StatusUnhealthy, StatusError:
				report.Summary.Unhealthy++
			case StatusWarning:
				report.Summary.Warning++
			}
		}
	}
	report.Overall = WorstOf(statuses...)

	// Stable category order for alert bodies and idempotent comparisons.
	sort.Slice(report.Categories, func(i, j int) bool {
		return report.Categories[i].Category < report.Categories[j].Category
	})

	return report
}

// Describe renders a human-readable multi-line summary suitable for alert
// message bodies.
func (r *HealthReport) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall status: %s (%d checks, %d critical, %d unhealthy, %d warning)\n",
		strings.ToUpper(string(r.Overall)), r.Summary.TotalChecks,
		r.Summary.Critical, r.Summary.Unhealthy, r.Summary.Warning)

	for _, cat := range r.Categories {
		fmt.Fprintf(&b, "\n[%s] %s\n", cat.Category, cat.Status)
		for _, check := range cat.Checks {
			if check.Status == StatusHealthy {
				continue
			}
			fmt.Fprintf(&b, "  - %s: %s", check.Name, check.Status)
			if check.Err != "" {
				fmt.Fprintf(&b, " (%s)", check.Err)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// HasIssues reports whether any check in the report is worse than healthy.
func (r *HealthReport) HasIssues() bool {
	return r.Summary.Critical > 0 || r.Summary.Unhealthy > 0 || r.Summary.Warning > 0
}
