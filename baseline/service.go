// Package baseline computes rolling statistical baselines from persisted
// run metrics and flags values that deviate from them.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"watchtower/core"
	"watchtower/metrics"
	"watchtower/storage"
)

// anomalyThreshold is the z-score magnitude beyond which a value is
// anomalous; severeThreshold escalates the raised issue to high severity.
const (
	anomalyThreshold = 2.0
	severeThreshold  = 3.0
)

// SampleSource provides historical metric samples, newest first.
type SampleSource interface {
	RecentSamples(ctx context.Context, agentName, action string, limit int) ([]core.MetricSample, error)
}

// IssueRaiser records deduplicated issues for detected anomalies.
type IssueRaiser interface {
	Raise(ctx context.Context, spec core.IssueSpec) (*core.AgentIssue, error)
}

// ChecklistEntry names one (agent, action, metric) tuple the batch routine
// evaluates.
type ChecklistEntry struct {
	AgentName  string
	Action     string
	MetricPath string
	Label      string
}

// Finding is the outcome of evaluating one checklist entry.
type Finding struct {
	Entry    ChecklistEntry
	Value    float64
	Baseline core.Baseline
	Result   core.AnomalyResult
}

// Service computes baselines on demand and runs the anomaly checklist.
type Service struct {
	samples SampleSource
	issues  IssueRaiser
	logger  *zap.SugaredLogger
}

// NewService creates the baseline service. issues may be nil when callers
// only want Calculate and Detect without issue tracking.
func NewService(samples SampleSource, issues IssueRaiser, logger *zap.SugaredLogger) *Service {
	return &Service{samples: samples, issues: issues, logger: logger}
}

// Calculate builds the baseline for (agent, action, metric) from the most
// recent samples. It needs at least core.BaselineMinSamples valid values,
// otherwise core.ErrInsufficientData is returned.
func (s *Service) Calculate(ctx context.Context, agentName, action, metricPath string) (*core.Baseline, error) {
	samples, err := s.samples.RecentSamples(ctx, agentName, action, core.BaselineWindow)
	if err != nil {
		if errors.Is(err, storage.ErrNoSamples) {
			return nil, fmt.Errorf("%s/%s has no recorded samples: %w", agentName, action, core.ErrInsufficientData)
		}
		return nil, fmt.Errorf("failed to load samples for %s/%s: %w", agentName, action, err)
	}
	return BaselineOf(agentName, action, metricPath, samples)
}

// BaselineOf computes the baseline statistics over the given samples.
func BaselineOf(agentName, action, metricPath string, samples []core.MetricSample) (*core.Baseline, error) {
	values := extractValues(samples, metricPath)
	if len(values) < core.BaselineMinSamples {
		return nil, fmt.Errorf("%s/%s metric %s has %d valid samples: %w",
			agentName, action, metricPath, len(values), core.ErrInsufficientData)
	}

	var sum float64
	min, max := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return &core.Baseline{
		AgentName:   agentName,
		Action:      action,
		MetricPath:  metricPath,
		Mean:        mean,
		StdDev:      math.Sqrt(variance),
		Min:         min,
		Max:         max,
		SampleCount: len(values),
	}, nil
}

// Detect compares a value against the baseline. A zero standard deviation
// means every historical value was identical; nothing is flagged then, no
// matter how far the value strays.
func Detect(b *core.Baseline, value float64) core.AnomalyResult {
	result := core.AnomalyResult{
		Direction:      core.DirectionNone,
		ThresholdUpper: b.Mean + anomalyThreshold*b.StdDev,
		ThresholdLower: b.Mean - anomalyThreshold*b.StdDev,
	}

	if b.StdDev == 0 {
		return result
	}

	z := (value - b.Mean) / b.StdDev
	result.Deviation = z

	if math.Abs(z) > anomalyThreshold {
		result.IsAnomaly = true
		if z > 0 {
			result.Direction = core.DirectionAboveNormal
		} else {
			result.Direction = core.DirectionBelowNormal
		}
	}
	return result
}

// RunChecklist evaluates every entry against its baseline and raises a
// deduplicated issue per anomaly. Entries are independent: an error on one
// is logged and the rest still run. The second return value lists the
// entries that could not be evaluated; callers must not treat those as
// recovered.
func (s *Service) RunChecklist(ctx context.Context, entries []ChecklistEntry) ([]Finding, []ChecklistEntry) {
	var findings []Finding
	var unevaluated []ChecklistEntry

	for _, entry := range entries {
		finding, err := s.evaluate(ctx, entry)
		if err != nil {
			if errors.Is(err, core.ErrInsufficientData) {
				s.logger.Debugw("Skipping baseline entry, not enough history",
					"agent", entry.AgentName, "metric", entry.MetricPath)
			} else {
				s.logger.Errorw("Baseline evaluation failed",
					"agent", entry.AgentName, "metric", entry.MetricPath, "error", err)
			}
			unevaluated = append(unevaluated, entry)
			continue
		}
		findings = append(findings, *finding)

		if !finding.Result.IsAnomaly {
			continue
		}
		metrics.AnomaliesDetected.WithLabelValues(entry.AgentName, entry.MetricPath).Inc()
		s.raiseAnomalyIssue(ctx, *finding)
	}

	return findings, unevaluated
}

// evaluate fetches one extra sample beyond the window: the newest one is
// the value under test, the rest form its baseline.
func (s *Service) evaluate(ctx context.Context, entry ChecklistEntry) (*Finding, error) {
	samples, err := s.samples.RecentSamples(ctx, entry.AgentName, entry.Action, core.BaselineWindow+1)
	if err != nil {
		if errors.Is(err, storage.ErrNoSamples) {
			return nil, fmt.Errorf("no samples recorded: %w", core.ErrInsufficientData)
		}
		return nil, fmt.Errorf("failed to load samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples recorded: %w", core.ErrInsufficientData)
	}

	latest, ok := metricValue(samples[0], entry.MetricPath)
	if !ok {
		return nil, fmt.Errorf("latest sample is missing metric %s: %w", entry.MetricPath, core.ErrInsufficientData)
	}

	base, err := BaselineOf(entry.AgentName, entry.Action, entry.MetricPath, samples[1:])
	if err != nil {
		return nil, err
	}

	return &Finding{
		Entry:    entry,
		Value:    latest,
		Baseline: *base,
		Result:   Detect(base, latest),
	}, nil
}

func (s *Service) raiseAnomalyIssue(ctx context.Context, finding Finding) {
	if s.issues == nil {
		return
	}

	severity := core.SeverityMedium
	if math.Abs(finding.Result.Deviation) > severeThreshold {
		severity = core.SeverityHigh
	}

	label := finding.Entry.Label
	if label == "" {
		label = finding.Entry.MetricPath
	}

	_, err := s.issues.Raise(ctx, core.IssueSpec{
		AgentName:   finding.Entry.AgentName,
		Severity:    severity,
		Category:    "anomaly",
		Title:       fmt.Sprintf("%s deviates from baseline", label),
		Description: describeAnomaly(finding),
		Details: map[string]string{
			"metric":    finding.Entry.MetricPath,
			"value":     fmt.Sprintf("%.2f", finding.Value),
			"mean":      fmt.Sprintf("%.2f", finding.Baseline.Mean),
			"std_dev":   fmt.Sprintf("%.2f", finding.Baseline.StdDev),
			"z_score":   fmt.Sprintf("%.2f", finding.Result.Deviation),
			"direction": string(finding.Result.Direction),
		},
		Fingerprint: core.Fingerprint(finding.Entry.AgentName, finding.Entry.MetricPath),
	})
	if err != nil {
		s.logger.Errorw("Failed to raise anomaly issue",
			"agent", finding.Entry.AgentName, "metric", finding.Entry.MetricPath, "error", err)
	}
}

func describeAnomaly(finding Finding) string {
	return fmt.Sprintf("%s/%s %s is %.2f, %.1f standard deviations %s the baseline mean %.2f (n=%d).",
		finding.Entry.AgentName, finding.Entry.Action, finding.Entry.MetricPath,
		finding.Value, math.Abs(finding.Result.Deviation),
		directionWord(finding.Result.Direction), finding.Baseline.Mean, finding.Baseline.SampleCount)
}

func directionWord(d core.AnomalyDirection) string {
	if d == core.DirectionBelowNormal {
		return "below"
	}
	return "above"
}

// extractValues pulls the finite values of one metric out of the samples.
func extractValues(samples []core.MetricSample, metricPath string) []float64 {
	values := make([]float64, 0, len(samples))
	for _, sample := range samples {
		if v, ok := metricValue(sample, metricPath); ok {
			values = append(values, v)
		}
	}
	return values
}

func metricValue(sample core.MetricSample, metricPath string) (float64, bool) {
	v, ok := sample.Metrics[metricPath]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
