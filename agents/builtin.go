package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"watchtower/baseline"
	"watchtower/config"
	"watchtower/core"
	"watchtower/correlate"
	"watchtower/health"
	"watchtower/notify"
	"watchtower/smoke"
)

// SampleRecorder persists run metrics so the baseline service can learn
// from them.
type SampleRecorder interface {
	InsertSample(ctx context.Context, sample core.MetricSample) error
}

// recordSample persists one run metric, swallowing failures: losing a
// sample must never fail the agent run that produced it.
func recordSample(ctx context.Context, recorder SampleRecorder, logger *zap.SugaredLogger, agent, action string, values map[string]float64) {
	if recorder == nil {
		return
	}
	sample := core.MetricSample{
		AgentName:  agent,
		Action:     action,
		Metrics:    values,
		RecordedAt: time.Now().UTC(),
	}
	if err := recorder.InsertSample(ctx, sample); err != nil {
		logger.Warnw("Failed to record run sample", "agent", agent, "error", err)
	}
}

// HealthAgent runs the full health check, evaluates alerts, and records
// the run metrics for baselining.
type HealthAgent struct {
	reporter   *health.Reporter
	dispatcher *notify.Dispatcher
	recorder   SampleRecorder
	logger     *zap.SugaredLogger
}

// NewHealthAgent wires the full-health-check agent. dispatcher and
// recorder may be nil.
func NewHealthAgent(reporter *health.Reporter, dispatcher *notify.Dispatcher, recorder SampleRecorder, logger *zap.SugaredLogger) *HealthAgent {
	return &HealthAgent{reporter: reporter, dispatcher: dispatcher, recorder: recorder, logger: logger}
}

// Descriptor implements core.SharedAgent.
func (a *HealthAgent) Descriptor() core.AgentDescriptor {
	return core.AgentDescriptor{
		Name:     "health-reporter",
		Label:    "Platform health check",
		Category: "health",
		Version:  "1.0",
	}
}

// Execute implements core.SharedAgent.
func (a *HealthAgent) Execute(ctx context.Context) error {
	report := a.reporter.RunFull(ctx)

	if a.dispatcher != nil {
		a.dispatcher.EvaluateReport(ctx, report)
	}

	recordSample(ctx, a.recorder, a.logger, "health-reporter", "full_check", map[string]float64{
		"execution_ms":    float64(report.ExecutionMS),
		"warning_count":   float64(report.Summary.Warning),
		"unhealthy_count": float64(report.Summary.Unhealthy),
		"critical_count":  float64(report.Summary.Critical),
	})

	if report.Overall == core.StatusCritical {
		return fmt.Errorf("platform health is critical:\n%s", report.Describe())
	}
	return nil
}

// QuickHealthAgent runs the cheap high-frequency subset.
type QuickHealthAgent struct {
	reporter   *health.Reporter
	dispatcher *notify.Dispatcher
}

// NewQuickHealthAgent wires the quick-check agent.
func NewQuickHealthAgent(reporter *health.Reporter, dispatcher *notify.Dispatcher) *QuickHealthAgent {
	return &QuickHealthAgent{reporter: reporter, dispatcher: dispatcher}
}

// Descriptor implements core.SharedAgent.
func (a *QuickHealthAgent) Descriptor() core.AgentDescriptor {
	return core.AgentDescriptor{
		Name:     "quick-health",
		Label:    "Quick health check",
		Category: "health",
		Version:  "1.0",
	}
}

// Execute implements core.SharedAgent.
func (a *QuickHealthAgent) Execute(ctx context.Context) error {
	report := a.reporter.RunQuick(ctx)
	if a.dispatcher != nil {
		a.dispatcher.EvaluateReport(ctx, report)
	}
	if report.Overall.Rank() >= core.StatusUnhealthy.Rank() {
		return fmt.Errorf("quick check is %s", report.Overall)
	}
	return nil
}

// BaselineAgent runs the nightly anomaly checklist and auto-closes
// anomaly issues whose trigger is no longer observed.
type BaselineAgent struct {
	service *baseline.Service
	tracker *core.IssueTracker
	logger  *zap.SugaredLogger
}

// NewBaselineAgent wires the anomaly-detection agent. tracker may be nil
// to skip auto-closing.
func NewBaselineAgent(service *baseline.Service, tracker *core.IssueTracker, logger *zap.SugaredLogger) *BaselineAgent {
	return &BaselineAgent{service: service, tracker: tracker, logger: logger}
}

// Descriptor implements core.SharedAgent.
func (a *BaselineAgent) Descriptor() core.AgentDescriptor {
	return core.AgentDescriptor{
		Name:     "baseline-detector",
		Label:    "Baseline anomaly detection",
		Category: "anomaly",
		Version:  "1.0",
	}
}

// Execute implements core.SharedAgent.
func (a *BaselineAgent) Execute(ctx context.Context) error {
	findings, unevaluated := a.service.RunChecklist(ctx, baseline.DefaultChecklist)

	if a.tracker == nil {
		return nil
	}

	// Fingerprints still anomalous this run, grouped by agent. Entries
	// that could not be evaluated keep their fingerprints active too: an
	// unobservable metric is not a recovered one. Everything else in the
	// anomaly category auto-closes.
	activeByAgent := map[string][]string{}
	seenAgents := map[string]struct{}{}
	for _, entry := range baseline.DefaultChecklist {
		seenAgents[entry.AgentName] = struct{}{}
	}
	for _, finding := range findings {
		if finding.Result.IsAnomaly {
			agent := finding.Entry.AgentName
			activeByAgent[agent] = append(activeByAgent[agent], core.Fingerprint(agent, finding.Entry.MetricPath))
		}
	}
	for _, entry := range unevaluated {
		activeByAgent[entry.AgentName] = append(activeByAgent[entry.AgentName],
			core.Fingerprint(entry.AgentName, entry.MetricPath))
	}

	for agent := range seenAgents {
		if _, err := a.tracker.AutoClose(ctx, agent, "anomaly", activeByAgent[agent]); err != nil {
			a.logger.Errorw("Failed to auto-close anomaly issues", "agent", agent, "error", err)
		}
	}
	return nil
}

// SmokeAgent runs the per-tenant synthetic suite.
type SmokeAgent struct {
	runner   *smoke.Runner
	cfg      *config.Config
	recorder SampleRecorder
	logger   *zap.SugaredLogger
}

// NewSmokeAgent wires the smoke-test agent.
func NewSmokeAgent(runner *smoke.Runner, cfg *config.Config, recorder SampleRecorder, logger *zap.SugaredLogger) *SmokeAgent {
	return &SmokeAgent{runner: runner, cfg: cfg, recorder: recorder, logger: logger}
}

// Descriptor implements core.DestinationAwareAgent.
func (a *SmokeAgent) Descriptor() core.AgentDescriptor {
	return core.AgentDescriptor{
		Name:             "smoke-runner",
		Label:            "Synthetic smoke tests",
		Category:         "testing",
		Version:          "1.0",
		DestinationAware: true,
	}
}

// RunForDestination implements core.DestinationAwareAgent.
func (a *SmokeAgent) RunForDestination(ctx context.Context, dest core.Destination) error {
	destCfg, ok := a.cfg.DestinationConfig(dest.ID)
	if !ok {
		return fmt.Errorf("destination %q has no endpoint configuration", dest.ID)
	}

	report := a.runner.RunDestination(ctx, destCfg)

	recordSample(ctx, a.recorder, a.logger, "smoke-runner", "suite", map[string]float64{
		"failed_count": float64(report.TestsFailed),
		"total_count":  float64(report.TestsTotal),
	})

	if report.TestsFailed > 0 {
		return fmt.Errorf("%d of %d smoke tests failed: %v",
			report.TestsFailed, report.TestsTotal, report.Failures)
	}
	return nil
}

// CorrelationAgent runs the weekly cross-agent correlation heuristics.
type CorrelationAgent struct {
	engine     *correlate.Engine
	dispatcher *notify.Dispatcher
}

// NewCorrelationAgent wires the correlation agent.
func NewCorrelationAgent(engine *correlate.Engine, dispatcher *notify.Dispatcher) *CorrelationAgent {
	return &CorrelationAgent{engine: engine, dispatcher: dispatcher}
}

// Descriptor implements core.SharedAgent.
func (a *CorrelationAgent) Descriptor() core.AgentDescriptor {
	return core.AgentDescriptor{
		Name:     "correlation-engine",
		Label:    "Cross-agent correlation",
		Category: "analysis",
		Version:  "1.0",
	}
}

// Execute implements core.SharedAgent.
func (a *CorrelationAgent) Execute(ctx context.Context) error {
	report := a.engine.Run(ctx)

	if a.dispatcher != nil {
		for _, correlation := range report.Correlations {
			a.dispatcher.Dispatch(ctx, notify.Alert{
				Key:      fmt.Sprintf("correlation:%s", correlation.Kind),
				Status:   statusForSeverity(correlation.Severity),
				Subject:  fmt.Sprintf("Correlation found: %s", correlation.Kind),
				Message:  correlation.Description,
				Category: "analysis",
			})
		}
	}
	return nil
}

// statusForSeverity maps issue severities onto check statuses so the
// dispatcher's urgency table applies.
func statusForSeverity(severity core.Severity) core.Status {
	switch severity {
	case core.SeverityCritical:
		return core.StatusCritical
	case core.SeverityHigh:
		return core.StatusUnhealthy
	case core.SeverityMedium:
		return core.StatusWarning
	default:
		return core.StatusDegraded
	}
}
