// Package agents wraps monitoring routines in a uniform run surface with
// multi-tenant fan-out, failure isolation, and timing.
package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"watchtower/core"
	"watchtower/metrics"
)

// Runner gives any agent a uniform run(destinationID) without the agent
// knowing about multi-tenancy. Shared agents ignore the destination id;
// destination-aware agents fan out over the active tenant list when the
// id is "all".
type Runner struct {
	catalog core.DestinationCatalog
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewRunner creates a runner over the given tenant catalog.
func NewRunner(catalog core.DestinationCatalog, logger *zap.SugaredLogger) *Runner {
	return &Runner{catalog: catalog, logger: logger, now: time.Now}
}

// RunShared invokes a shared agent once.
func (r *Runner) RunShared(ctx context.Context, agent core.SharedAgent) *core.AggregatedAgentRun {
	desc := agent.Descriptor()
	run := r.newRun(desc)
	started := r.now()

	err := invoke(ctx, func(ctx context.Context) error { return agent.Execute(ctx) })

	run.DurationMS = r.now().Sub(started).Milliseconds()
	run.DestinationsTotal = 1
	if err != nil {
		run.Err = err.Error()
		run.DestinationsFailed = 1
		r.logger.Errorw("Agent run failed", "agent", desc.Name, "error", err)
	} else {
		run.Success = true
		run.DestinationsSucceeded = 1
	}

	r.record(run)
	return run
}

// RunForDestination invokes a destination-aware agent for one tenant, or
// for every active tenant when destinationID is "all". Each tenant's
// outcome is captured independently: one tenant failing, even by panic,
// never aborts the others.
func (r *Runner) RunForDestination(ctx context.Context, agent core.DestinationAwareAgent, destinationID string) (*core.AggregatedAgentRun, error) {
	desc := agent.Descriptor()
	run := r.newRun(desc)
	started := r.now()

	var targets []core.Destination
	if destinationID == core.RunAllDestinations {
		targets = r.catalog.ActiveDestinations()
	} else {
		dest, ok := r.catalog.DestinationByID(destinationID)
		if !ok {
			return nil, fmt.Errorf("unknown destination %q", destinationID)
		}
		targets = []core.Destination{dest}
	}

	for _, dest := range targets {
		destStarted := r.now()
		err := invoke(ctx, func(ctx context.Context) error { return agent.RunForDestination(ctx, dest) })

		result := core.DestinationResult{
			DestinationID: dest.ID,
			DurationMS:    r.now().Sub(destStarted).Milliseconds(),
		}
		if err != nil {
			result.Err = err.Error()
			run.DestinationsFailed++
			r.logger.Errorw("Agent run failed for destination",
				"agent", desc.Name, "destination", dest.ID, "error", err)
		} else {
			result.Success = true
			run.DestinationsSucceeded++
		}
		run.PerDestination = append(run.PerDestination, result)
	}

	run.DestinationsTotal = len(targets)
	run.DurationMS = r.now().Sub(started).Milliseconds()
	run.Success = run.DestinationsFailed == 0

	r.record(run)
	return run, nil
}

func (r *Runner) newRun(desc core.AgentDescriptor) *core.AggregatedAgentRun {
	return &core.AggregatedAgentRun{
		RunID:     uuid.NewString(),
		AgentName: desc.Name,
		Category:  desc.Category,
		Version:   desc.Version,
		Timestamp: r.now().UTC(),
	}
}

func (r *Runner) record(run *core.AggregatedAgentRun) {
	outcome := "success"
	if !run.Success {
		outcome = "failure"
	}
	metrics.AgentRuns.WithLabelValues(run.AgentName, outcome).Inc()
	metrics.AgentRunDuration.WithLabelValues(run.AgentName).Observe(float64(run.DurationMS) / 1000)

	r.logger.Infow("Agent run completed",
		"run_id", run.RunID,
		"agent", run.AgentName,
		"success", run.Success,
		"destinations", run.DestinationsTotal,
		"failed", run.DestinationsFailed,
		"duration_ms", run.DurationMS)
}

// invoke runs fn converting panics into errors so a broken agent cannot
// take down the batch.
func invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("agent panicked: %v", rec)
		}
	}()
	return fn(ctx)
}
