package agents

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"watchtower/core"
)

// entry is one registered agent; exactly one of shared or destination is
// set.
type entry struct {
	descriptor  core.AgentDescriptor
	shared      core.SharedAgent
	destination core.DestinationAwareAgent
}

// Registry is a static catalog of wrapped agents keyed by name. It is
// populated at startup and read-only afterwards.
type Registry struct {
	runner  *Runner
	entries map[string]entry
	logger  *zap.SugaredLogger
}

// NewRegistry creates an empty registry driven by the given runner.
func NewRegistry(runner *Runner, logger *zap.SugaredLogger) *Registry {
	return &Registry{runner: runner, entries: make(map[string]entry), logger: logger}
}

// RegisterShared adds a shared agent under its descriptor name.
func (r *Registry) RegisterShared(agent core.SharedAgent) {
	desc := agent.Descriptor()
	r.entries[desc.Name] = entry{descriptor: desc, shared: agent}
}

// RegisterDestinationAware adds a destination-aware agent under its
// descriptor name.
func (r *Registry) RegisterDestinationAware(agent core.DestinationAwareAgent) {
	desc := agent.Descriptor()
	r.entries[desc.Name] = entry{descriptor: desc, destination: agent}
}

// List returns the descriptors of all registered agents, sorted by name.
func (r *Registry) List() []core.AgentDescriptor {
	descriptors := make([]core.AgentDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		descriptors = append(descriptors, e.descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// Run executes one agent by name. destinationID applies only to
// destination-aware agents; shared agents ignore it.
func (r *Registry) Run(ctx context.Context, name, destinationID string) (*core.AggregatedAgentRun, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("no agent registered under %q", name)
	}

	if e.shared != nil {
		return r.runner.RunShared(ctx, e.shared), nil
	}
	if destinationID == "" {
		destinationID = core.RunAllDestinations
	}
	return r.runner.RunForDestination(ctx, e.destination, destinationID)
}

// RunAll executes every registered agent in name order. Per-agent failures
// are isolated: a broken agent yields a failed run entry and the batch
// continues.
func (r *Registry) RunAll(ctx context.Context) []*core.AggregatedAgentRun {
	runs := make([]*core.AggregatedAgentRun, 0, len(r.entries))
	for _, desc := range r.List() {
		run, err := r.Run(ctx, desc.Name, core.RunAllDestinations)
		if err != nil {
			r.logger.Errorw("Agent batch entry failed", "agent", desc.Name, "error", err)
			runs = append(runs, &core.AggregatedAgentRun{
				AgentName: desc.Name,
				Category:  desc.Category,
				Version:   desc.Version,
				Err:       err.Error(),
			})
			continue
		}
		runs = append(runs, run)
	}
	return runs
}
