package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"watchtower/core"
)

type staticCatalog struct {
	destinations []core.Destination
}

func (c staticCatalog) ActiveDestinations() []core.Destination { return c.destinations }

func (c staticCatalog) DestinationByID(id string) (core.Destination, bool) {
	for _, d := range c.destinations {
		if d.ID == id {
			return d, true
		}
	}
	return core.Destination{}, false
}

type scriptedAgent struct {
	desc     core.AgentDescriptor
	failFor  map[string]error
	panicFor map[string]string
	visited  []string
}

func (a *scriptedAgent) Descriptor() core.AgentDescriptor { return a.desc }

func (a *scriptedAgent) RunForDestination(ctx context.Context, dest core.Destination) error {
	a.visited = append(a.visited, dest.ID)
	if msg, ok := a.panicFor[dest.ID]; ok {
		panic(msg)
	}
	return a.failFor[dest.ID]
}

type sharedFunc struct {
	desc core.AgentDescriptor
	err  error
	runs int
}

func (a *sharedFunc) Descriptor() core.AgentDescriptor { return a.desc }

func (a *sharedFunc) Execute(ctx context.Context) error {
	a.runs++
	return a.err
}

func twoTenants() staticCatalog {
	return staticCatalog{destinations: []core.Destination{
		{ID: "alpine", Code: "ALP", Name: "Alpine Resort"},
		{ID: "coastal", Code: "CST", Name: "Coastal Resort"},
	}}
}

func TestRunAllFansOutOverActiveTenants(t *testing.T) {
	runner := NewRunner(twoTenants(), zap.NewNop().Sugar())
	agent := &scriptedAgent{desc: core.AgentDescriptor{Name: "smoke", Category: "testing", Version: "1.0", DestinationAware: true}}

	run, err := runner.RunForDestination(context.Background(), agent, core.RunAllDestinations)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpine", "coastal"}, agent.visited)
	assert.True(t, run.Success)
	assert.Equal(t, 2, run.DestinationsTotal)
	assert.Equal(t, 2, run.DestinationsSucceeded)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, "smoke", run.AgentName)
	assert.Equal(t, "1.0", run.Version)
}

func TestOneTenantFailureDoesNotAbortOthers(t *testing.T) {
	runner := NewRunner(twoTenants(), zap.NewNop().Sugar())
	agent := &scriptedAgent{
		desc:    core.AgentDescriptor{Name: "smoke", DestinationAware: true},
		failFor: map[string]error{"alpine": errors.New("timeout")},
	}

	run, err := runner.RunForDestination(context.Background(), agent, core.RunAllDestinations)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpine", "coastal"}, agent.visited)
	assert.False(t, run.Success)
	assert.Equal(t, 1, run.DestinationsFailed)
	assert.Equal(t, 1, run.DestinationsSucceeded)
	require.Len(t, run.PerDestination, 2)
	assert.Contains(t, run.PerDestination[0].Err, "timeout")
	assert.True(t, run.PerDestination[1].Success)
}

func TestTenantPanicIsCaptured(t *testing.T) {
	runner := NewRunner(twoTenants(), zap.NewNop().Sugar())
	agent := &scriptedAgent{
		desc:     core.AgentDescriptor{Name: "smoke", DestinationAware: true},
		panicFor: map[string]string{"alpine": "nil deref"},
	}

	run, err := runner.RunForDestination(context.Background(), agent, core.RunAllDestinations)
	require.NoError(t, err)

	assert.Equal(t, 1, run.DestinationsFailed)
	assert.Contains(t, run.PerDestination[0].Err, "nil deref")
	assert.True(t, run.PerDestination[1].Success)
}

func TestRunSingleDestination(t *testing.T) {
	runner := NewRunner(twoTenants(), zap.NewNop().Sugar())
	agent := &scriptedAgent{desc: core.AgentDescriptor{Name: "smoke", DestinationAware: true}}

	run, err := runner.RunForDestination(context.Background(), agent, "coastal")
	require.NoError(t, err)

	assert.Equal(t, []string{"coastal"}, agent.visited)
	assert.Equal(t, 1, run.DestinationsTotal)
}

func TestRunUnknownDestination(t *testing.T) {
	runner := NewRunner(twoTenants(), zap.NewNop().Sugar())
	agent := &scriptedAgent{desc: core.AgentDescriptor{Name: "smoke", DestinationAware: true}}

	_, err := runner.RunForDestination(context.Background(), agent, "atlantis")
	assert.Error(t, err)
}

func TestRunSharedIgnoresTenants(t *testing.T) {
	runner := NewRunner(twoTenants(), zap.NewNop().Sugar())
	agent := &sharedFunc{desc: core.AgentDescriptor{Name: "baseline", Category: "anomaly", Version: "1.0"}}

	run := runner.RunShared(context.Background(), agent)

	assert.Equal(t, 1, agent.runs)
	assert.True(t, run.Success)
	assert.Equal(t, 1, run.DestinationsTotal)
	assert.Empty(t, run.PerDestination)
}

func TestRegistryRunAllIsolatesAgentFailures(t *testing.T) {
	runner := NewRunner(twoTenants(), zap.NewNop().Sugar())
	registry := NewRegistry(runner, zap.NewNop().Sugar())

	registry.RegisterShared(&sharedFunc{desc: core.AgentDescriptor{Name: "a-broken"}, err: errors.New("boom")})
	registry.RegisterShared(&sharedFunc{desc: core.AgentDescriptor{Name: "b-fine"}})

	runs := registry.RunAll(context.Background())
	require.Len(t, runs, 2)
	assert.False(t, runs[0].Success)
	assert.True(t, runs[1].Success)
}

func TestRegistryLookup(t *testing.T) {
	runner := NewRunner(twoTenants(), zap.NewNop().Sugar())
	registry := NewRegistry(runner, zap.NewNop().Sugar())
	registry.RegisterDestinationAware(&scriptedAgent{desc: core.AgentDescriptor{Name: "smoke", DestinationAware: true}})

	_, err := registry.Run(context.Background(), "nope", "")
	assert.Error(t, err)

	run, err := registry.Run(context.Background(), "smoke", "")
	require.NoError(t, err)
	assert.Equal(t, 2, run.DestinationsTotal)

	descriptors := registry.List()
	require.Len(t, descriptors, 1)
	assert.Equal(t, "smoke", descriptors[0].Name)
}
