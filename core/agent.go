package core

import (
	"context"
	"time"
)

// Destination is a tenant deployment that destination-aware agents run
// against independently.
type Destination struct {
	ID   string `json:"id" mapstructure:"id"`
	Code string `json:"code" mapstructure:"code"`
	Name string `json:"name" mapstructure:"name"`
}

// DestinationCatalog resolves the tenants an agent fans out over.
type DestinationCatalog interface {
	ActiveDestinations() []Destination
	DestinationByID(id string) (Destination, bool)
}

// AgentDescriptor identifies an agent in the registry.
type AgentDescriptor struct {
	Name             string `json:"name"`
	Label            string `json:"label"`
	Category         string `json:"category"`
	Version          string `json:"version"`
	DestinationAware bool   `json:"destination_aware"`
}

// DestinationAwareAgent runs once per tenant. Implementations must not keep
// state across destinations; each invocation is independent.
type DestinationAwareAgent interface {
	Descriptor() AgentDescriptor
	RunForDestination(ctx context.Context, dest Destination) error
}

// SharedAgent runs a single shared execution regardless of tenant.
type SharedAgent interface {
	Descriptor() AgentDescriptor
	Execute(ctx context.Context) error
}

// DestinationResult captures one tenant's outcome inside an aggregated run.
type DestinationResult struct {
	DestinationID string `json:"destination_id"`
	Success       bool   `json:"success"`
	Err           string `json:"error,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
}

// AggregatedAgentRun is the uniform outcome of one agent invocation,
// shared or fanned out across tenants.
type AggregatedAgentRun struct {
	RunID                 string              `json:"run_id"`
	AgentName             string              `json:"agent_name"`
	Category              string              `json:"category"`
	Version               string              `json:"version"`
	Success               bool                `json:"success"`
	DestinationsTotal     int                 `json:"destinations_total"`
	DestinationsSucceeded int                 `json:"destinations_succeeded"`
	DestinationsFailed    int                 `json:"destinations_failed"`
	PerDestination        []DestinationResult `json:"per_destination,omitempty"`
	Err                   string              `json:"error,omitempty"`
	DurationMS            int64               `json:"duration_ms"`
	Timestamp             time.Time           `json:"timestamp"`
}

// RunAllDestinations is the sentinel destination id that fans an agent out
// over every active tenant.
const RunAllDestinations = "all"
