// Package sched binds the registered agents to their cron cadences.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"watchtower/agents"
	"watchtower/config"
	"watchtower/core"
)

// Scheduler drives the periodic agent runs: quick checks every few
// minutes, the full suite hourly, baselines and smoke daily, correlation
// weekly.
type Scheduler struct {
	cron     *cron.Cron
	registry *agents.Registry
	cfg      *config.Config
	logger   *zap.SugaredLogger
}

// NewScheduler creates a stopped scheduler bound to the registry.
func NewScheduler(registry *agents.Registry, cfg *config.Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start registers the configured cadences and starts the cron loop.
func (s *Scheduler) Start() error {
	bindings := []struct {
		spec  string
		agent string
	}{
		{s.cfg.Scheduler.QuickCron, "quick-health"},
		{s.cfg.Scheduler.FullCron, "health-reporter"},
		{s.cfg.Scheduler.BaselineCron, "baseline-detector"},
		{s.cfg.Scheduler.SmokeCron, "smoke-runner"},
		{s.cfg.Scheduler.CorrelationCron, "correlation-engine"},
	}

	for _, b := range bindings {
		if b.spec == "" {
			continue
		}
		agentName := b.agent
		if _, err := s.cron.AddFunc(b.spec, func() { s.runAgent(agentName) }); err != nil {
			return fmt.Errorf("failed to schedule %s with spec %q: %w", agentName, b.spec, err)
		}
		s.logger.Infow("Scheduled agent", "agent", agentName, "cron", b.spec)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("Timed out waiting for scheduled jobs to finish")
	}
}

func (s *Scheduler) runAgent(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	run, err := s.registry.Run(ctx, name, core.RunAllDestinations)
	if err != nil {
		s.logger.Errorw("Scheduled agent run failed to start", "agent", name, "error", err)
		return
	}
	if !run.Success {
		s.logger.Warnw("Scheduled agent run reported failures",
			"agent", name, "run_id", run.RunID, "failed", run.DestinationsFailed)
	}
}
