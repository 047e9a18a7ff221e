// Package checks contains the probe suite: independent, bounded, timed
// I/O calls per domain. A probe never returns an error outward; every
// failure becomes a CheckResult with status error or unhealthy.
package checks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"watchtower/core"
	"watchtower/metrics"
)

// Checker runs the probes of one category.
type Checker interface {
	Category() string
	Run(ctx context.Context) []core.CheckResult
}

// probeFunc performs one bounded I/O call and classifies its outcome.
// Returning an error yields an error-status result regardless of status.
type probeFunc func(ctx context.Context) (core.Status, map[string]float64, error)

// probe is a named probeFunc with its own timeout.
type probe struct {
	name    string
	timeout time.Duration
	run     probeFunc
}

// execute runs one probe under its timeout, converting panics and errors
// into failed results and recording metrics. This is the single wrapper
// every probe goes through.
func execute(ctx context.Context, category string, p probe) (result core.CheckResult) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = core.FailedResult(p.name, category, started, fmt.Errorf("probe panicked: %v", r))
		}
		metrics.ChecksRun.WithLabelValues(category, string(result.Status)).Inc()
		metrics.CheckDuration.WithLabelValues(category).Observe(time.Since(started).Seconds())
	}()

	timeout := p.timeout
	if timeout <= 0 {
		timeout = core.ProbeTimeoutDefault
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, values, err := p.run(ctx)
	if err != nil {
		return core.FailedResult(p.name, category, started, err)
	}

	return core.CheckResult{
		Name:      p.name,
		Category:  category,
		Status:    status,
		LatencyMS: time.Since(started).Milliseconds(),
		Timestamp: time.Now().UTC(),
		Metrics:   values,
	}
}

// executeAll fans the probes out concurrently and collects their results
// in declaration order. Probes share no mutable state, so one failing
// probe cannot corrupt another's result.
func executeAll(ctx context.Context, category string, probes []probe) []core.CheckResult {
	results := make([]core.CheckResult, len(probes))

	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			results[i] = execute(ctx, category, p)
		}(i, p)
	}
	wg.Wait()

	return results
}
