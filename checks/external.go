package checks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"watchtower/config"
	"watchtower/core"
)

// ExternalChecker probes third-party dependency status endpoints. An
// authentication-rejected but reachable response still counts as healthy:
// the check verifies connectivity, not credentials.
type ExternalChecker struct {
	endpoints []config.Endpoint
	client    *http.Client
	logger    *zap.SugaredLogger
}

// NewExternalChecker creates the external-dependency checker.
func NewExternalChecker(endpoints []config.Endpoint, logger *zap.SugaredLogger) *ExternalChecker {
	return &ExternalChecker{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: core.ProbeTimeoutDefault,
		},
		logger: logger,
	}
}

// Category implements Checker.
func (c *ExternalChecker) Category() string { return core.CategoryExternal }

// Run probes every configured dependency concurrently.
func (c *ExternalChecker) Run(ctx context.Context) []core.CheckResult {
	probes := make([]probe, len(c.endpoints))
	for i, ep := range c.endpoints {
		probes[i] = probe{
			name:    ep.Name,
			timeout: core.ProbeTimeoutDefault,
			run:     c.dependencyProbe(ep.URL),
		}
	}
	return executeAll(ctx, core.CategoryExternal, probes)
}

// PrimaryResult probes only the first configured dependency; used by the
// quick check.
func (c *ExternalChecker) PrimaryResult(ctx context.Context) core.CheckResult {
	if len(c.endpoints) == 0 {
		return core.CheckResult{
			Name:      "primary",
			Category:  core.CategoryExternal,
			Status:    core.StatusHealthy,
			Timestamp: time.Now().UTC(),
		}
	}
	ep := c.endpoints[0]
	return execute(ctx, core.CategoryExternal, probe{
		name:    ep.Name,
		timeout: core.ProbeTimeoutDefault,
		run:     c.dependencyProbe(ep.URL),
	})
}

func (c *ExternalChecker) dependencyProbe(url string) probeFunc {
	return func(ctx context.Context) (core.Status, map[string]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return core.StatusError, nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("User-Agent", "Watchtower/1.0")

		started := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return core.StatusUnhealthy, nil, fmt.Errorf("dependency unreachable: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		values := map[string]float64{
			"status_code": float64(resp.StatusCode),
			"latency_ms":  float64(time.Since(started).Milliseconds()),
		}

		switch {
		case resp.StatusCode < 400:
			return core.StatusHealthy, values, nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			// Reachable, credentials rejected: connectivity is fine.
			return core.StatusHealthy, values, nil
		default:
			return core.StatusUnhealthy, values, nil
		}
	}
}
