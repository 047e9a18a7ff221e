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

// Front-end latency escalation thresholds.
const (
	frontendDegradedAfter = 5 * time.Second
	frontendWarningAfter  = 3 * time.Second
)

// FrontendChecker probes every active destination's public front-end.
// Escalation is latency-based: a slow but successful page is degraded or
// warning, a 4xx/5xx response is unhealthy.
type FrontendChecker struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.SugaredLogger
}

// NewFrontendChecker creates the public front-end checker.
func NewFrontendChecker(cfg *config.Config, logger *zap.SugaredLogger) *FrontendChecker {
	return &FrontendChecker{
		cfg: cfg,
		client: &http.Client{
			Timeout: core.ProbeTimeoutLong,
		},
		logger: logger,
	}
}

// Category implements Checker.
func (c *FrontendChecker) Category() string { return core.CategoryFrontend }

// Run probes the front-end of every active destination concurrently.
func (c *FrontendChecker) Run(ctx context.Context) []core.CheckResult {
	var probes []probe
	for _, dest := range c.cfg.Destinations {
		if !dest.Active {
			continue
		}
		probes = append(probes, probe{
			name:    fmt.Sprintf("frontend_%s", dest.Code),
			timeout: core.ProbeTimeoutLong,
			run:     c.frontendProbe(dest.FrontendURL),
		})
	}
	return executeAll(ctx, core.CategoryFrontend, probes)
}

func (c *FrontendChecker) frontendProbe(url string) probeFunc {
	return func(ctx context.Context) (core.Status, map[string]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return core.StatusError, nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("User-Agent", "Watchtower/1.0")

		started := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return core.StatusUnhealthy, nil, fmt.Errorf("frontend unreachable: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 16384))
		elapsed := time.Since(started)

		values := map[string]float64{
			"status_code": float64(resp.StatusCode),
			"latency_ms":  float64(elapsed.Milliseconds()),
		}

		return ClassifyFrontend(resp.StatusCode, elapsed), values, nil
	}
}

// ClassifyFrontend maps a front-end response to a status. Error responses
// are unhealthy regardless of speed; successful responses escalate on
// latency alone.
func ClassifyFrontend(statusCode int, latency time.Duration) core.Status {
	switch {
	case statusCode >= 400:
		return core.StatusUnhealthy
	case latency > frontendDegradedAfter:
		return core.StatusDegraded
	case latency > frontendWarningAfter:
		return core.StatusWarning
	default:
		return core.StatusHealthy
	}
}
