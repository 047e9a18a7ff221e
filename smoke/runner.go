// Package smoke runs strictly read-only synthetic tests against tenant
// deployments and shared infrastructure. Nothing here mutates state or
// sends real messages.
package smoke

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"watchtower/config"
	"watchtower/core"
)

// CacheInfra is the shared cache surface the infrastructure tests probe.
type CacheInfra interface {
	HealthCheck(ctx context.Context) error
	ScheduledJobCount(ctx context.Context) (int64, error)
}

// DocumentInfra is the shared document-store surface.
type DocumentInfra interface {
	DBStats(ctx context.Context) (map[string]interface{}, error)
}

// ReportSink persists smoke reports.
type ReportSink interface {
	SaveSmokeReport(ctx context.Context, report *core.SmokeTestReport) error
}

// Runner executes the synthetic test suite.
type Runner struct {
	cfg    *config.Config
	cache  CacheInfra
	docs   DocumentInfra
	sink   ReportSink
	client *http.Client
	logger *zap.SugaredLogger
	now    func() time.Time

	// lookupEnv is swappable so the passive config check is testable.
	lookupEnv func(string) (string, bool)
}

// NewRunner wires the smoke-test runner. sink may be nil to skip
// persistence.
func NewRunner(cfg *config.Config, cache CacheInfra, docs DocumentInfra, sink ReportSink, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		cfg:   cfg,
		cache: cache,
		docs:  docs,
		sink:  sink,
		client: &http.Client{
			Timeout: core.ProbeTimeoutDefault,
		},
		logger:    logger,
		now:       time.Now,
		lookupEnv: os.LookupEnv,
	}
}

// Run executes the full suite: every active destination, the shared
// infrastructure tests, and the passive configuration checks. The report
// is persisted when a sink is configured.
func (r *Runner) Run(ctx context.Context) *core.SmokeTestReport {
	report := &core.SmokeTestReport{GeneratedAt: r.now().UTC()}

	for _, dest := range r.cfg.Destinations {
		if !dest.Active {
			continue
		}
		report.Destinations = append(report.Destinations, r.RunDestination(ctx, dest))
	}

	report.Shared = r.runShared(ctx)
	report.ConfigChecks = []core.ConfigCheckResult{r.smsConfigCheck()}

	if r.sink != nil {
		if err := r.sink.SaveSmokeReport(ctx, report); err != nil {
			r.logger.Warnw("Failed to persist smoke report", "error", err)
		}
	}

	passed, failed := report.Totals()
	r.logger.Infow("Smoke run completed", "passed", passed, "failed", failed)
	return report
}

// RunDestination executes the per-tenant suite: health, resource list,
// first resource detail, its ticket sub-resource, and the public
// front-end. Detail and ticket tests depend on the list call; when the
// list fails they are marked skipped rather than attempted, and those
// skips count against the failed total. An empty list also skips them,
// without counting as failures.
func (r *Runner) RunDestination(ctx context.Context, dest config.Destination) core.DestinationSmokeReport {
	report := core.DestinationSmokeReport{DestinationID: dest.ID}

	report.Add(r.timed("health_endpoint", func() error {
		return r.getOK(ctx, dest.BaseURL+r.cfg.Smoke.HealthPath)
	}))

	var firstBookingID string
	listResult := r.timed("bookings_list", func() error {
		id, err := r.fetchFirstBookingID(ctx, dest.BaseURL+r.cfg.Smoke.BookingsPath)
		firstBookingID = id
		return err
	})
	report.Add(listResult)

	switch {
	case listResult.Outcome != core.SmokePassed:
		report.Add(blockedSkip("booking_detail"))
		report.Add(blockedSkip("booking_tickets"))
	case firstBookingID == "":
		report.Add(emptySkip("booking_detail"))
		report.Add(emptySkip("booking_tickets"))
	default:
		report.Add(r.timed("booking_detail", func() error {
			return r.getOK(ctx, fmt.Sprintf("%s%s/%s", dest.BaseURL, r.cfg.Smoke.BookingsPath, firstBookingID))
		}))
		report.Add(r.timed("booking_tickets", func() error {
			return r.getOK(ctx, dest.BaseURL+fmt.Sprintf(r.cfg.Smoke.TicketsPath, firstBookingID))
		}))
	}

	report.Add(r.timed("frontend", func() error {
		return r.checkFrontend(ctx, dest.FrontendURL)
	}))

	return report
}

// runShared executes the once-per-run infrastructure tests.
func (r *Runner) runShared(ctx context.Context) []core.SmokeResult {
	return []core.SmokeResult{
		r.timed("cache_liveness", func() error {
			return r.cache.HealthCheck(ctx)
		}),
		r.timed("document_store_stats", func() error {
			stats, err := r.docs.DBStats(ctx)
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				return fmt.Errorf("document store returned empty stats")
			}
			return nil
		}),
		r.timed("scheduled_jobs", func() error {
			count, err := r.cache.ScheduledJobCount(ctx)
			if err != nil {
				return err
			}
			if count < r.cfg.Smoke.ExpectedMinJobs {
				return fmt.Errorf("only %d scheduled jobs registered, expected at least %d",
					count, r.cfg.Smoke.ExpectedMinJobs)
			}
			return nil
		}),
	}
}

// smsConfigCheck verifies the SMS channel secrets exist without sending
// anything. The channel costs money per message, so this never goes
// further than the environment.
func (r *Runner) smsConfigCheck() core.ConfigCheckResult {
	result := core.ConfigCheckResult{Channel: "sms", State: core.ConfigCheckConfigured}
	for _, name := range r.cfg.Smoke.SMSSecretVars {
		if value, ok := r.lookupEnv(name); !ok || value == "" {
			result.Missing = append(result.Missing, name)
		}
	}
	if len(result.Missing) > 0 {
		result.State = core.ConfigCheckNotConfigured
	}
	return result
}

// timed runs one test through the common timing and error-capturing
// wrapper; a panic or error becomes a failed result, never an abort.
func (r *Runner) timed(name string, fn func() error) (result core.SmokeResult) {
	started := r.now()
	result = core.SmokeResult{Name: name}

	defer func() {
		result.DurationMS = r.now().Sub(started).Milliseconds()
		if rec := recover(); rec != nil {
			result.Outcome = core.SmokeFailed
			result.Err = fmt.Sprintf("test panicked: %v", rec)
		}
	}()

	if err := fn(); err != nil {
		result.Outcome = core.SmokeFailed
		result.Err = err.Error()
		return result
	}
	result.Outcome = core.SmokePassed
	return result
}

// blockedSkip marks a test that could not run because the test it
// depends on failed. The recorded error makes it count as failed.
func blockedSkip(name string) core.SmokeResult {
	return core.SmokeResult{Name: name, Outcome: core.SmokeSkipped, Err: "dependency test failed"}
}

// emptySkip marks a test with nothing to exercise.
func emptySkip(name string) core.SmokeResult {
	return core.SmokeResult{Name: name, Outcome: core.SmokeSkipped}
}

// getOK issues a GET and requires a 2xx response.
func (r *Runner) getOK(ctx context.Context, url string) error {
	resp, err := r.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 65536))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}
	return nil
}

// fetchFirstBookingID lists bookings and returns the id of the first one.
// An empty list passes with no id; the dependent tests then skip.
func (r *Runner) fetchFirstBookingID(ctx context.Context, url string) (string, error) {
	resp, err := r.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}

	var bookings []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&bookings); err != nil {
		return "", fmt.Errorf("failed to decode bookings list: %w", err)
	}
	if len(bookings) == 0 {
		return "", nil
	}
	return bookings[0].ID, nil
}

// checkFrontend requires a 200 and a minimum body size as a crude
// non-blank-page signal.
func (r *Runner) checkFrontend(ctx context.Context, url string) error {
	resp, err := r.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("frontend returned %d", resp.StatusCode)
	}

	size, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read frontend body: %w", err)
	}
	if size < r.cfg.Smoke.MinBodyBytes {
		return fmt.Errorf("frontend body is %d bytes, below the %d-byte minimum", size, r.cfg.Smoke.MinBodyBytes)
	}
	return nil
}

func (r *Runner) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Watchtower/1.0")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
