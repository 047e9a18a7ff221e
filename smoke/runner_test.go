package smoke

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"watchtower/config"
	"watchtower/core"
)

type fakeCache struct {
	pingErr error
	jobs    int64
	jobsErr error
}

func (f fakeCache) HealthCheck(ctx context.Context) error { return f.pingErr }

func (f fakeCache) ScheduledJobCount(ctx context.Context) (int64, error) { return f.jobs, f.jobsErr }

type fakeDocs struct {
	stats map[string]interface{}
	err   error
}

func (f fakeDocs) DBStats(ctx context.Context) (map[string]interface{}, error) { return f.stats, f.err }

type fakeSink struct {
	saved []*core.SmokeTestReport
}

func (f *fakeSink) SaveSmokeReport(ctx context.Context, report *core.SmokeTestReport) error {
	f.saved = append(f.saved, report)
	return nil
}

func smokeConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Smoke.HealthPath = "/api/health"
	cfg.Smoke.BookingsPath = "/api/bookings"
	cfg.Smoke.TicketsPath = "/api/bookings/%s/tickets"
	cfg.Smoke.MinBodyBytes = 100
	cfg.Smoke.ExpectedMinJobs = 3
	cfg.Smoke.SMSSecretVars = []string{"SMS_API_KEY", "SMS_API_SECRET"}
	return cfg
}

// tenantServer simulates a tenant API plus front-end on one listener.
func tenantServer(t *testing.T, listFails bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/api/bookings", func(w http.ResponseWriter, r *http.Request) {
		if listFails {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `[{"id":"bk-100"},{"id":"bk-101"}]`)
	})
	mux.HandleFunc("/api/bookings/bk-100", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"bk-100","guest":"A. Tester"}`)
	})
	mux.HandleFunc("/api/bookings/bk-100/tickets", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"tk-1"}]`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("<p>welcome</p>", 20))
	})
	return httptest.NewServer(mux)
}

func runnerFor(cfg *config.Config, cache CacheInfra, docs DocumentInfra, sink ReportSink) *Runner {
	r := NewRunner(cfg, cache, docs, sink, zap.NewNop().Sugar())
	r.lookupEnv = func(string) (string, bool) { return "", false }
	return r
}

func outcomes(report core.DestinationSmokeReport) map[string]core.SmokeOutcome {
	byName := map[string]core.SmokeOutcome{}
	for _, result := range report.Results {
		byName[result.Name] = result.Outcome
	}
	return byName
}

func TestDestinationSuiteAllPassing(t *testing.T) {
	server := tenantServer(t, false)
	defer server.Close()

	cfg := smokeConfig()
	dest := config.Destination{ID: "alpine", Code: "ALP", BaseURL: server.URL, FrontendURL: server.URL, Active: true}

	runner := runnerFor(cfg, fakeCache{jobs: 5}, fakeDocs{}, nil)
	report := runner.RunDestination(context.Background(), dest)

	assert.Equal(t, 5, report.TestsTotal)
	assert.Equal(t, 5, report.TestsPassed)
	assert.Zero(t, report.TestsFailed)
	assert.Empty(t, report.Failures)
}

func TestDependentTestsSkipWhenListFails(t *testing.T) {
	server := tenantServer(t, true)
	defer server.Close()

	cfg := smokeConfig()
	dest := config.Destination{ID: "alpine", BaseURL: server.URL, FrontendURL: server.URL, Active: true}

	runner := runnerFor(cfg, fakeCache{}, fakeDocs{}, nil)
	report := runner.RunDestination(context.Background(), dest)

	byName := outcomes(report)
	assert.Equal(t, core.SmokePassed, byName["health_endpoint"])
	assert.Equal(t, core.SmokeFailed, byName["bookings_list"])
	assert.Equal(t, core.SmokeSkipped, byName["booking_detail"])
	assert.Equal(t, core.SmokeSkipped, byName["booking_tickets"])
	assert.Equal(t, core.SmokePassed, byName["frontend"])

	// The blocked dependents count against the failed total along with
	// the list call itself.
	assert.Equal(t, 5, report.TestsTotal)
	assert.Equal(t, 2, report.TestsPassed)
	assert.Equal(t, 3, report.TestsFailed)
	assert.Equal(t, []string{"bookings_list", "booking_detail", "booking_tickets"}, report.Failures)
}

func TestEmptyBookingListSkipsDependentsWithoutFailing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/api/bookings", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("<p>welcome</p>", 20))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := smokeConfig()
	dest := config.Destination{ID: "alpine", BaseURL: server.URL, FrontendURL: server.URL, Active: true}

	runner := runnerFor(cfg, fakeCache{}, fakeDocs{}, nil)
	report := runner.RunDestination(context.Background(), dest)

	byName := outcomes(report)
	assert.Equal(t, core.SmokeSkipped, byName["booking_detail"])
	assert.Equal(t, core.SmokeSkipped, byName["booking_tickets"])

	assert.Equal(t, 5, report.TestsTotal)
	assert.Equal(t, 3, report.TestsPassed)
	assert.Zero(t, report.TestsFailed)
	assert.Empty(t, report.Failures)
}

func TestFrontendBelowMinimumBodyFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := smokeConfig()
	runner := runnerFor(cfg, fakeCache{}, fakeDocs{}, nil)

	err := runner.checkFrontend(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below")
}

func TestSharedInfraTests(t *testing.T) {
	cfg := smokeConfig()
	runner := runnerFor(cfg, fakeCache{jobs: 5}, fakeDocs{stats: map[string]interface{}{"collections": 4}}, nil)

	results := runner.runShared(context.Background())
	require.Len(t, results, 3)
	for _, result := range results {
		assert.Equal(t, core.SmokePassed, result.Outcome, result.Name)
	}
}

func TestSharedInfraJobCountBelowMinimum(t *testing.T) {
	cfg := smokeConfig()
	runner := runnerFor(cfg, fakeCache{jobs: 1}, fakeDocs{stats: map[string]interface{}{"ok": 1}}, nil)

	results := runner.runShared(context.Background())
	byName := map[string]core.SmokeResult{}
	for _, result := range results {
		byName[result.Name] = result
	}
	assert.Equal(t, core.SmokeFailed, byName["scheduled_jobs"].Outcome)
	assert.Contains(t, byName["scheduled_jobs"].Err, "expected at least 3")
}

func TestSharedInfraFailureIsolated(t *testing.T) {
	cfg := smokeConfig()
	runner := runnerFor(cfg, fakeCache{pingErr: errors.New("redis down"), jobs: 5}, fakeDocs{stats: map[string]interface{}{"ok": 1}}, nil)

	results := runner.runShared(context.Background())
	byName := map[string]core.SmokeResult{}
	for _, result := range results {
		byName[result.Name] = result
	}
	assert.Equal(t, core.SmokeFailed, byName["cache_liveness"].Outcome)
	assert.Equal(t, core.SmokePassed, byName["document_store_stats"].Outcome)
	assert.Equal(t, core.SmokePassed, byName["scheduled_jobs"].Outcome)
}

func TestSMSConfigCheckNeverSends(t *testing.T) {
	cfg := smokeConfig()
	runner := NewRunner(cfg, fakeCache{}, fakeDocs{}, nil, zap.NewNop().Sugar())
	runner.lookupEnv = func(name string) (string, bool) {
		if name == "SMS_API_KEY" {
			return "key", true
		}
		return "", false
	}

	result := runner.smsConfigCheck()
	assert.Equal(t, core.ConfigCheckNotConfigured, result.State)
	assert.Equal(t, []string{"SMS_API_SECRET"}, result.Missing)

	runner.lookupEnv = func(string) (string, bool) { return "value", true }
	result = runner.smsConfigCheck()
	assert.Equal(t, core.ConfigCheckConfigured, result.State)
	assert.Empty(t, result.Missing)
}

func TestFullRunPersistsReport(t *testing.T) {
	server := tenantServer(t, false)
	defer server.Close()

	cfg := smokeConfig()
	cfg.Destinations = []config.Destination{
		{ID: "alpine", Code: "ALP", Name: "Alpine", BaseURL: server.URL, FrontendURL: server.URL, Active: true},
		{ID: "retired", Code: "RET", Name: "Retired", BaseURL: server.URL, FrontendURL: server.URL, Active: false},
	}
	sink := &fakeSink{}

	runner := runnerFor(cfg, fakeCache{jobs: 5}, fakeDocs{stats: map[string]interface{}{"ok": 1}}, sink)
	report := runner.Run(context.Background())

	require.Len(t, report.Destinations, 1)
	assert.Equal(t, "alpine", report.Destinations[0].DestinationID)
	assert.Len(t, report.Shared, 3)
	require.Len(t, report.ConfigChecks, 1)
	assert.Equal(t, core.ConfigCheckNotConfigured, report.ConfigChecks[0].State)
	require.Len(t, sink.saved, 1)

	passed, failed := report.Totals()
	assert.Equal(t, 8, passed)
	assert.Zero(t, failed)
}
