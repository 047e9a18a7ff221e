package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"watchtower/agents"
	"watchtower/checks"
	"watchtower/config"
	"watchtower/core"
	"watchtower/health"
)

type memStore struct {
	issues []core.AgentIssue
	seq    map[string]int
}

func newMemStore() *memStore {
	return &memStore{seq: map[string]int{}}
}

func (m *memStore) FindActiveByFingerprint(ctx context.Context, fingerprint string) (*core.AgentIssue, error) {
	for i := range m.issues {
		if m.issues[i].Fingerprint == fingerprint && !m.issues[i].Status.IsTerminal() {
			return &m.issues[i], nil
		}
	}
	return nil, nil
}

func (m *memStore) NextSequence(ctx context.Context, dateKey string) (int, error) {
	m.seq[dateKey]++
	return m.seq[dateKey], nil
}

func (m *memStore) InsertIssue(ctx context.Context, issue *core.AgentIssue) error {
	m.issues = append(m.issues, *issue)
	return nil
}

func (m *memStore) UpdateIssue(ctx context.Context, issue *core.AgentIssue) error {
	for i := range m.issues {
		if m.issues[i].IssueID == issue.IssueID {
			m.issues[i] = *issue
			return nil
		}
	}
	return errors.New("issue not found")
}

func (m *memStore) ActiveIssues(ctx context.Context, agentName, category string) ([]core.AgentIssue, error) {
	var active []core.AgentIssue
	for _, issue := range m.issues {
		if issue.Status.IsTerminal() {
			continue
		}
		if agentName != "" && issue.AgentName != agentName {
			continue
		}
		if category != "" && issue.Category != category {
			continue
		}
		active = append(active, issue)
	}
	return active, nil
}

type okProber struct{}

func (okProber) HealthCheck(ctx context.Context) error { return nil }

type namedAgent struct {
	name string
	err  error
}

func (a namedAgent) Descriptor() core.AgentDescriptor {
	return core.AgentDescriptor{Name: a.name, Category: "health", Version: "1.0"}
}

func (a namedAgent) Execute(ctx context.Context) error { return a.err }

func testServer(t *testing.T, store core.IssueStore) *Server {
	t.Helper()
	logger := zap.NewNop().Sugar()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	cfg := &config.Config{}
	cfg.Server.PingAddr = listener.Addr().String()

	reporter := health.NewReporter(
		checks.NewServerChecker(cfg, logger),
		checks.NewStorageChecker(okProber{}, okProber{}, okProber{}, logger),
		checks.NewExternalChecker(nil, logger),
		checks.NewFrontendChecker(cfg, logger),
		nil, nil, nil, logger,
	)

	runner := agents.NewRunner(cfg, logger)
	registry := agents.NewRegistry(runner, logger)
	registry.RegisterShared(namedAgent{name: "noop"})

	tracker := core.NewIssueTracker(store, logger)

	return NewServer(0, 100, 200, registry, reporter, tracker, []ReadinessProbe{
		{Name: "redis", Check: okProber{}.HealthCheck},
	}, logger)
}

func TestLivenessHealthy(t *testing.T) {
	server := testServer(t, newMemStore())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var report core.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, core.StatusHealthy, report.Overall)
}

func TestReadinessFailingProbeIs503(t *testing.T) {
	server := testServer(t, newMemStore())
	server.readiness = []ReadinessProbe{
		{Name: "redis", Check: func(ctx context.Context) error { return nil }},
		{Name: "mongodb", Check: func(ctx context.Context) error { return errors.New("no reachable servers") }},
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no reachable servers")
}

func TestRunAgentEndpoint(t *testing.T) {
	server := testServer(t, newMemStore())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agents/noop/run", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var run core.AggregatedAgentRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "noop", run.AgentName)
	assert.True(t, run.Success)
}

func TestRunUnknownAgent404(t *testing.T) {
	server := testServer(t, newMemStore())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agents/ghost/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueEndpoints(t *testing.T) {
	store := newMemStore()
	server := testServer(t, store)
	tracker := server.tracker

	issue, err := tracker.Raise(context.Background(), core.IssueSpec{
		AgentName:   "smoke-runner",
		Severity:    core.SeverityHigh,
		Category:    "testing",
		Title:       "Frontend blank page",
		Fingerprint: core.Fingerprint("smoke-runner", "frontend"),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/issues?agent=smoke-runner", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var issues []core.AgentIssue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, issue.IssueID, issues[0].IssueID)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/issues/"+issue.IssueID+"/acknowledge", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"resolution":"restarted the renderer"}`)
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/issues/"+issue.IssueID+"/resolve", body))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/issues", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issues))
	assert.Empty(t, issues)
}

func TestIssueListRejectsUnknownSeverity(t *testing.T) {
	server := testServer(t, newMemStore())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/issues?severity=apocalyptic", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveMissingIssueConflict(t *testing.T) {
	server := testServer(t, newMemStore())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/issues/ISSUE-20260101-001/resolve", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRateLimitReturns429(t *testing.T) {
	server := testServer(t, newMemStore())
	server.limiter.SetLimit(1)
	server.limiter.SetBurst(1)

	first := httptest.NewRecorder()
	server.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	server.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
