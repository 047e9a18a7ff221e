// Package api exposes the monitoring surface over HTTP: liveness and
// readiness probes, Prometheus metrics, agent runs, and issue queries.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"watchtower/agents"
	"watchtower/core"
	"watchtower/health"
	"watchtower/metrics"
)

// ReadinessProbe is one backend the readiness endpoint verifies.
type ReadinessProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP surface of the monitoring service.
type Server struct {
	registry  *agents.Registry
	reporter  *health.Reporter
	tracker   *core.IssueTracker
	readiness []ReadinessProbe
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger
	http      *http.Server
}

// NewServer wires the HTTP server on the given port.
func NewServer(port int, rps, burst int, registry *agents.Registry, reporter *health.Reporter, tracker *core.IssueTracker, readiness []ReadinessProbe, logger *zap.SugaredLogger) *Server {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = rps * 2
	}

	s := &Server{
		registry:  registry,
		reporter:  reporter,
		tracker:   tracker,
		readiness: readiness,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		logger:    logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleLiveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReadiness).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.rateLimit)
	v1.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	v1.HandleFunc("/agents/run", s.handleRunAll).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{name}/run", s.handleRunAgent).Methods(http.MethodPost)
	v1.HandleFunc("/health/full", s.handleFullHealth).Methods(http.MethodGet)
	v1.HandleFunc("/issues", s.handleListIssues).Methods(http.MethodGet)
	v1.HandleFunc("/issues/sla-breaches", s.handleSLABreaches).Methods(http.MethodGet)
	v1.HandleFunc("/issues/{id}/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)
	v1.HandleFunc("/issues/{id}/resolve", s.handleResolve).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Infow("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleLiveness runs the quick check: 200 when healthy or mildly
// degraded, 503 from unhealthy upward.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	report := s.reporter.RunQuick(r.Context())

	status := http.StatusOK
	if report.Overall.Rank() >= core.StatusUnhealthy.Rank() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	type probeState struct {
		Name  string `json:"name"`
		Ready bool   `json:"ready"`
		Err   string `json:"error,omitempty"`
	}

	states := make([]probeState, 0, len(s.readiness))
	ready := true
	for _, probe := range s.readiness {
		state := probeState{Name: probe.Name, Ready: true}
		if err := probe.Check(r.Context()); err != nil {
			state.Ready = false
			state.Err = err.Error()
			ready = false
		}
		states = append(states, state)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": ready, "probes": states})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	destinationID := r.URL.Query().Get("destination")

	run, err := s.registry.Run(r.Context(), name, destinationID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.RunAll(r.Context()))
}

func (s *Server) handleFullHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.RunFull(r.Context()))
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := core.IssueFilters{
		AgentName:     q.Get("agent"),
		Category:      q.Get("category"),
		Severity:      core.Severity(q.Get("severity")),
		DestinationID: q.Get("destination"),
	}
	if filters.Severity != "" && !filters.Severity.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown severity %q", filters.Severity))
		return
	}

	issues, err := s.tracker.OpenIssues(r.Context(), filters)
	if err != nil {
		s.logger.Errorw("Failed to list issues", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list issues")
		return
	}

	updateOpenIssueGauges(issues)
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) handleSLABreaches(w http.ResponseWriter, r *http.Request) {
	breaches, err := s.tracker.SLABreaches(r.Context())
	if err != nil {
		s.logger.Errorw("Failed to list SLA breaches", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list SLA breaches")
		return
	}
	writeJSON(w, http.StatusOK, breaches)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.tracker.Acknowledge(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"issue_id": id, "status": string(core.IssueStatusAcknowledged)})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Resolution string `json:"resolution"`
	}
	if r.Body != nil {
		// An empty or malformed body just means no resolution note.
		json.NewDecoder(r.Body).Decode(&body)
	}

	if err := s.tracker.Resolve(r.Context(), id, body.Resolution); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"issue_id": id, "status": string(core.IssueStatusResolved)})
}

// updateOpenIssueGauges refreshes the per-severity open-issue gauges from
// a full listing.
func updateOpenIssueGauges(issues []core.AgentIssue) {
	counts := map[core.Severity]int{}
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	for _, severity := range []core.Severity{core.SeverityCritical, core.SeverityHigh, core.SeverityMedium, core.SeverityLow, core.SeverityInfo} {
		metrics.IssuesOpen.WithLabelValues(string(severity)).Set(float64(counts[severity]))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Too late for an error response; the status line is gone.
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
