package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"watchtower/baseline"
	"watchtower/core"
)

type captureRecorder struct {
	samples []core.MetricSample
	err     error
}

func (c *captureRecorder) InsertSample(ctx context.Context, sample core.MetricSample) error {
	c.samples = append(c.samples, sample)
	return c.err
}

func TestRecordSampleStampsRecordedAt(t *testing.T) {
	recorder := &captureRecorder{}
	recordSample(context.Background(), recorder, zap.NewNop().Sugar(),
		"health-reporter", "full_check", map[string]float64{"execution_ms": 42})

	require.Len(t, recorder.samples, 1)
	sample := recorder.samples[0]
	assert.Equal(t, "health-reporter", sample.AgentName)
	assert.Equal(t, "full_check", sample.Action)
	assert.False(t, sample.RecordedAt.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), sample.RecordedAt, time.Minute)
}

type issueMemStore struct {
	issues []core.AgentIssue
	seq    map[string]int
}

func newIssueMemStore() *issueMemStore {
	return &issueMemStore{seq: map[string]int{}}
}

func (m *issueMemStore) FindActiveByFingerprint(ctx context.Context, fingerprint string) (*core.AgentIssue, error) {
	for i := range m.issues {
		if m.issues[i].Fingerprint == fingerprint && !m.issues[i].Status.IsTerminal() {
			return &m.issues[i], nil
		}
	}
	return nil, nil
}

func (m *issueMemStore) NextSequence(ctx context.Context, dateKey string) (int, error) {
	m.seq[dateKey]++
	return m.seq[dateKey], nil
}

func (m *issueMemStore) InsertIssue(ctx context.Context, issue *core.AgentIssue) error {
	m.issues = append(m.issues, *issue)
	return nil
}

func (m *issueMemStore) UpdateIssue(ctx context.Context, issue *core.AgentIssue) error {
	for i := range m.issues {
		if m.issues[i].IssueID == issue.IssueID {
			m.issues[i] = *issue
			return nil
		}
	}
	return errors.New("issue not found")
}

func (m *issueMemStore) ActiveIssues(ctx context.Context, agentName, category string) ([]core.AgentIssue, error) {
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

type checklistSource struct {
	samples map[string][]core.MetricSample
	errFor  map[string]error
}

func (s checklistSource) RecentSamples(ctx context.Context, agentName, action string, limit int) ([]core.MetricSample, error) {
	key := agentName + "/" + action
	if err := s.errFor[key]; err != nil {
		return nil, err
	}
	samples := s.samples[key]
	if len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}

// suiteSamples is a flat smoke-runner history whose newest values sit
// well inside the baseline band.
func suiteSamples() []core.MetricSample {
	durations := []float64{100, 102, 98, 101, 99, 100}
	now := time.Now()
	samples := make([]core.MetricSample, len(durations))
	for i, d := range durations {
		samples[i] = core.MetricSample{
			AgentName:  "smoke-runner",
			Action:     "suite",
			Metrics:    map[string]float64{"duration_ms": d, "failed_count": float64(i % 2)},
			RecordedAt: now.Add(-time.Duration(i) * time.Hour),
		}
	}
	return samples
}

func TestBaselineAgentClosesOnlyObservedRecoveries(t *testing.T) {
	store := newIssueMemStore()
	tracker := core.NewIssueTracker(store, zap.NewNop().Sugar())
	ctx := context.Background()

	// Open anomaly issues from a previous run: one whose metric source is
	// now failing, one whose metric has returned to normal.
	_, err := tracker.Raise(ctx, core.IssueSpec{
		AgentName:   "health-reporter",
		Severity:    core.SeverityMedium,
		Category:    "anomaly",
		Title:       "Full health check duration deviates from baseline",
		Fingerprint: core.Fingerprint("health-reporter", "execution_ms"),
	})
	require.NoError(t, err)
	_, err = tracker.Raise(ctx, core.IssueSpec{
		AgentName:   "smoke-runner",
		Severity:    core.SeverityMedium,
		Category:    "anomaly",
		Title:       "Smoke suite duration deviates from baseline",
		Fingerprint: core.Fingerprint("smoke-runner", "duration_ms"),
	})
	require.NoError(t, err)

	source := checklistSource{
		samples: map[string][]core.MetricSample{"smoke-runner/suite": suiteSamples()},
		errFor:  map[string]error{"health-reporter/full_check": errors.New("clickhouse: connection refused")},
	}
	service := baseline.NewService(source, tracker, zap.NewNop().Sugar())
	agent := NewBaselineAgent(service, tracker, zap.NewNop().Sugar())

	require.NoError(t, agent.Execute(ctx))

	// The recovered smoke-runner issue auto-closes; the unobservable
	// health-reporter one stays open.
	open, err := tracker.OpenIssues(ctx, core.IssueFilters{Category: "anomaly"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "health-reporter", open[0].AgentName)
	assert.Equal(t, core.Fingerprint("health-reporter", "execution_ms"), open[0].Fingerprint)
}
