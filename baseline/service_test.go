package baseline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"watchtower/core"
	"watchtower/storage"
)

type fakeSamples struct {
	samples map[string][]core.MetricSample
	err     error
}

func (f fakeSamples) RecentSamples(ctx context.Context, agentName, action string, limit int) ([]core.MetricSample, error) {
	if f.err != nil {
		return nil, f.err
	}
	samples := f.samples[agentName+"/"+action]
	if len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}

type fakeRaiser struct {
	raised []core.IssueSpec
}

func (f *fakeRaiser) Raise(ctx context.Context, spec core.IssueSpec) (*core.AgentIssue, error) {
	f.raised = append(f.raised, spec)
	return &core.AgentIssue{IssueID: "ISSUE-20260823-001", Fingerprint: spec.Fingerprint}, nil
}

func samplesOf(values ...float64) []core.MetricSample {
	samples := make([]core.MetricSample, len(values))
	now := time.Now()
	for i, v := range values {
		samples[i] = core.MetricSample{
			AgentName:  "health-reporter",
			Action:     "full_check",
			Metrics:    map[string]float64{"execution_ms": v},
			RecordedAt: now.Add(-time.Duration(i) * time.Hour),
		}
	}
	return samples
}

func TestBaselineOfComputesPopulationStats(t *testing.T) {
	base, err := BaselineOf("a", "b", "execution_ms", samplesOf(10, 20, 30))
	require.NoError(t, err)

	assert.InDelta(t, 20, base.Mean, 0.001)
	assert.InDelta(t, 8.165, base.StdDev, 0.001)
	assert.Equal(t, float64(10), base.Min)
	assert.Equal(t, float64(30), base.Max)
	assert.Equal(t, 3, base.SampleCount)
}

func TestBaselineOfRequiresMinimumSamples(t *testing.T) {
	_, err := BaselineOf("a", "b", "execution_ms", samplesOf(10, 20))
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestBaselineOfSkipsMissingMetric(t *testing.T) {
	samples := samplesOf(10, 20, 30)
	samples[1].Metrics = map[string]float64{"other": 1}

	_, err := BaselineOf("a", "b", "execution_ms", samples)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestDetectFlagsBeyondTwoSigma(t *testing.T) {
	base := &core.Baseline{Mean: 100, StdDev: 10}

	result := Detect(base, 100+10*2.01)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, core.DirectionAboveNormal, result.Direction)
	assert.InDelta(t, 2.01, result.Deviation, 0.001)
	assert.InDelta(t, 120, result.ThresholdUpper, 0.001)
	assert.InDelta(t, 80, result.ThresholdLower, 0.001)

	result = Detect(base, 60)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, core.DirectionBelowNormal, result.Direction)
}

func TestDetectWithinBandNotAnomalous(t *testing.T) {
	base := &core.Baseline{Mean: 100, StdDev: 10}
	result := Detect(base, 115)
	assert.False(t, result.IsAnomaly)
	assert.Equal(t, core.DirectionNone, result.Direction)
}

func TestDetectZeroStdDevNeverAnomalous(t *testing.T) {
	base := &core.Baseline{Mean: 100, StdDev: 0}
	result := Detect(base, 1_000_000)
	assert.False(t, result.IsAnomaly)
	assert.Equal(t, core.DirectionNone, result.Direction)
	assert.Zero(t, result.Deviation)
}

func TestRunChecklistRaisesIssueForAnomaly(t *testing.T) {
	// Newest sample 200 against a flat-ish baseline around 100.
	history := append(samplesOf(200), samplesOf(100, 102, 98, 101, 99, 100, 103, 97)...)
	raiser := &fakeRaiser{}
	svc := NewService(fakeSamples{samples: map[string][]core.MetricSample{
		"health-reporter/full_check": history,
	}}, raiser, zap.NewNop().Sugar())

	findings, unevaluated := svc.RunChecklist(context.Background(), []ChecklistEntry{
		{AgentName: "health-reporter", Action: "full_check", MetricPath: "execution_ms", Label: "Full check duration"},
	})

	require.Len(t, findings, 1)
	assert.True(t, findings[0].Result.IsAnomaly)
	assert.Empty(t, unevaluated)

	require.Len(t, raiser.raised, 1)
	spec := raiser.raised[0]
	assert.Equal(t, core.SeverityHigh, spec.Severity)
	assert.Equal(t, "anomaly", spec.Category)
	assert.Equal(t, core.Fingerprint("health-reporter", "execution_ms"), spec.Fingerprint)
}

func TestRunChecklistInsufficientDataSkipsQuietly(t *testing.T) {
	raiser := &fakeRaiser{}
	svc := NewService(fakeSamples{samples: map[string][]core.MetricSample{
		"health-reporter/full_check": samplesOf(100, 101),
	}}, raiser, zap.NewNop().Sugar())

	findings, unevaluated := svc.RunChecklist(context.Background(), []ChecklistEntry{
		{AgentName: "health-reporter", Action: "full_check", MetricPath: "execution_ms"},
	})

	assert.Empty(t, findings)
	assert.Empty(t, raiser.raised)
	require.Len(t, unevaluated, 1)
	assert.Equal(t, "health-reporter", unevaluated[0].AgentName)
}

func TestRunChecklistEmptyHistoryTreatedAsInsufficient(t *testing.T) {
	raiser := &fakeRaiser{}
	svc := NewService(fakeSamples{err: fmt.Errorf("health-reporter/full_check: %w", storage.ErrNoSamples)},
		raiser, zap.NewNop().Sugar())

	findings, unevaluated := svc.RunChecklist(context.Background(), []ChecklistEntry{
		{AgentName: "health-reporter", Action: "full_check", MetricPath: "execution_ms"},
	})

	assert.Empty(t, findings)
	assert.Empty(t, raiser.raised)
	require.Len(t, unevaluated, 1)

	_, err := svc.Calculate(context.Background(), "health-reporter", "full_check", "execution_ms")
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestRunChecklistEntryFailureIsolated(t *testing.T) {
	raiser := &fakeRaiser{}
	svc := NewService(fakeSamples{samples: map[string][]core.MetricSample{
		"healthy/run": samplesOf(100, 101, 99, 100, 102),
	}}, raiser, zap.NewNop().Sugar())

	findings, unevaluated := svc.RunChecklist(context.Background(), []ChecklistEntry{
		{AgentName: "missing", Action: "run", MetricPath: "execution_ms"},
		{AgentName: "healthy", Action: "run", MetricPath: "execution_ms"},
	})

	require.Len(t, findings, 1)
	assert.False(t, findings[0].Result.IsAnomaly)
	require.Len(t, unevaluated, 1)
	assert.Equal(t, "missing", unevaluated[0].AgentName)
}
