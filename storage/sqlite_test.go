package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"watchtower/core"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "issues.db")
	s, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testIssue(id, fingerprint string) *core.AgentIssue {
	now := time.Now().UTC()
	sla := now.Add(72 * time.Hour)
	return &core.AgentIssue{
		IssueID:         id,
		AgentName:       "healthcheck",
		Severity:        core.SeverityHigh,
		Category:        "storage",
		Title:           "MongoDB unreachable",
		Description:     "liveness ping failed",
		Details:         map[string]string{"endpoint": "mongodb://db:27017"},
		Status:          core.IssueStatusOpen,
		DetectedAt:      now,
		Fingerprint:     fingerprint,
		OccurrenceCount: 1,
		LastSeenAt:      now,
		SLATarget:       &sla,
	}
}

func TestSQLiteInsertAndFindByFingerprint(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	issue := testIssue("ISSUE-20250301-001", "fp-mongo")
	require.NoError(t, s.InsertIssue(ctx, issue))

	found, err := s.FindActiveByFingerprint(ctx, "fp-mongo")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, issue.IssueID, found.IssueID)
	assert.Equal(t, core.SeverityHigh, found.Severity)
	assert.Equal(t, map[string]string{"endpoint": "mongodb://db:27017"}, found.Details)
	require.NotNil(t, found.SLATarget)
	assert.WithinDuration(t, *issue.SLATarget, *found.SLATarget, time.Millisecond)

	missing, err := s.FindActiveByFingerprint(ctx, "fp-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteTerminalIssuesInvisibleToFingerprintLookup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	issue := testIssue("ISSUE-20250301-001", "fp-mongo")
	require.NoError(t, s.InsertIssue(ctx, issue))

	require.NoError(t, issue.TransitionTo(core.IssueStatusResolved))
	require.NoError(t, s.UpdateIssue(ctx, issue))

	found, err := s.FindActiveByFingerprint(ctx, "fp-mongo")
	require.NoError(t, err)
	assert.Nil(t, found, "resolved issues must not match active lookups")
}

func TestSQLiteNextSequencePerDate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		seq, err := s.NextSequence(ctx, "20250301")
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}

	// A new date starts its own sequence.
	seq, err := s.NextSequence(ctx, "20250302")
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
}

func TestSQLiteActiveIssuesFiltering(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := testIssue("ISSUE-20250301-001", "fp-a")
	b := testIssue("ISSUE-20250301-002", "fp-b")
	b.AgentName = "baseline"
	b.Category = "anomaly"
	require.NoError(t, s.InsertIssue(ctx, a))
	require.NoError(t, s.InsertIssue(ctx, b))

	all, err := s.ActiveIssues(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	healthOnly, err := s.ActiveIssues(ctx, "healthcheck", "storage")
	require.NoError(t, err)
	require.Len(t, healthOnly, 1)
	assert.Equal(t, "ISSUE-20250301-001", healthOnly[0].IssueID)
}

func TestSQLiteUpdateMissingIssue(t *testing.T) {
	s := newTestSQLite(t)
	err := s.UpdateIssue(context.Background(), testIssue("ISSUE-20250301-099", "fp-x"))
	assert.ErrorIs(t, err, ErrIssueNotFound)
}
