package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// IssueStore defines the persistence operations the tracker needs.
// Defined here (consumer package) so storage implementations stay decoupled
// and tests can mock it.
type IssueStore interface {
	// FindActiveByFingerprint returns the non-terminal issue with the given
	// fingerprint, or nil when none exists.
	FindActiveByFingerprint(ctx context.Context, fingerprint string) (*AgentIssue, error)
	// NextSequence allocates the next issue number for the given date key
	// (YYYYMMDD). Allocation must be safe under concurrent callers.
	NextSequence(ctx context.Context, dateKey string) (int, error)
	InsertIssue(ctx context.Context, issue *AgentIssue) error
	UpdateIssue(ctx context.Context, issue *AgentIssue) error
	// ActiveIssues returns all non-terminal issues, optionally narrowed by
	// agent and category (empty strings match everything).
	ActiveIssues(ctx context.Context, agentName, category string) ([]AgentIssue, error)
}

// IssueSpec describes an issue being raised. The fingerprint decides whether
// it folds into an existing record.
type IssueSpec struct {
	AgentName     string
	Severity      Severity
	Category      string
	Title         string
	Description   string
	Details       map[string]string
	Fingerprint   string
	DestinationID string
}

// IssueFilters narrows open-issue queries.
type IssueFilters struct {
	AgentName     string
	Category      string
	Severity      Severity
	DestinationID string
}

// IssueTracker maintains deduplicated issue records with lifecycle, SLA
// deadlines, and system-driven auto-close.
type IssueTracker struct {
	store  IssueStore
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewIssueTracker creates an issue tracker backed by the given store.
func NewIssueTracker(store IssueStore, logger *zap.SugaredLogger) *IssueTracker {
	if store == nil {
		panic("issue store is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &IssueTracker{store: store, logger: logger, now: time.Now}
}

// Raise records an issue. When a non-terminal issue with the same fingerprint
// exists, the re-raise is idempotent: the occurrence count is incremented and
// last-seen plus details are refreshed, keeping the original issue id.
// Otherwise a new date-sequenced issue is created with an SLA deadline derived
// from its severity.
func (t *IssueTracker) Raise(ctx context.Context, spec IssueSpec) (*AgentIssue, error) {
	if spec.Fingerprint == "" {
		return nil, fmt.Errorf("issue spec for agent %q has no fingerprint", spec.AgentName)
	}
	if !spec.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q", spec.Severity)
	}

	now := t.now().UTC()

	existing, err := t.store.FindActiveByFingerprint(ctx, spec.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to look up fingerprint %s: %w", spec.Fingerprint, err)
	}

	if existing != nil {
		existing.OccurrenceCount++
		existing.LastSeenAt = now
		if spec.Details != nil {
			existing.Details = spec.Details
		}
		if err := t.store.UpdateIssue(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update issue %s: %w", existing.IssueID, err)
		}
		t.logger.Debugw("Issue re-raised", "issue_id", existing.IssueID,
			"fingerprint", spec.Fingerprint, "occurrences", existing.OccurrenceCount)
		return existing, nil
	}

	dateKey := now.Format("20060102")
	seq, err := t.store.NextSequence(ctx, dateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate issue sequence: %w", err)
	}

	issue := &AgentIssue{
		IssueID:         fmt.Sprintf("ISSUE-%s-%03d", dateKey, seq),
		AgentName:       spec.AgentName,
		Severity:        spec.Severity,
		Category:        spec.Category,
		Title:           spec.Title,
		Description:     spec.Description,
		Details:         spec.Details,
		Status:          IssueStatusOpen,
		DetectedAt:      now,
		Fingerprint:     spec.Fingerprint,
		OccurrenceCount: 1,
		LastSeenAt:      now,
		SLATarget:       SLATarget(spec.Severity, now),
		DestinationID:   spec.DestinationID,
	}

	if err := t.store.InsertIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("failed to insert issue %s: %w", issue.IssueID, err)
	}

	t.logger.Infow("Issue raised", "issue_id", issue.IssueID, "agent", issue.AgentName,
		"severity", issue.Severity, "title", issue.Title)
	return issue, nil
}

// AutoClose transitions every non-terminal issue of the given agent and
// category whose fingerprint is absent from activeFingerprints to
// auto_closed. Issues whose fingerprint is still active are untouched.
// Returns the number of issues closed.
func (t *IssueTracker) AutoClose(ctx context.Context, agentName, category string, activeFingerprints []string) (int, error) {
	active := make(map[string]struct{}, len(activeFingerprints))
	for _, fp := range activeFingerprints {
		active[fp] = struct{}{}
	}

	issues, err := t.store.ActiveIssues(ctx, agentName, category)
	if err != nil {
		return 0, fmt.Errorf("failed to list active issues for %s/%s: %w", agentName, category, err)
	}

	closed := 0
	for i := range issues {
		issue := &issues[i]
		if _, stillActive := active[issue.Fingerprint]; stillActive {
			continue
		}
		if err := issue.TransitionTo(IssueStatusAutoClosed); err != nil {
			// In-progress issues stay with their assignee even when the
			// trigger disappears.
			t.logger.Debugw("Skipping auto-close", "issue_id", issue.IssueID, "reason", err)
			continue
		}
		issue.Resolution = "auto-closed: trigger condition no longer observed"
		if err := t.store.UpdateIssue(ctx, issue); err != nil {
			t.logger.Errorw("Failed to persist auto-close", "issue_id", issue.IssueID, "error", err)
			continue
		}
		closed++
	}

	if closed > 0 {
		t.logger.Infow("Auto-closed issues", "agent", agentName, "category", category, "count", closed)
	}
	return closed, nil
}

// Acknowledge moves an open issue to acknowledged.
func (t *IssueTracker) Acknowledge(ctx context.Context, issueID string) error {
	return t.transition(ctx, issueID, IssueStatusAcknowledged, "")
}

// Resolve closes an issue with a resolution note.
func (t *IssueTracker) Resolve(ctx context.Context, issueID, resolution string) error {
	return t.transition(ctx, issueID, IssueStatusResolved, resolution)
}

func (t *IssueTracker) transition(ctx context.Context, issueID string, status IssueStatus, resolution string) error {
	issues, err := t.store.ActiveIssues(ctx, "", "")
	if err != nil {
		return fmt.Errorf("failed to list active issues: %w", err)
	}
	for i := range issues {
		if issues[i].IssueID != issueID {
			continue
		}
		issue := &issues[i]
		if err := issue.TransitionTo(status); err != nil {
			return err
		}
		if resolution != "" {
			issue.Resolution = resolution
		}
		return t.store.UpdateIssue(ctx, issue)
	}
	return fmt.Errorf("no active issue with id %s", issueID)
}

// OpenIssues returns non-terminal issues matching the filters, sorted by
// severity (most urgent first) then recency.
func (t *IssueTracker) OpenIssues(ctx context.Context, filters IssueFilters) ([]AgentIssue, error) {
	issues, err := t.store.ActiveIssues(ctx, filters.AgentName, filters.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to list active issues: %w", err)
	}

	filtered := issues[:0]
	for _, issue := range issues {
		if filters.Severity != "" && issue.Severity != filters.Severity {
			continue
		}
		if filters.DestinationID != "" && issue.DestinationID != filters.DestinationID {
			continue
		}
		filtered = append(filtered, issue)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Severity.Rank() != filtered[j].Severity.Rank() {
			return filtered[i].Severity.Rank() > filtered[j].Severity.Rank()
		}
		return filtered[i].LastSeenAt.After(filtered[j].LastSeenAt)
	})

	return filtered, nil
}

// SLABreaches returns non-terminal issues whose SLA deadline has passed.
func (t *IssueTracker) SLABreaches(ctx context.Context) ([]AgentIssue, error) {
	issues, err := t.store.ActiveIssues(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to list active issues: %w", err)
	}

	now := t.now().UTC()
	var breached []AgentIssue
	for _, issue := range issues {
		if issue.SLABreached(now) {
			breached = append(breached, issue)
		}
	}

	sort.SliceStable(breached, func(i, j int) bool {
		return breached[i].SLATarget.Before(*breached[j].SLATarget)
	})

	return breached, nil
}
