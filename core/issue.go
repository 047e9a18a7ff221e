package core

import (
	"errors"
	"fmt"
	"time"
)

// Severity classifies how urgently an issue must be addressed.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRanks orders severities from least to most urgent.
var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the urgency rank of the severity.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// IsValid reports whether s is one of the defined severities.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// slaTargets maps severity to the resolution deadline measured from
// detection. Info issues carry no SLA.
var slaTargets = map[Severity]time.Duration{
	SeverityCritical: 24 * time.Hour,
	SeverityHigh:     72 * time.Hour,
	SeverityMedium:   7 * 24 * time.Hour,
	SeverityLow:      30 * 24 * time.Hour,
}

// SLATarget returns the resolution deadline for an issue of severity s
// detected at detectedAt, or nil when the severity carries no SLA.
func SLATarget(s Severity, detectedAt time.Time) *time.Time {
	window, ok := slaTargets[s]
	if !ok {
		return nil
	}
	deadline := detectedAt.Add(window)
	return &deadline
}

// IssueStatus is the lifecycle state of an AgentIssue.
type IssueStatus string

const (
	IssueStatusOpen         IssueStatus = "open"
	IssueStatusAcknowledged IssueStatus = "acknowledged"
	IssueStatusInProgress   IssueStatus = "in_progress"
	IssueStatusResolved     IssueStatus = "resolved"
	IssueStatusWontFix      IssueStatus = "wont_fix"
	IssueStatusAutoClosed   IssueStatus = "auto_closed"
)

// issueTransitions defines the allowed lifecycle transitions. auto_closed is
// system-driven and only reachable while an issue has not been picked up.
var issueTransitions = map[IssueStatus][]IssueStatus{
	IssueStatusOpen:         {IssueStatusAcknowledged, IssueStatusResolved, IssueStatusWontFix, IssueStatusAutoClosed},
	IssueStatusAcknowledged: {IssueStatusInProgress, IssueStatusResolved, IssueStatusWontFix, IssueStatusAutoClosed},
	IssueStatusInProgress:   {IssueStatusResolved, IssueStatusWontFix},
	IssueStatusResolved:     {},
	IssueStatusWontFix:      {},
	IssueStatusAutoClosed:   {},
}

// IsTerminal reports whether the status is a final lifecycle state.
func (s IssueStatus) IsTerminal() bool {
	next, ok := issueTransitions[s]
	return ok && len(next) == 0
}

// AgentIssue is a deduplicated, actionable finding raised by a monitoring
// agent. Issues are never hard-deleted; terminal states close them.
type AgentIssue struct {
	IssueID         string            `json:"issue_id"`
	AgentName       string            `json:"agent_name"`
	Severity        Severity          `json:"severity"`
	Category        string            `json:"category"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Details         map[string]string `json:"details,omitempty"`
	Status          IssueStatus       `json:"status"`
	DetectedAt      time.Time         `json:"detected_at"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	Resolution      string            `json:"resolution,omitempty"`
	Fingerprint     string            `json:"fingerprint"`
	OccurrenceCount int               `json:"occurrence_count"`
	LastSeenAt      time.Time         `json:"last_seen_at"`
	SLATarget       *time.Time        `json:"sla_target,omitempty"`
	DestinationID   string            `json:"destination_id,omitempty"`
}

// TransitionTo validates and executes an issue lifecycle transition.
func (i *AgentIssue) TransitionTo(newStatus IssueStatus) error {
	if newStatus == "" {
		return errors.New("new status cannot be empty")
	}

	allowed, ok := issueTransitions[i.Status]
	if !ok {
		return fmt.Errorf("unknown current status: %s", i.Status)
	}

	for _, s := range allowed {
		if s == newStatus {
			now := time.Now().UTC()
			i.Status = newStatus
			switch newStatus {
			case IssueStatusAcknowledged:
				i.AcknowledgedAt = &now
			case IssueStatusResolved, IssueStatusWontFix, IssueStatusAutoClosed:
				i.ResolvedAt = &now
			}
			return nil
		}
	}

	return fmt.Errorf("invalid transition: %s -> %s (allowed: %v)", i.Status, newStatus, allowed)
}

// SLABreached reports whether the issue's SLA deadline has passed without
// the issue reaching a terminal state.
func (i *AgentIssue) SLABreached(now time.Time) bool {
	return i.SLATarget != nil && !i.Status.IsTerminal() && now.After(*i.SLATarget)
}
