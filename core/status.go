package core

// Status represents the health state of a single check, a category, or
// the platform as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusWarning   Status = "warning"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
	StatusCritical  Status = "critical"
)

// statusRanks orders statuses from least to most severe. Error ranks with
// unhealthy: a probe that could not run is as bad as one that ran and failed.
var statusRanks = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusWarning:   2,
	StatusUnhealthy: 3,
	StatusError:     3,
	StatusCritical:  4,
}

// Rank returns the severity rank of the status. Unknown statuses rank as
// unhealthy so a malformed result can never mask a real problem.
func (s Status) Rank() int {
	if rank, ok := statusRanks[s]; ok {
		return rank
	}
	return statusRanks[StatusUnhealthy]
}

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	_, ok := statusRanks[s]
	return ok
}

// WorstOf returns the most severe status among the given statuses.
// An empty slice aggregates to healthy.
func WorstOf(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		if s.Rank() > worst.Rank() {
			worst = s
		}
	}
	return worst
}
