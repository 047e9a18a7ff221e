package core

import "time"

// SmokeOutcome is the result state of one synthetic test.
type SmokeOutcome string

const (
	SmokePassed  SmokeOutcome = "passed"
	SmokeFailed  SmokeOutcome = "failed"
	SmokeSkipped SmokeOutcome = "skipped"
)

// SmokeResult is the outcome of one read-only synthetic test.
type SmokeResult struct {
	Name       string       `json:"name" bson:"name"`
	Outcome    SmokeOutcome `json:"outcome" bson:"outcome"`
	DurationMS int64        `json:"duration_ms" bson:"duration_ms"`
	Err        string       `json:"error,omitempty" bson:"error,omitempty"`
}

// DestinationSmokeReport aggregates one tenant's synthetic tests.
type DestinationSmokeReport struct {
	DestinationID string        `json:"destination_id" bson:"destination_id"`
	TestsTotal    int           `json:"tests_total" bson:"tests_total"`
	TestsPassed   int           `json:"tests_passed" bson:"tests_passed"`
	TestsFailed   int           `json:"tests_failed" bson:"tests_failed"`
	Results       []SmokeResult `json:"results" bson:"results"`
	Failures      []string      `json:"failures,omitempty" bson:"failures,omitempty"`
}

// Add appends a result and updates the aggregate counters. A skipped
// test that records an error was blocked by an upstream failure and
// counts as failed; a skip with nothing to test counts toward the total
// only.
func (r *DestinationSmokeReport) Add(result SmokeResult) {
	r.Results = append(r.Results, result)
	r.TestsTotal++
	switch result.Outcome {
	case SmokePassed:
		r.TestsPassed++
	case SmokeFailed:
		r.TestsFailed++
		r.Failures = append(r.Failures, result.Name)
	case SmokeSkipped:
		if result.Err != "" {
			r.TestsFailed++
			r.Failures = append(r.Failures, result.Name)
		}
	}
}

// ConfigCheckState reports a passive configuration verification.
type ConfigCheckState string

const (
	ConfigCheckConfigured    ConfigCheckState = "CONFIGURED"
	ConfigCheckNotConfigured ConfigCheckState = "NOT_CONFIGURED"
)

// ConfigCheckResult verifies the presence of secrets for a cost-incurring
// channel without ever exercising it.
type ConfigCheckResult struct {
	Channel string           `json:"channel" bson:"channel"`
	State   ConfigCheckState `json:"state" bson:"state"`
	Missing []string         `json:"missing,omitempty" bson:"missing,omitempty"`
}

// SmokeTestReport is the persisted outcome of one smoke-test run across
// all destinations plus shared infrastructure.
type SmokeTestReport struct {
	GeneratedAt  time.Time                `json:"generated_at" bson:"generated_at"`
	Destinations []DestinationSmokeReport `json:"destinations" bson:"destinations"`
	Shared       []SmokeResult            `json:"shared" bson:"shared"`
	ConfigChecks []ConfigCheckResult      `json:"config_checks" bson:"config_checks"`
}

// Totals sums passed and failed counts across destinations and shared tests.
func (r *SmokeTestReport) Totals() (passed, failed int) {
	for _, d := range r.Destinations {
		passed += d.TestsPassed
		failed += d.TestsFailed
	}
	for _, s := range r.Shared {
		switch s.Outcome {
		case SmokePassed:
			passed++
		case SmokeFailed:
			failed++
		}
	}
	return passed, failed
}
