package core

import "time"

// Correlation is a cross-agent pattern found by the correlation engine.
type Correlation struct {
	Kind        string   `json:"kind" bson:"kind"`
	Severity    Severity `json:"severity" bson:"severity"`
	Agents      []string `json:"agents" bson:"agents"`
	Description string   `json:"description" bson:"description"`
}

// Insight is a lower-stakes observation that does not name a cross-agent
// pattern but still deserves operator attention.
type Insight struct {
	Kind        string   `json:"kind" bson:"kind"`
	Severity    Severity `json:"severity" bson:"severity"`
	Description string   `json:"description" bson:"description"`
}

// CorrelationReport is the persisted outcome of one weekly correlation run.
type CorrelationReport struct {
	GeneratedAt  time.Time     `json:"generated_at" bson:"generated_at"`
	Correlations []Correlation `json:"correlations" bson:"correlations"`
	Insights     []Insight     `json:"insights" bson:"insights"`
}
