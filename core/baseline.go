package core

import (
	"errors"
	"time"
)

// ErrInsufficientData is returned when a baseline has fewer than the
// minimum number of valid historical samples.
var ErrInsufficientData = errors.New("insufficient data for baseline")

// AnomalyDirection indicates which side of the baseline a value fell on.
type AnomalyDirection string

const (
	DirectionAboveNormal AnomalyDirection = "ABOVE_NORMAL"
	DirectionBelowNormal AnomalyDirection = "BELOW_NORMAL"
	DirectionNone        AnomalyDirection = "NONE"
)

// Baseline is the rolling statistical reference for one (agent, action,
// metric) tuple, recomputed on demand from persisted history. It is not
// durable state.
type Baseline struct {
	AgentName   string  `json:"agent_name"`
	Action      string  `json:"action"`
	MetricPath  string  `json:"metric_path"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	SampleCount int     `json:"sample_count"`
}

// AnomalyResult is the outcome of comparing one value against a baseline.
type AnomalyResult struct {
	IsAnomaly      bool             `json:"is_anomaly"`
	Deviation      float64          `json:"deviation_std_devs"`
	Direction      AnomalyDirection `json:"direction"`
	ThresholdUpper float64          `json:"threshold_upper"`
	ThresholdLower float64          `json:"threshold_lower"`
}

// MetricSample is one persisted observation of an agent run metric.
type MetricSample struct {
	AgentName  string             `json:"agent_name"`
	Action     string             `json:"action"`
	Metrics    map[string]float64 `json:"metrics"`
	RecordedAt time.Time          `json:"recorded_at"`
}
