package core

import "time"

// Probe timeout bounds. Every outbound probe runs under one of these;
// an expired deadline is treated as a failed result, never a hang.
const (
	ProbeTimeoutShort   = 5 * time.Second
	ProbeTimeoutDefault = 10 * time.Second
	ProbeTimeoutLong    = 15 * time.Second
)

// BaselineWindow is the number of most recent historical samples a
// baseline is computed from.
const BaselineWindow = 14

// BaselineMinSamples is the minimum number of valid values a baseline
// needs before anomaly detection is meaningful.
const BaselineMinSamples = 3
