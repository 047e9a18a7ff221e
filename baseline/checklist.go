package baseline

// DefaultChecklist is the fixed set of metrics the nightly anomaly batch
// evaluates.
var DefaultChecklist = []ChecklistEntry{
	{AgentName: "health-reporter", Action: "full_check", MetricPath: "execution_ms", Label: "Full health check duration"},
	{AgentName: "health-reporter", Action: "full_check", MetricPath: "warning_count", Label: "Health check warning count"},
	{AgentName: "smoke-runner", Action: "suite", MetricPath: "duration_ms", Label: "Smoke suite duration"},
	{AgentName: "smoke-runner", Action: "suite", MetricPath: "failed_count", Label: "Smoke suite failures"},
	{AgentName: "queue-monitor", Action: "depth_scan", MetricPath: "failed_total", Label: "Failed job depth"},
}
