package checks

import (
	"context"
	"fmt"
	"net"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"watchtower/config"
	"watchtower/core"
)

// ServerChecker probes host-level resources: reachability, CPU load
// normalized by core count, and memory pressure.
type ServerChecker struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
}

// NewServerChecker creates the server-resource checker.
func NewServerChecker(cfg *config.Config, logger *zap.SugaredLogger) *ServerChecker {
	return &ServerChecker{cfg: cfg, logger: logger}
}

// Category implements Checker.
func (c *ServerChecker) Category() string { return core.CategoryServer }

// Run executes the server probes concurrently.
func (c *ServerChecker) Run(ctx context.Context) []core.CheckResult {
	return executeAll(ctx, core.CategoryServer, []probe{
		{name: "ping", timeout: core.ProbeTimeoutShort, run: c.ping},
		{name: "cpu_load", timeout: core.ProbeTimeoutShort, run: c.cpuLoad},
		{name: "memory", timeout: core.ProbeTimeoutShort, run: c.memory},
	})
}

// ping verifies basic TCP reachability of the host's service address.
func (c *ServerChecker) ping(ctx context.Context) (core.Status, map[string]float64, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Server.PingAddr)
	if err != nil {
		return core.StatusUnhealthy, nil, fmt.Errorf("host unreachable at %s: %w", c.cfg.Server.PingAddr, err)
	}
	conn.Close()
	return core.StatusHealthy, nil, nil
}

// cpuLoad reads the 1-minute load average normalized by logical core count.
func (c *ServerChecker) cpuLoad(ctx context.Context) (core.Status, map[string]float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return core.StatusError, nil, fmt.Errorf("failed to read load average: %w", err)
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return core.StatusError, nil, fmt.Errorf("failed to count cpu cores: %w", err)
	}
	if cores == 0 {
		return core.StatusError, nil, fmt.Errorf("cpu core count reported as zero")
	}

	loadPercent := avg.Load1 / float64(cores) * 100
	values := map[string]float64{
		"load1":        avg.Load1,
		"load5":        avg.Load5,
		"cores":        float64(cores),
		"load_percent": loadPercent,
	}

	return classifyPercent(loadPercent, c.cfg.Server.CPUWarnPercent, c.cfg.Server.CPUCritPercent), values, nil
}

// memory reads the used-memory percentage.
func (c *ServerChecker) memory(ctx context.Context) (core.Status, map[string]float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return core.StatusError, nil, fmt.Errorf("failed to read memory stats: %w", err)
	}

	values := map[string]float64{
		"used_percent": vm.UsedPercent,
		"total_mb":     float64(vm.Total) / 1024 / 1024,
		"available_mb": float64(vm.Available) / 1024 / 1024,
	}

	return classifyPercent(vm.UsedPercent, c.cfg.Server.MemoryWarnPercent, c.cfg.Server.MemoryCritPercent), values, nil
}

// classifyPercent applies the shared warning/critical percentage thresholds.
func classifyPercent(value, warn, crit float64) core.Status {
	switch {
	case value > crit:
		return core.StatusCritical
	case value > warn:
		return core.StatusWarning
	default:
		return core.StatusHealthy
	}
}

// PingResult runs the ping probe standalone; used by the quick check.
func (c *ServerChecker) PingResult(ctx context.Context) core.CheckResult {
	return execute(ctx, core.CategoryServer, probe{name: "ping", timeout: core.ProbeTimeoutShort, run: c.ping})
}
