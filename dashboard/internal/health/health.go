// Package health collects the dashboard session's own resource stats for
// heartbeat reporting.
package health

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a point-in-time self-measurement of the session process.
type Stats struct {
	MemoryMB       float64
	CPUPercent     float64
	GoroutineCount int
}

// Collect gathers current process stats. Per-process CPU and RSS come from
// the OS when available; failures degrade to Go-runtime numbers rather
// than erroring, since a heartbeat with partial stats beats no heartbeat.
func Collect() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := Stats{
		MemoryMB:       float64(m.Alloc) / 1024 / 1024,
		GoroutineCount: runtime.NumGoroutine(),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryMB = float64(mem.RSS) / 1024 / 1024
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}
