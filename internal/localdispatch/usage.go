package localdispatch

import (
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a best-effort sample of a background job's current process.
type Usage struct {
	// CPUPercent is the CPU use since the previous sample, where 100 is one
	// full core.
	CPUPercent float64
	// MemoryRSS is the resident set size in bytes.
	MemoryRSS uint64
}

// sampleUsage reads the process table. Any failure yields a zero Usage.
func sampleUsage(proc *process.Process) Usage {
	if proc == nil {
		return Usage{}
	}
	cpu, err := proc.Percent(0)
	if err != nil {
		return Usage{}
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return Usage{}
	}
	return Usage{CPUPercent: cpu, MemoryRSS: mem.RSS}
}
