package infra

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is a snapshot of this process's footprint, logged at
// the end of each export pass.
type ResourceUsage struct {
	RSSBytes   uint64
	CPUPercent float64
}

// SelfResourceUsage samples the current process.
func SelfResourceUsage() (ResourceUsage, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ResourceUsage{}, err
	}

	var usage ResourceUsage
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		usage.RSSBytes = mem.RSS
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return usage, err
	}
	usage.CPUPercent = cpu
	return usage, nil
}
