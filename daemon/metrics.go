package daemon

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quarrylabs/quarry/errors"
)

// Rough per-worker budget: one import batch holds a parsed batch plus
// its mapped entities in memory.
const workerMemoryBudgetGB = 0.5

func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

func calculateSafeWorkerCount(availableGB float64) int {
	n := int(availableGB / workerMemoryBudgetGB)
	if n < 1 {
		n = 1
	}
	return n
}

// checkMemoryPressure validates the worker count against available
// memory. Returns a warning message, or empty when the count looks OK.
func (p *Pool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return "" // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if p.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent memory pressure.",
			p.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
