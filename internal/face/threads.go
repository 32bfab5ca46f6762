package face

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// maxInferenceThreads caps the interpreter; face models are small and the
// other detectors share the CPU.
const maxInferenceThreads = 4

// determineThreadCount returns configured when positive, otherwise a count
// derived from the physical core count.
func determineThreadCount(configured int) int {
	systemCPUs := runtime.NumCPU()
	if configured > 0 {
		return min(configured, systemCPUs)
	}

	cores := cpuid.CPU.PhysicalCores
	if cores <= 0 {
		cores = cpuid.CPU.LogicalCores
	}
	if cores <= 0 {
		cores = systemCPUs
	}
	return max(1, min(cores/2, maxInferenceThreads, systemCPUs))
}
