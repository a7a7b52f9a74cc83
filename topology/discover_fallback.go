//go:build !linux

package topology

import "runtime"

// discoverTopology has no sysfs to read outside Linux; it always degrades
// to the uniform single-node topology described in spec §6.
func discoverTopology() ([]nodeInfo, [][]int, bool) {
	nodes, distances := uniformTopology(1, runtime.NumCPU())

	return nodes, distances, false
}

// ValidateAffinity has no syscall backing outside Linux; CPU pinning is
// best-effort there (see worker/pin_fallback.go), so this always succeeds.
func ValidateAffinity(cpu int) bool {
	return true
}
