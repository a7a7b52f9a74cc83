//go:build linux

package topology

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const sysNodePath = "/sys/devices/system/node"

// discoverTopology reads node->CPU membership and pairwise distances from
// sysfs. It returns ok=false (triggering the uniform fallback) if the
// sysfs tree is absent, unreadable, or reports zero nodes.
func discoverTopology() ([]nodeInfo, [][]int, bool) {
	entries, err := os.ReadDir(sysNodePath)
	if err != nil {
		return uniformFallback()
	}

	var nodeIDs []int

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}

		n, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}

		nodeIDs = append(nodeIDs, n)
	}

	if len(nodeIDs) == 0 {
		return uniformFallback()
	}

	sort.Ints(nodeIDs)

	nodes := make([]nodeInfo, len(nodeIDs))

	for i, n := range nodeIDs {
		cpus, err := readCPUList(filepath.Join(sysNodePath, "node"+strconv.Itoa(n), "cpulist"))
		if err != nil || len(cpus) == 0 {
			return uniformFallback()
		}

		nodes[i] = nodeInfo{id: NodeID(i), cpus: cpus}
	}

	distances := make([][]int, len(nodeIDs))

	for i, n := range nodeIDs {
		row, err := readDistanceRow(filepath.Join(sysNodePath, "node"+strconv.Itoa(n), "distance"))
		if err != nil || len(row) != len(nodeIDs) {
			return uniformFallback()
		}

		distances[i] = row
	}

	return nodes, distances, true
}

// readCPUList parses a Linux cpulist file, e.g. "0-3,8" -> [0,1,2,3,8].
func readCPUList(path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cpus []int

	for _, field := range strings.Split(strings.TrimSpace(string(raw)), ",") {
		if field == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(field, "-"); ok {
			start, err := strconv.Atoi(lo)
			if err != nil {
				continue
			}

			end, err := strconv.Atoi(hi)
			if err != nil {
				continue
			}

			for c := start; c <= end; c++ {
				cpus = append(cpus, c)
			}
		} else {
			c, err := strconv.Atoi(field)
			if err != nil {
				continue
			}

			cpus = append(cpus, c)
		}
	}

	return cpus, nil
}

func readDistanceRow(path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var row []int

	for _, f := range strings.Fields(string(raw)) {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}

		row = append(row, v)
	}

	return row, nil
}

func uniformFallback() ([]nodeInfo, [][]int, bool) {
	nodes, distances := uniformTopology(1, runtime.NumCPU())

	return nodes, distances, false
}

// ValidateAffinity confirms the CPU id is schedulable on this host; used by
// worker pinning to fail fast with a clear error rather than an opaque
// syscall failure from sched_setaffinity.
func ValidateAffinity(cpu int) bool {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return true // can't tell, don't block
	}

	return set.IsSet(cpu)
}
