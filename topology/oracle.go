package topology

import (
	"log"
	"sync"
)

// Oracle answers static topology questions for the lifetime of the process.
// Construct one with NewOracle; num nodes, CPUs per node, and distances are
// fixed once discovery completes (spec §4.A).
type Oracle struct {
	nodes     []nodeInfo
	distances [][]int
	degraded  bool

	warnOnce sync.Once
}

type nodeInfo struct {
	id   NodeID
	cpus []int
}

// discoverFunc is supplied per-platform (discover_linux.go / discover_fallback.go).
var discoverFunc = discoverTopology

// NewOracle discovers the NUMA topology of the host. On discovery failure —
// including the non-Linux fallback — it returns a single-node oracle with a
// uniform distance matrix, per spec §3/§6.
func NewOracle() *Oracle {
	nodes, distances, ok := discoverFunc()
	o := &Oracle{nodes: nodes, distances: distances, degraded: !ok}

	if !ok {
		o.warnDegraded()
	}

	return o
}

// NewStaticOracle builds an Oracle from an explicit topology instead of
// discovering one, for hosts where sysfs discovery is unavailable or
// undesirable and the caller knows the layout up front (e.g. a
// container pinned to specific nodes, or a test harness). cpus[i] lists
// the CPU ids for node i; distances must be square and match len(cpus).
func NewStaticOracle(cpus [][]int, distances [][]int) *Oracle {
	nodes := make([]nodeInfo, len(cpus))
	for i, c := range cpus {
		nodes[i] = nodeInfo{id: NodeID(i), cpus: c}
	}

	return &Oracle{nodes: nodes, distances: distances}
}

func (o *Oracle) warnDegraded() {
	o.warnOnce.Do(func() {
		log.Printf("topology: NUMA discovery unavailable, degrading to a single uniform node")
	})
}

// NumNodes returns the number of NUMA nodes on the host.
func (o *Oracle) NumNodes() int {
	return len(o.nodes)
}

// CPUsOf returns the CPU ids assigned to node. Returns nil for an invalid id.
func (o *Oracle) CPUsOf(node NodeID) []int {
	if !node.Valid(len(o.nodes)) {
		return nil
	}

	return o.nodes[node].cpus
}

// Distances returns the num_nodes x num_nodes distance matrix. On a
// degraded (single-node or discovery-failed) oracle, every off-diagonal
// entry equals the diagonal, as spec §3 requires.
func (o *Oracle) Distances() [][]int {
	return o.distances
}

// Degraded reports whether discovery fell back to the uniform topology.
func (o *Oracle) Degraded() bool {
	return o.degraded
}

func uniformTopology(numNodes, cpusPerNode int) ([]nodeInfo, [][]int) {
	if numNodes < 1 {
		numNodes = 1
	}
	if cpusPerNode < 1 {
		cpusPerNode = 1
	}

	nodes := make([]nodeInfo, numNodes)
	cpu := 0

	for i := 0; i < numNodes; i++ {
		cpus := make([]int, cpusPerNode)
		for j := range cpus {
			cpus[j] = cpu
			cpu++
		}

		nodes[i] = nodeInfo{id: NodeID(i), cpus: cpus}
	}

	distances := make([][]int, numNodes)
	for i := range distances {
		distances[i] = make([]int, numNodes)
		for j := range distances[i] {
			distances[i][j] = 10
		}
	}

	return nodes, distances
}
