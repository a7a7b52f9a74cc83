package memhook

import (
	"sync"
	"sync/atomic"

	"github.com/vantidb/numaexec/internal/xerrors"
	"github.com/vantidb/numaexec/topology"
)

// registry is the process-wide arena-id -> node-id map extent hooks consult
// to decide where to bind a mapping. Writes happen under registryMu at
// resource construction (Register) and on Close (Unregister); reads from
// the hot alloc path only ever look up
// a key that was written before the hook could possibly be invoked, so a
// plain RWMutex (rather than copy-on-write) is enough here (spec §5).
var (
	registryMu sync.RWMutex
	registry   = make(map[int]topology.NodeID)
	nextArena  int64

	// accounting: per-node extent allocation counts and bytes (spec §4.C,
	// diagnostic only).
	acctMu sync.Mutex
	extents   = make(map[topology.NodeID]int64)
	bytesUsed = make(map[topology.NodeID]int64)
)

// NextArenaID hands out a fresh arena id for a new resource.
func NextArenaID() int {
	return int(atomic.AddInt64(&nextArena, 1))
}

// Register binds arenaID to node. It is an invariant violation to register
// the same arena id twice (spec §4.C).
func Register(arenaID int, node topology.NodeID) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[arenaID]; exists {
		panic(xerrors.Invariant("DUPLICATE_ARENA", "arena id registered twice",
			map[string]interface{}{"arena_id": arenaID}))
	}

	registry[arenaID] = node
}

// Lookup resolves arenaID to its bound node.
func Lookup(arenaID int) (topology.NodeID, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	node, ok := registry[arenaID]

	return node, ok
}

// Unregister removes an arena's registration, e.g. on resource close. Not
// required by spec but keeps long-lived processes that churn resources from
// leaking registry entries.
func Unregister(arenaID int) {
	registryMu.Lock()
	defer registryMu.Unlock()

	delete(registry, arenaID)
}

func recordExtent(node topology.NodeID, size uintptr) {
	acctMu.Lock()
	defer acctMu.Unlock()

	extents[node]++
	bytesUsed[node] += int64(size)
}

// Stats returns the diagnostic extent-allocation and byte counters for node.
func Stats(node topology.NodeID) (extentCount, byteCount int64) {
	acctMu.Lock()
	defer acctMu.Unlock()

	return extents[node], bytesUsed[node]
}
