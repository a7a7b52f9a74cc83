// Package numamem implements the per-node NUMA memory resource: an
// allocator whose extents are obtained from a host-allocator-style hook
// that maps pages and binds them to a single node (spec §4.C).
package numamem

import (
	"fmt"
	"sync"

	"github.com/vantidb/numaexec/internal/memhook"
	"github.com/vantidb/numaexec/internal/xerrors"
	"github.com/vantidb/numaexec/topology"
)

// minExtentSize bounds how small a single extent mapping may be; small
// allocations share an extent instead of causing a mmap per request.
const minExtentSize = 64 * memhook.PageSize

type extent struct {
	region []byte
	offset uintptr
}

type chunk struct {
	ptr       []byte
	allocated bool
}

// Resource is a per-node allocator: it owns the node it binds to, an
// opaque arena id in the (process-wide) registry, and the extent hook used
// to grow its backing memory. It provides the standard allocate/
// deallocate/equals triple for embedding into container allocator adapters
// (spec §6).
type Resource struct {
	node    topology.NodeID
	arenaID int
	hook    memhook.Hook

	mu       sync.Mutex
	extents  []*extent
	chunks   []*chunk
	freeList []*chunk
}

// New constructs a memory resource bound to node. Construction fails if
// node is not a real node in numNodes (spec §6).
func New(node topology.NodeID, numNodes int) (*Resource, error) {
	if !node.Valid(numNodes) {
		return nil, fmt.Errorf("numamem: node %d is not a valid node (numNodes=%d)", node, numNodes)
	}

	r := &Resource{
		node:    node,
		arenaID: memhook.NextArenaID(),
		hook:    memhook.New(),
	}

	memhook.Register(r.arenaID, node)

	return r, nil
}

// Node returns the NUMA node this resource binds to.
func (r *Resource) Node() topology.NodeID {
	return r.node
}

// Allocate delegates to the host allocator with flags that pin the
// allocation to this resource's arena. The returned slice is aligned to at
// least alignment. Panics with a resource-exhaustion error if the arena
// cannot satisfy the request (spec §4.C, §7: fatal, no graceful retry).
func (r *Resource) Allocate(size, alignment uintptr) []byte {
	if alignment == 0 {
		alignment = 8
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reused := r.takeFromFreeList(size); reused != nil {
		return reused
	}

	if len(r.extents) > 0 {
		if buf := r.bumpFromExtent(r.extents[len(r.extents)-1], size, alignment); buf != nil {
			return buf
		}
	}

	extentSize := size
	if extentSize < minExtentSize {
		extentSize = minExtentSize
	}

	region, err := r.hook.Alloc(extentSize, r.arenaID)
	if err != nil {
		panic(xerrors.ResourceExhausted("ARENA_EXHAUSTED", "extent hook failed to satisfy allocation",
			map[string]interface{}{"node": int(r.node), "size": size}))
	}

	ext := &extent{region: region}
	r.extents = append(r.extents, ext)

	buf := r.bumpFromExtent(ext, size, alignment)
	if buf == nil {
		panic(xerrors.ResourceExhausted("ARENA_EXHAUSTED", "new extent too small for allocation",
			map[string]interface{}{"node": int(r.node), "size": size, "extent_size": len(region)}))
	}

	return buf
}

func (r *Resource) bumpFromExtent(e *extent, size, alignment uintptr) []byte {
	aligned := (e.offset + alignment - 1) &^ (alignment - 1)
	if aligned+size > uintptr(len(e.region)) {
		return nil
	}

	buf := e.region[aligned : aligned+size]
	e.offset = aligned + size

	c := &chunk{ptr: buf, allocated: true}
	r.chunks = append(r.chunks, c)

	return buf
}

func (r *Resource) takeFromFreeList(size uintptr) []byte {
	for i, c := range r.freeList {
		if uintptr(len(c.ptr)) >= size {
			r.freeList = append(r.freeList[:i], r.freeList[i+1:]...)
			c.allocated = true

			return c.ptr[:size]
		}
	}

	return nil
}

// Deallocate returns storage to the arena for reuse by a later Allocate
// call with the same flags (spec §4.C). The underlying extent is not
// unmapped until Close.
func (r *Resource) Deallocate(ptr []byte, size, alignment uintptr) {
	if len(ptr) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.chunks {
		if sameBacking(c.ptr, ptr) && c.allocated {
			c.allocated = false
			r.freeList = append(r.freeList, c)

			return
		}
	}
}

func sameBacking(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

// Equals reports identity: two resources are equal iff they are the same
// object (spec §4.C, §8).
func (r *Resource) Equals(other *Resource) bool {
	return r == other
}

// Close returns every extent to the host allocator and unregisters the
// arena. Not part of spec's minimal surface but needed so long-lived
// processes that create/destroy resources don't leak registry entries or
// mappings.
func (r *Resource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error

	for _, e := range r.extents {
		if err := r.hook.Dalloc(e.region); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.extents = nil
	r.chunks = nil
	r.freeList = nil

	memhook.Unregister(r.arenaID)

	return firstErr
}

// Stats returns the diagnostic extent-allocation and byte counters for this
// resource's node (spec §4.C: "diagnostic, not load-bearing").
func (r *Resource) Stats() (extentCount, byteCount int64) {
	return memhook.Stats(r.node)
}
