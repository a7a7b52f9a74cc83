//go:build !linux

package memhook

import "github.com/vantidb/numaexec/internal/xerrors"

// FallbackHook backs extent allocations with plain Go heap memory on
// platforms without mmap/mbind; node binding is a no-op (spec §6: degrades
// to a single node with uniform distances).
type FallbackHook struct{}

// New returns the platform extent hook.
func New() Hook {
	return FallbackHook{}
}

// Alloc implements Hook.
func (FallbackHook) Alloc(size uintptr, arenaID int) ([]byte, error) {
	rounded := AlignUp(size)

	node, ok := Lookup(arenaID)
	if !ok {
		panic(xerrors.Invariant("UNREGISTERED_ARENA", "extent alloc for unregistered arena",
			map[string]interface{}{"arena_id": arenaID}))
	}

	recordExtent(node, rounded)

	return make([]byte, rounded), nil
}

// Dalloc implements Hook.
func (FallbackHook) Dalloc(region []byte) error {
	return nil
}
