//go:build linux

package memhook

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vantidb/numaexec/internal/xerrors"
	"github.com/vantidb/numaexec/topology"
)

// mbindModeBind is MPOL_BIND from linux/mempolicy.h.
const mbindModeBind = 2

// LinuxHook maps anonymous, private, read-write pages via mmap(2) and binds
// them to the node registered for the requesting arena via mbind(2),
// following the raw-syscall-through-x/sys idiom the teacher uses for
// splice/kqueue/IOCP (internal/runtime/asyncio).
type LinuxHook struct{}

// New returns the platform extent hook.
func New() Hook {
	return LinuxHook{}
}

// Alloc implements Hook.
func (LinuxHook) Alloc(size uintptr, arenaID int) ([]byte, error) {
	rounded := AlignUp(size)

	node, ok := Lookup(arenaID)
	if !ok {
		panic(xerrors.Invariant("UNREGISTERED_ARENA", "extent alloc for unregistered arena",
			map[string]interface{}{"arena_id": arenaID}))
	}

	region, err := unix.Mmap(-1, 0, int(rounded), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		panic(xerrors.ResourceExhausted("MMAP_FAILED", "failed to map extent",
			map[string]interface{}{"size": rounded, "err": err.Error()}))
	}

	// Best-effort: a bind failure doesn't invalidate the mapping, the
	// kernel just places pages under its default policy on first touch.
	_ = bindToNode(region, node)

	recordExtent(node, rounded)

	return region, nil
}

// Dalloc implements Hook.
func (LinuxHook) Dalloc(region []byte) error {
	return unix.Munmap(region)
}

// bindToNode issues mbind(2) with MPOL_BIND restricted to node's single bit
// in the nodemask, so the kernel migrates/faults pages onto that node only.
func bindToNode(region []byte, node topology.NodeID) error {
	if len(region) == 0 || node < 0 {
		return nil
	}

	var mask uint64

	mask |= 1 << uint(node)

	addr := uintptr(unsafe.Pointer(&region[0]))
	maxNode := uintptr(65) // nodemask bit width, matches kernel's default

	_, _, errno := unix.Syscall6(
		unix.SYS_MBIND,
		addr,
		uintptr(len(region)),
		uintptr(mbindModeBind),
		uintptr(unsafe.Pointer(&mask)),
		maxNode,
		0,
	)
	if errno != 0 {
		return errno
	}

	return nil
}
