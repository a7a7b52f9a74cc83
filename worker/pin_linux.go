//go:build linux

package worker

import (
	"log"

	"golang.org/x/sys/unix"

	"github.com/vantidb/numaexec/topology"
)

// pin restricts the calling (already OS-thread-locked) goroutine to cpu via
// sched_setaffinity(2), generalizing the bitmask-only AffinityManager of
// the teacher's kernel scheduler into a real syscall-backed pin.
func pin(cpu int) {
	if !topology.ValidateAffinity(cpu) {
		log.Printf("worker: cpu %d not in process affinity mask, pinning best-effort", cpu)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Printf("worker: sched_setaffinity(cpu=%d) failed: %v", cpu, err)
	}
}
