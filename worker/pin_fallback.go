//go:build !linux

package worker

// pin is a no-op outside Linux: there is no portable CPU-affinity syscall,
// so pinning is best-effort (spec §6: degrades gracefully off Linux).
func pin(cpu int) {}
