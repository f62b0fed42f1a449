//go:build linux

package ingest

import "golang.org/x/sys/unix"

// applyLimits caps the address space of a started build process. Children
// inherit the limit.
func applyLimits(pid int, memoryLimit int64) error {
	if memoryLimit <= 0 {
		return nil
	}
	lim := unix.Rlimit{Cur: uint64(memoryLimit), Max: uint64(memoryLimit)}
	return unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil)
}
