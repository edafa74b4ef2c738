//go:build unix

package ratelimit

import (
	"os"
	"syscall"
)

// flockExclusive takes an advisory whole-file exclusive lock (flock(2)) on f, blocking
// until acquired. It is the POSIX-like implementation referenced by spec
// §4.9.
func flockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// flockUnlock releases the lock taken by flockExclusive.
func flockUnlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
