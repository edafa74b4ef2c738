//go:build !unix

package ratelimit

import "os"

// flockExclusive has no portable equivalent lock primitive wired up on this
// platform; SharedBudget treats a failure here as "could not lock" and
// degrades to in-memory-only behavior per spec §4.9.
func flockExclusive(f *os.File) error {
	return errUnsupportedLock
}

func flockUnlock(f *os.File) error {
	return nil
}
