//go:build js && wasm

package lockfile

import (
	"errors"
	"os"
)

var errRunLocked = errors.New("run lock already held by another process")

// WASM is single-process; locking is a no-op.
func flockExclusive(f *os.File) error {
	return nil
}

func flockUnlock(f *os.File) error {
	return nil
}

func isProcessRunning(pid int) bool {
	return pid == os.Getpid()
}
