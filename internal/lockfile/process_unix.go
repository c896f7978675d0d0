//go:build unix

package lockfile

import "golang.org/x/sys/unix"

// isProcessRunning checks if a process with the given PID is running.
// EPERM means the process exists but belongs to another user.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false // 0 would signal our own process group
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
