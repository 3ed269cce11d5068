//go:build unix || linux || darwin

package lockmgr

import "syscall"

// processAlive reports whether a process with the given PID is still
// running, by sending signal 0 (no-op, but fails if the PID is gone).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
