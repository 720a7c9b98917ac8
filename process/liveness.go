package process

import "syscall"

// Alive reports whether a process with the given OS pid exists and can be
// signalled.
//
// It sends signal 0, which performs permission and existence checks without
// delivering anything. EPERM means the process exists but belongs to another
// user, which still counts as alive. Used by callers that persist pids across
// restarts and need to re-validate them before reattaching.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
