package runner

import "syscall"

// sendInterrupt delivers SIGINT to the subprocess's process group. This is
// the one platform-specific touch point for graceful cancellation; the
// control flow in Run never issues syscalls directly.
func sendInterrupt(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGINT)
}

// killProcessGroup force-terminates the whole process tree rooted at the
// subprocess.
func killProcessGroup(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
