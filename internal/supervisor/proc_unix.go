//go:build unix

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	termSignal = unix.SIGTERM
	killSignal = unix.SIGKILL
)

// setProcessGroup puts the child in its own group so that helpers it forks
// (go run spawns the compiled binary) are signalled with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig unix.Signal) error {
	return unix.Kill(-pid, sig)
}

func isNoSuchProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}
