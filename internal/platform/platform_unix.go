//go:build !windows

package platform

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func hostShell(command string) (string, []string) {
	return "sh", []string{"-c", command}
}

func hostQuote(arg string) string { return posixQuote(arg) }

// ConfigureDetached puts the child in its own process group so the whole
// tree can be signalled at once.
func ConfigureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillTree sends SIGKILL to pid's process group and to every descendant that
// left the group. A process that is already gone is not an error.
func KillTree(pid int) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}

	// Collect descendants first: once the parent dies they are reparented
	// and can no longer be found by walking parent links.
	children := descendants(pid)

	var firstErr error
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			firstErr = err
		}
	} else if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		firstErr = err
	}

	for _, child := range children {
		if err := unix.Kill(child, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Alive reports whether pid names a live process. Zombies count as alive
// until reaped.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
