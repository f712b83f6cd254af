//go:build !windows

package instance

import (
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

type nativeProcOps struct{}

func (nativeProcOps) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	// EPERM means the process exists but belongs to someone else.
	return err == nil || err == unix.EPERM
}

func (nativeProcOps) Terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

func (nativeProcOps) TerminateChildren(pid int, name string) error {
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid), "-x", name).Output()
	if err != nil {
		// pgrep exits non-zero when nothing matches.
		return nil
	}
	for _, field := range strings.Fields(string(out)) {
		child, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		_ = unix.Kill(child, unix.SIGTERM)
	}
	return nil
}
