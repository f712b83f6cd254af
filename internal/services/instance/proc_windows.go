//go:build windows

package instance

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

type nativeProcOps struct{}

func (nativeProcOps) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == windows.STILL_ACTIVE
}

func (nativeProcOps) Terminate(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}

func (nativeProcOps) TerminateChildren(pid int, name string) error {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return err
	}
	for {
		if entry.ParentProcessID == uint32(pid) {
			exe := windows.UTF16ToString(entry.ExeFile[:])
			if strings.EqualFold(strings.TrimSuffix(exe, ".exe"), name) {
				_ = (nativeProcOps{}).Terminate(int(entry.ProcessID))
			}
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			break
		}
	}
	return nil
}
