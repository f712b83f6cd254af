package disk

import (
	"golang.org/x/sys/windows"
)

// nativeOps enumerates logical drives through the Windows API.
type nativeOps struct{}

func (nativeOps) Mounts() ([]MountEntry, error) {
	bitmask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, err
	}
	var out []MountEntry
	for i := 0; i < 26; i++ {
		if bitmask&(1<<uint(i)) == 0 {
			continue
		}
		root := string(rune('A'+i)) + ":\\"
		rootPtr, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		driveType := windows.GetDriveType(rootPtr)
		if driveType != windows.DRIVE_FIXED && driveType != windows.DRIVE_REMOVABLE && driveType != windows.DRIVE_REMOTE {
			continue
		}
		fsName := make([]uint16, windows.MAX_PATH+1)
		volName := make([]uint16, windows.MAX_PATH+1)
		_ = windows.GetVolumeInformation(rootPtr, &volName[0], uint32(len(volName)), nil, nil, nil, &fsName[0], uint32(len(fsName)))
		out = append(out, MountEntry{
			Device:     windows.UTF16ToString(volName),
			MountPoint: string(rune('A'+i)) + ":",
			Fstype:     windows.UTF16ToString(fsName),
		})
	}
	return out, nil
}

func (nativeOps) Statfs(path string) (int64, int64, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, err
	}
	var free, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &free, &total, &totalFree); err != nil {
		return 0, 0, err
	}
	return int64(total), int64(free), nil
}
