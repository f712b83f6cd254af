package models

// DiskInfo describes the volume holding a given path.
type DiskInfo struct {
	Device     string
	MountPoint string
	// RelPath is the path relative to the mount point.
	RelPath string
	Caption string
	Fstype  string
	// Removable is best-effort: true when the device class suggests an
	// external or removable drive.
	Removable bool

	Size int64
	Used int64
	Free int64
}
