package disk

import (
	"golang.org/x/sys/unix"
)

// nativeOps uses getfsstat for the mount table and statfs for capacities.
type nativeOps struct{}

func (nativeOps) Mounts() ([]MountEntry, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil {
		return nil, err
	}
	buf := make([]unix.Statfs_t, n)
	n, err = unix.Getfsstat(buf, unix.MNT_NOWAIT)
	if err != nil {
		return nil, err
	}
	out := make([]MountEntry, 0, n)
	for _, st := range buf[:n] {
		out = append(out, MountEntry{
			Device:     bytesToString(st.Mntfromname[:]),
			MountPoint: bytesToString(st.Mntonname[:]),
			Fstype:     bytesToString(st.Fstypename[:]),
		})
	}
	return out, nil
}

func (nativeOps) Statfs(path string) (int64, int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := int64(st.Bsize)
	return int64(st.Blocks) * bsize, int64(st.Bavail) * bsize, nil
}

func bytesToString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
