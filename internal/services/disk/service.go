// Package disk resolves filesystem paths to their volume and enumerates
// mounted volumes. It is how a local backup destination is re-found when a
// removable drive shows up under a different mount point.
package disk

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/rs/zerolog"
)

// MountEntry is one mounted filesystem as reported by the OS.
type MountEntry struct {
	Device     string
	MountPoint string
	Fstype     string
}

// Ops is the platform seam for mount-table and capacity queries.
type Ops interface {
	Mounts() ([]MountEntry, error)
	Statfs(path string) (size, free int64, err error)
}

// Impl implements disk resolution on top of the platform Ops.
type Impl struct {
	ops    Ops
	logger zerolog.Logger
}

// New creates a disk service using the native platform operations.
func New(logger zerolog.Logger) *Impl {
	return &Impl{ops: nativeOps{}, logger: logger}
}

// NewWithOps creates a disk service with custom platform operations (for
// testing).
func NewWithOps(logger zerolog.Logger, ops Ops) *Impl {
	return &Impl{ops: ops, logger: logger}
}

// pseudoFstypes are filesystems that can never hold a backup destination.
var pseudoFstypes = map[string]bool{
	"proc": true, "sysfs": true, "devtmpfs": true, "devpts": true,
	"tmpfs": true, "cgroup": true, "cgroup2": true, "overlay": true,
	"squashfs": true, "ramfs": true, "securityfs": true, "debugfs": true,
	"tracefs": true, "fusectl": true, "pstore": true, "bpf": true,
	"autofs": true, "mqueue": true, "hugetlbfs": true, "configfs": true,
	"binfmt_misc": true, "nsfs": true, "efivarfs": true,
}

// GetDiskInfo resolves the volume holding the given path.
func (s *Impl) GetDiskInfo(path string) (*models.DiskInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	mounts, err := s.ops.Mounts()
	if err != nil {
		return nil, fmt.Errorf("listing mounts: %w", err)
	}
	// Longest mount point owning the path wins.
	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].MountPoint) > len(mounts[j].MountPoint)
	})
	var entry *MountEntry
	for i := range mounts {
		if underMount(abs, mounts[i].MountPoint) {
			entry = &mounts[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("no mounted volume holds %q", abs)
	}

	rel, err := filepath.Rel(entry.MountPoint, abs)
	if err != nil {
		return nil, fmt.Errorf("computing relative path: %w", err)
	}
	if rel == "." {
		rel = ""
	}

	size, free, err := s.ops.Statfs(entry.MountPoint)
	if err != nil {
		return nil, fmt.Errorf("querying capacity of %q: %w", entry.MountPoint, err)
	}

	return &models.DiskInfo{
		Device:     entry.Device,
		MountPoint: entry.MountPoint,
		RelPath:    filepath.ToSlash(rel),
		Caption:    filepath.Base(entry.MountPoint),
		Fstype:     entry.Fstype,
		Removable:  looksRemovable(entry.MountPoint),
		Size:       size,
		Used:       size - free,
		Free:       free,
	}, nil
}

// ListVolumes enumerates mounted volumes that could hold a backup
// destination, skipping pseudo filesystems.
func (s *Impl) ListVolumes() ([]models.DiskInfo, error) {
	mounts, err := s.ops.Mounts()
	if err != nil {
		return nil, fmt.Errorf("listing mounts: %w", err)
	}
	var out []models.DiskInfo
	for _, m := range mounts {
		if pseudoFstypes[m.Fstype] {
			continue
		}
		size, free, err := s.ops.Statfs(m.MountPoint)
		if err != nil {
			s.logger.Debug().Err(err).Str("mountpoint", m.MountPoint).Msg("skipping unreadable volume")
			continue
		}
		out = append(out, models.DiskInfo{
			Device:     m.Device,
			MountPoint: m.MountPoint,
			Caption:    filepath.Base(m.MountPoint),
			Fstype:     m.Fstype,
			Removable:  looksRemovable(m.MountPoint),
			Size:       size,
			Used:       size - free,
			Free:       free,
		})
	}
	return out, nil
}

func underMount(path, mountPoint string) bool {
	if mountPoint == "/" {
		return true
	}
	return path == mountPoint || strings.HasPrefix(path, mountPoint+string(filepath.Separator))
}

// looksRemovable is a best-effort heuristic based on conventional removable
// media mount locations.
func looksRemovable(mountPoint string) bool {
	for _, prefix := range []string{"/media/", "/run/media/", "/mnt/", "/Volumes/"} {
		if strings.HasPrefix(mountPoint, prefix) {
			return true
		}
	}
	return false
}
