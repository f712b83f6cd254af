package disk

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// nativeOps reads the mount table from /proc/self/mounts and capacities via
// statfs.
type nativeOps struct{}

func (nativeOps) Mounts() ([]MountEntry, error) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []MountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		out = append(out, MountEntry{
			Device:     fields[0],
			MountPoint: unescapeMount(fields[1]),
			Fstype:     fields[2],
		})
	}
	return out, scanner.Err()
}

func (nativeOps) Statfs(path string) (int64, int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := int64(st.Bsize)
	return int64(st.Blocks) * bsize, int64(st.Bavail) * bsize, nil
}

// unescapeMount decodes the octal escapes /proc/mounts uses for spaces and
// other special characters.
func unescapeMount(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			var c byte
			for j := 1; j <= 3; j++ {
				c = c*8 + (s[i+j] - '0')
			}
			b.WriteByte(c)
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
