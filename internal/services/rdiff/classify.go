package rdiff

import (
	"strings"

	"github.com/ikus060/minarca-agent/internal/models"
)

// signature maps a known transport output fragment to a classified error.
// Entries are ordered from most to least specific; the first match in the
// whole stream wins.
type signature struct {
	fragment string
	kind     models.BackupKind
	message  string
}

var signatures = []signature{
	{"name or service not known", models.KindUnknownHost, "cannot resolve the remote server hostname"},
	{"nodename nor servname provided", models.KindUnknownHost, "cannot resolve the remote server hostname"},
	{"could not resolve hostname", models.KindUnknownHost, "cannot resolve the remote server hostname"},
	{"temporary failure in name resolution", models.KindUnknownHost, "cannot resolve the remote server hostname"},
	{"permission denied (publickey", models.KindSSHAuthRefused, "remote server refused the SSH key, reconfigure the instance"},
	{"host key verification failed", models.KindSSHAuthRefused, "remote server identity changed, host key verification failed"},
	{"connection reset by peer", models.KindConnectionDropped, "connection to the remote server was dropped"},
	{"connection closed by remote host", models.KindConnectionDropped, "connection to the remote server was dropped"},
	{"broken pipe", models.KindConnectionDropped, "connection to the remote server was dropped"},
	{"connection refused", models.KindConnectionDropped, "remote server refused the connection"},
	{"no space left on device", models.KindDiskFull, "destination disk is full"},
	{"disk quota exceeded", models.KindDiskFull, "destination disk quota exceeded"},
	{"read-only file system", models.KindPermissionDenied, "destination file system is read-only"},
	{"access is denied", models.KindPermissionDenied, "access denied on the destination"},
	{"permission denied", models.KindPermissionDenied, "access denied on the destination"},
	{"incompatible api version", models.KindVersionMismatch, "transport tool versions are incompatible"},
	{"protocol version mismatch", models.KindVersionMismatch, "transport tool versions are incompatible"},
}

// classifier folds the output stream into the most specific matching error.
type classifier struct {
	bestIdx int
}

func newClassifier() *classifier {
	return &classifier{bestIdx: len(signatures)}
}

func (c *classifier) feed(line string) {
	lower := strings.ToLower(line)
	for i, sig := range signatures {
		if i >= c.bestIdx {
			break
		}
		if strings.Contains(lower, sig.fragment) {
			c.bestIdx = i
			break
		}
	}
}

// best returns the classified error, or nil when no signature matched.
func (c *classifier) best() error {
	if c.bestIdx >= len(signatures) {
		return nil
	}
	sig := signatures[c.bestIdx]
	return &models.BackupError{Kind: sig.kind, Message: sig.message}
}
