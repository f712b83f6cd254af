package rdiff

import (
	"fmt"
	"strings"

	"github.com/ikus060/minarca-agent/internal/config"
)

// UserAgent identifies the agent in the remote schema so the server can log
// which client version connected.
const UserAgent = "minarca-agent"

// Version is set at build time.
var Version = "dev"

// BuildRemoteSchema assembles the SSH invocation template passed to the
// transport's --remote-schema flag: batch mode, public-key-only auth, the
// instance's known-hosts and identity files, a literal %s the tool replaces
// with the remote command, and a trailing user-agent string.
func BuildRemoteSchema(cfg *config.Config, knownHostsPath, identityPath string) string {
	parts := []string{
		"ssh",
		"-oBatchMode=yes",
		"-oPreferredAuthentications=publickey",
	}
	if cfg.AcceptAnyHostKey {
		parts = append(parts, "-oStrictHostKeyChecking=no")
	}
	if cfg.RemotePort > 0 {
		parts = append(parts, "-p", fmt.Sprintf("%d", cfg.RemotePort))
	}
	parts = append(parts,
		"-oUserKnownHostsFile="+shellQuote(knownHostsPath),
		"-oIdentitiesOnly=yes",
		"-i", shellQuote(identityPath),
		"%s",
		shellQuote(fmt.Sprintf("%s/%s", UserAgent, Version)),
	)
	return strings.Join(parts, " ")
}

// shellQuote single-quotes a value for embedding into the schema string.
// Values without special characters are left bare.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\$`&|;<>()*?[]#~%{}\n") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
