// Package config resolves the agent configuration directory and the
// per-instance file layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the process-wide agent configuration. It is constructed once
// at startup and passed by reference to the services that need it.
type Config struct {
	// ConfigDir is where per-instance settings, status, patterns, keys and
	// logs are stored.
	ConfigDir string

	// RdiffBackupPath is the transport tool executable, resolved from PATH
	// when not absolute.
	RdiffBackupPath string

	// RemotePort overrides the SSH port embedded in the remote schema.
	// Zero keeps the transport's default.
	RemotePort int

	// AcceptAnyHostKey disables strict host key checking in the remote
	// schema. Opt-in through MINARCA_ACCEPT_ANY_HOST_KEY for broken setups.
	AcceptAnyHostKey bool
}

// InstanceFiles lists the on-disk artifacts owned by one instance.
type InstanceFiles struct {
	Settings   string
	Status     string
	Patterns   string
	PrivateKey string
	PublicKey  string
	KnownHosts string
	BackupLog  string
	RestoreLog string
}

// settingsFileRe matches instance settings files and captures the instance
// id suffix. The default instance uses an empty suffix.
var settingsFileRe = regexp.MustCompile(`^minarca([0-9]*)\.properties$`)

// Load builds the configuration from environment variables (MINARCA_ prefix)
// and an optional minarca.yml in the configuration directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("minarca")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("config-dir", defaultConfigDir())
	v.SetDefault("rdiff-backup-path", "rdiff-backup")
	v.SetDefault("remote-port", 0)
	v.SetDefault("accept-any-host-key", false)

	cfg := &Config{
		ConfigDir:        v.GetString("config-dir"),
		RdiffBackupPath:  v.GetString("rdiff-backup-path"),
		RemotePort:       v.GetInt("remote-port"),
		AcceptAnyHostKey: v.GetBool("accept-any-host-key"),
	}

	// An optional config file may override the environment defaults.
	v.SetConfigName("minarca")
	v.SetConfigType("yaml")
	v.AddConfigPath(cfg.ConfigDir)
	if err := v.ReadInConfig(); err == nil {
		cfg.RdiffBackupPath = v.GetString("rdiff-backup-path")
		cfg.RemotePort = v.GetInt("remote-port")
		cfg.AcceptAnyHostKey = v.GetBool("accept-any-host-key")
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}
	return cfg, nil
}

// NewWithDir creates a configuration rooted at the given directory, bypassing
// environment resolution (for testing).
func NewWithDir(dir string) *Config {
	return &Config{
		ConfigDir:       dir,
		RdiffBackupPath: "rdiff-backup",
	}
}

func defaultConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "minarca")
}

// Files returns the file layout for the given instance id. The default
// instance uses an empty id.
func (c *Config) Files(id string) InstanceFiles {
	join := func(name string) string { return filepath.Join(c.ConfigDir, name) }
	return InstanceFiles{
		Settings:   join("minarca" + id + ".properties"),
		Status:     join("status" + id + ".properties"),
		Patterns:   join("patterns" + id),
		PrivateKey: join("id_rsa" + id),
		PublicKey:  join("id_rsa" + id + ".pub"),
		KnownHosts: join("known_hosts" + id),
		BackupLog:  join("backup" + id + ".log"),
		RestoreLog: join("restore" + id + ".log"),
	}
}

// InstanceIDs scans the configuration directory for settings files and
// returns the embedded instance ids, default instance first.
func (c *Config) InstanceIDs() ([]string, error) {
	entries, err := os.ReadDir(c.ConfigDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning config dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := settingsFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		ids = append(ids, m[1])
	}
	return ids, nil
}
