// Package store persists the per-instance settings and status records as
// properties files. Every save rewrites the whole file atomically so a crash
// mid-mutation never leaves a partially written record, and Update gives the
// scoped load-mutate-save discipline used by all callers.
package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/magiconair/properties"
	"github.com/rs/zerolog"
)

// SettingsStore reads and writes one instance's settings file.
type SettingsStore struct {
	path   string
	logger zerolog.Logger
}

// NewSettings creates a settings store backed by the given file.
func NewSettings(logger zerolog.Logger, path string) *SettingsStore {
	return &SettingsStore{path: path, logger: logger}
}

// Path returns the backing file location.
func (s *SettingsStore) Path() string { return s.path }

// Exists reports whether the settings file is present on disk.
func (s *SettingsStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the settings file. A missing file yields default settings.
func (s *SettingsStore) Load() (*models.Settings, error) {
	v := models.NewSettings()
	p, err := loadProps(s.path)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if p == nil {
		return v, nil
	}

	v.Username = p.GetString("username", "")
	v.RepositoryName = p.GetString("repositoryname", "")
	v.RemoteHost = p.GetString("remotehost", "")
	v.RemoteURL = p.GetString("remoteurl", "")
	v.Schedule = p.GetInt("schedule", v.Schedule)
	v.Configured = p.GetBool("configured", false)
	v.PauseUntil = parseTime(p.GetString("pause_until", ""))
	v.LocalUUID = p.GetString("localuuid", "")
	v.LocalRelPath = p.GetString("localrelpath", "")
	v.LocalMountPoint = p.GetString("localmountpoint", "")
	v.LocalCaption = p.GetString("localcaption", "")
	v.Keepdays = p.GetInt("keepdays", -1)
	v.Maxage = p.GetInt("maxage", 0)
	v.IgnoreWeekday = parseWeekdays(p.GetString("ignore_weekday", ""))
	v.PreHookCommand = p.GetString("pre_hook_command", "")
	v.PostHookCommand = p.GetString("post_hook_command", "")
	v.IgnoreHookErrors = p.GetBool("ignore_hook_errors", false)
	v.WakeMAC = p.GetString("wake_mac", "")
	v.WakeBroadcast = p.GetString("wake_broadcast", "")
	return v, nil
}

// Save rewrites the settings file atomically.
func (s *SettingsStore) Save(v *models.Settings) error {
	p := properties.NewProperties()
	set := func(key, value string) {
		if value != "" {
			_, _, _ = p.Set(key, value)
		}
	}
	set("username", v.Username)
	set("repositoryname", v.RepositoryName)
	set("remotehost", v.RemoteHost)
	set("remoteurl", v.RemoteURL)
	set("schedule", strconv.Itoa(v.Schedule))
	set("configured", strconv.FormatBool(v.Configured))
	set("pause_until", formatTime(v.PauseUntil))
	set("localuuid", v.LocalUUID)
	set("localrelpath", v.LocalRelPath)
	set("localmountpoint", v.LocalMountPoint)
	set("localcaption", v.LocalCaption)
	set("keepdays", strconv.Itoa(v.Keepdays))
	set("maxage", strconv.Itoa(v.Maxage))
	set("ignore_weekday", formatWeekdays(v.IgnoreWeekday))
	set("pre_hook_command", v.PreHookCommand)
	set("post_hook_command", v.PostHookCommand)
	set("ignore_hook_errors", strconv.FormatBool(v.IgnoreHookErrors))
	set("wake_mac", v.WakeMAC)
	set("wake_broadcast", v.WakeBroadcast)
	if err := writeProps(s.path, p); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// Update runs fn against the loaded settings and unconditionally persists
// the record afterwards, even when fn fails. The fn error takes precedence
// over a save error.
func (s *SettingsStore) Update(fn func(*models.Settings) error) error {
	v, err := s.Load()
	if err != nil {
		return err
	}
	fnErr := fn(v)
	if err := s.Save(v); err != nil {
		if fnErr != nil {
			return fnErr
		}
		return err
	}
	return fnErr
}

// Delete removes the settings file, ignoring a missing one.
func (s *SettingsStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting settings: %w", err)
	}
	return nil
}

func loadProps(path string) (*properties.Properties, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func writeProps(path string, p *properties.Properties) error {
	var b strings.Builder
	if _, err := p.Write(&b, properties.UTF8); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func parseWeekdays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		out = append(out, time.Weekday(n))
	}
	return out
}

func formatWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}
