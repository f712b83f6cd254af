// Package models contains the data structures used throughout minarca-agent.
package models

import "time"

// Settings holds the persisted configuration of one backup instance.
//
// An instance is either "remote" (RemoteHost and RepositoryName populated) or
// "local" (LocalUUID and LocalRelPath populated). Once Configured is true,
// exactly one of the two groups is set.
type Settings struct {
	Username       string
	RepositoryName string
	RemoteHost     string
	RemoteURL      string

	// Schedule is the backup interval in hours. Zero or negative means the
	// instance only runs when triggered manually.
	Schedule   int
	Configured bool

	// PauseUntil suspends scheduled runs until the given time. nil means
	// not paused.
	PauseUntil *time.Time

	// Local destination identity. The UUID matches the content of the
	// .minarca-id marker file placed next to the backup destination.
	LocalUUID       string
	LocalRelPath    string
	LocalMountPoint string
	LocalCaption    string

	// Keepdays is the retention period in days for increments on a local
	// destination. -1 means no retention configured.
	Keepdays int

	// Maxage is the number of days without a successful backup after which
	// a user notification is emitted. Zero disables notifications.
	Maxage int

	// IgnoreWeekday lists weekdays on which scheduled runs are skipped.
	IgnoreWeekday []time.Weekday

	PreHookCommand   string
	PostHookCommand  string
	IgnoreHookErrors bool

	// WakeMAC optionally wakes the remote backup host with a magic packet
	// before a run. Empty disables Wake-on-LAN.
	WakeMAC       string
	WakeBroadcast string
}

// NewSettings returns settings with the documented unset defaults.
func NewSettings() *Settings {
	return &Settings{
		Schedule: 24,
		Keepdays: -1,
	}
}

// IsRemote reports whether the instance targets a remote repository.
func (s *Settings) IsRemote() bool {
	return s.RemoteHost != "" && s.RepositoryName != ""
}

// IsLocal reports whether the instance targets a local or removable disk.
func (s *Settings) IsLocal() bool {
	return s.LocalUUID != "" && s.LocalRelPath != ""
}

// Paused reports whether scheduled runs are currently suspended.
func (s *Settings) Paused(now time.Time) bool {
	return s.PauseUntil != nil && now.Before(*s.PauseUntil)
}
