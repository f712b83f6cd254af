// Package instance implements the lifecycle of one backup instance: its
// persisted settings, status and patterns, the backup/restore/stop/pause
// operations, and the supervision of the transport tool.
package instance

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ikus060/minarca-agent/internal/config"
	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/disk"
	"github.com/ikus060/minarca-agent/internal/services/notify"
	"github.com/ikus060/minarca-agent/internal/services/patterns"
	"github.com/ikus060/minarca-agent/internal/services/rdiff"
	"github.com/ikus060/minarca-agent/internal/services/store"
	"github.com/ikus060/minarca-agent/internal/services/wol"
	"github.com/rs/zerolog"
)

// MarkerFilename is the identity marker placed one level above a local
// backup destination.
const MarkerFilename = ".minarca-id"

// earlyTriggerFactor lets a scheduled run start slightly before the full
// interval has elapsed, so a fixed polling granularity cannot push a daily
// backup later every day.
const earlyTriggerFactor = 0.98

// Runner abstracts the transport process runner for testing.
type Runner interface {
	Run(ctx context.Context, inv rdiff.Invocation) error
}

// DiskService abstracts volume resolution for testing.
type DiskService interface {
	GetDiskInfo(path string) (*models.DiskInfo, error)
	ListVolumes() ([]models.DiskInfo, error)
}

// Notifier abstracts user notification dispatch.
type Notifier interface {
	Send(ctx context.Context, title, body string)
}

// CommandExecutor runs hook commands and cache flushes.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Instance is one configured backup target.
type Instance struct {
	id       string
	cfg      *config.Config
	files    config.InstanceFiles
	settings *store.SettingsStore
	status   *store.StatusStore
	patterns *patterns.Engine
	runner   Runner
	diskSvc  DiskService
	notifier Notifier
	wolSvc   wol.Service
	executor CommandExecutor
	proc     ProcOps
	goos     string
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates an instance bound to the given id using native services.
func New(logger zerolog.Logger, cfg *config.Config, id string) *Instance {
	files := cfg.Files(id)
	return &Instance{
		id:       id,
		cfg:      cfg,
		files:    files,
		settings: store.NewSettings(logger, files.Settings),
		status:   store.NewStatus(logger, files.Status),
		patterns: patterns.New(logger, files.Patterns),
		runner:   rdiff.New(logger, cfg),
		diskSvc:  disk.New(logger),
		notifier: notify.New(logger),
		wolSvc:   wol.New(logger),
		executor: &DefaultExecutor{},
		proc:     nativeProcOps{},
		goos:     runtime.GOOS,
		now:      time.Now,
		logger:   logger.With().Str("instance", id).Logger(),
	}
}

// Deps bundles the replaceable collaborators of an instance (for testing).
type Deps struct {
	Runner   Runner
	Disk     DiskService
	Notifier Notifier
	WOL      wol.Service
	Executor CommandExecutor
	Proc     ProcOps
	GOOS     string
	Now      func() time.Time
}

// NewWithDeps creates an instance with custom collaborators (for testing).
func NewWithDeps(logger zerolog.Logger, cfg *config.Config, id string, deps Deps) *Instance {
	in := New(logger, cfg, id)
	if deps.Runner != nil {
		in.runner = deps.Runner
	}
	if deps.Disk != nil {
		in.diskSvc = deps.Disk
	}
	if deps.Notifier != nil {
		in.notifier = deps.Notifier
	}
	if deps.WOL != nil {
		in.wolSvc = deps.WOL
	}
	if deps.Executor != nil {
		in.executor = deps.Executor
	}
	if deps.Proc != nil {
		in.proc = deps.Proc
	}
	if deps.GOOS != "" {
		in.goos = deps.GOOS
		in.patterns = patterns.NewWithPlatform(logger, in.files.Patterns, deps.GOOS)
	}
	if deps.Now != nil {
		in.now = deps.Now
	}
	return in
}

// ID returns the instance identifier. The default instance has an empty id.
func (in *Instance) ID() string { return in.id }

// DisplayName returns a human-readable identifier for logs and listings.
func (in *Instance) DisplayName() string {
	if in.id == "" {
		return "default"
	}
	return in.id
}

// Settings returns the settings store of this instance.
func (in *Instance) Settings() *store.SettingsStore { return in.settings }

// Status returns the status store of this instance.
func (in *Instance) Status() *store.StatusStore { return in.status }

// Patterns returns the pattern engine of this instance.
func (in *Instance) Patterns() *patterns.Engine { return in.patterns }

// CurrentStatus loads the status and re-derives the effective result.
func (in *Instance) CurrentStatus() (models.Result, error) {
	st, err := in.status.Load()
	if err != nil {
		return models.ResultUnknown, err
	}
	return st.CurrentStatus(in.proc.Alive, in.now()), nil
}

// IsRunning reports whether a backup or restore is currently running.
func (in *Instance) IsRunning() (bool, error) {
	result, err := in.CurrentStatus()
	if err != nil {
		return false, err
	}
	return result == models.ResultRunning, nil
}

// IsBackupTime reports whether a scheduled backup is due: the schedule is
// active, the instance is not paused, and either no backup ever succeeded
// or the schedule interval (with the early-trigger tolerance) has elapsed
// since the last success.
func (in *Instance) IsBackupTime() (bool, error) {
	settings, err := in.settings.Load()
	if err != nil {
		return false, err
	}
	status, err := in.status.Load()
	if err != nil {
		return false, err
	}
	return in.isBackupTime(settings, status), nil
}

func (in *Instance) isBackupTime(settings *models.Settings, status *models.Status) bool {
	// A non-positive schedule means manual only.
	if settings.Schedule <= 0 {
		return false
	}
	now := in.now()
	if settings.Paused(now) {
		return false
	}
	for _, day := range settings.IgnoreWeekday {
		if now.Weekday() == day {
			return false
		}
	}
	if status.LastSuccess == nil {
		return true
	}
	interval := time.Duration(float64(settings.Schedule) * earlyTriggerFactor * float64(time.Hour))
	return now.Sub(*status.LastSuccess) > interval
}

// Pause suspends scheduled runs for the given number of hours. A
// non-positive delay clears any active pause.
func (in *Instance) Pause(hours int) error {
	return in.settings.Update(func(s *models.Settings) error {
		if hours <= 0 {
			s.PauseUntil = nil
			return nil
		}
		until := in.now().Add(time.Duration(hours) * time.Hour)
		s.PauseUntil = &until
		return nil
	})
}

// Forget deletes every file owned by this instance, removing it from the
// collection.
func (in *Instance) Forget() error {
	paths := []string{
		in.files.Settings, in.files.Status, in.files.Patterns,
		in.files.PrivateKey, in.files.PublicKey, in.files.KnownHosts,
		in.files.BackupLog, in.files.RestoreLog,
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("forgetting instance %s: %w", in.DisplayName(), err)
		}
	}
	in.logger.Info().Msg("instance forgotten")
	return nil
}

// FindLocalDestination resolves the current path of a local destination.
// The last-known mount point is tried first; when its identity marker does
// not match, every mounted volume is scanned for the instance's UUID. This
// is how the destination follows a removable drive across mount points.
func (in *Instance) FindLocalDestination() (string, error) {
	settings, err := in.settings.Load()
	if err != nil {
		return "", err
	}
	if !settings.IsLocal() {
		return "", models.ErrNotConfigured
	}

	if settings.LocalMountPoint != "" {
		dest := filepath.Join(settings.LocalMountPoint, filepath.FromSlash(settings.LocalRelPath))
		if readMarker(dest) == settings.LocalUUID {
			return dest, nil
		}
	}

	volumes, err := in.diskSvc.ListVolumes()
	if err != nil {
		return "", err
	}
	for _, vol := range volumes {
		dest := filepath.Join(vol.MountPoint, filepath.FromSlash(settings.LocalRelPath))
		if readMarker(dest) == settings.LocalUUID {
			// Remember the new mount point for the next resolution.
			_ = in.settings.Update(func(s *models.Settings) error {
				s.LocalMountPoint = vol.MountPoint
				return nil
			})
			return dest, nil
		}
	}
	return "", models.ErrLocalDestinationNotFound
}

// readMarker returns the UUID stored in the marker file one level above the
// destination, or empty when absent.
func readMarker(dest string) string {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(dest), MarkerFilename))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// remoteDestination builds the transport destination string for a remote
// instance, optionally suffixed with the root identifier on multi-root
// platforms.
func (in *Instance) remoteDestination(settings *models.Settings, root string) (string, error) {
	if !settings.IsRemote() {
		return "", models.ErrNotConfigured
	}
	host := settings.RemoteHost
	if h, _, err := net.SplitHostPort(settings.RemoteHost); err == nil {
		host = h
	}
	repo := settings.RepositoryName + rootSuffix(root)
	return fmt.Sprintf("%s@%s::%s", settings.Username, host, repo), nil
}

// remoteSchema builds the --remote-schema value for this instance, honoring
// a port embedded in the remote host.
func (in *Instance) remoteSchema(settings *models.Settings) string {
	effective := *in.cfg
	if _, portStr, err := net.SplitHostPort(settings.RemoteHost); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil && effective.RemotePort == 0 {
			effective.RemotePort = port
		}
	}
	return rdiff.BuildRemoteSchema(&effective, in.files.KnownHosts, in.files.PrivateKey)
}

// rootSuffix maps a filesystem root to the per-root repository suffix:
// empty for the single POSIX root, "/C" style for drive letters.
func rootSuffix(root string) string {
	if root == "" || root == "/" {
		return ""
	}
	return "/" + strings.TrimSuffix(root, ":")
}

// rootSource is the path handed to the transport as the backup source for a
// given root.
func rootSource(root string) string {
	if root == "/" {
		return "/"
	}
	return root + "/"
}
