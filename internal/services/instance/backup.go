package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/patterns"
	"github.com/ikus060/minarca-agent/internal/services/rdiff"
)

// transportVerbosity is the fixed -v level passed to the transport tool.
// Level 5 includes the per-file listing needed for meaningful backup logs.
const transportVerbosity = 5

// Backup runs a backup now. Without force it refuses when the schedule says
// no; with force it also clears an active pause. At most one backup or
// restore runs per instance, and whatever happens after the running status
// is written, a terminal success or failure status is written too.
func (in *Instance) Backup(ctx context.Context, force bool) error {
	running, err := in.IsRunning()
	if err != nil {
		return err
	}
	if running {
		return models.ErrRunning
	}
	settings, err := in.settings.Load()
	if err != nil {
		return err
	}
	if !settings.Configured {
		return models.ErrNotConfigured
	}
	status, err := in.status.Load()
	if err != nil {
		return err
	}
	if force && settings.Paused(in.now()) {
		if err := in.Pause(0); err != nil {
			return err
		}
		settings.PauseUntil = nil
	}
	if !force && !in.isBackupTime(settings, status) {
		return models.ErrNotSchedule
	}

	if err := in.enterRunning(models.ActionBackup); err != nil {
		return err
	}
	stopHeartbeat := in.startHeartbeat()

	runErr := in.runBackup(ctx, settings)

	stopHeartbeat()
	if err := in.leaveRunning(runErr); err != nil && runErr == nil {
		runErr = err
	}
	in.notifyStaleness(ctx, settings, runErr)
	return runErr
}

// runBackup is the body of a backup run. It executes between the running
// and terminal status writes, so every error it returns ends up persisted
// as the failure detail.
func (in *Instance) runBackup(ctx context.Context, settings *models.Settings) error {
	if err := in.patterns.Load(); err != nil {
		return err
	}
	if in.patterns.Len() == 0 {
		return models.ErrNoPatterns
	}
	groups := in.patterns.GroupByRoots()
	if len(groups) == 0 {
		return models.ErrNoPatterns
	}

	if settings.IsRemote() && settings.WakeMAC != "" {
		in.wakeDestination(ctx, settings)
	}

	if err := in.runHook(ctx, settings.PreHookCommand, settings.IgnoreHookErrors, "pre"); err != nil {
		return err
	}

	var localDest string
	var err error
	if settings.IsLocal() {
		localDest, err = in.FindLocalDestination()
		if err != nil {
			return err
		}
	}

	logFile, err := openLog(in.files.BackupLog, in.now())
	if err != nil {
		return err
	}
	defer logFile.Close()

	for _, group := range groups {
		dest := localDest + rootSuffix(group.Root)
		schema := ""
		if settings.IsRemote() {
			dest, err = in.remoteDestination(settings, group.Root)
			if err != nil {
				return err
			}
			schema = in.remoteSchema(settings)
		}
		in.logger.Info().Str("root", group.Root).Str("destination", dest).Msg("backing up")
		inv := rdiff.Invocation{
			Action:       "backup",
			Verbosity:    transportVerbosity,
			RemoteSchema: schema,
			ExtraArgs:    in.backupArgs(group),
			Source:       rootSource(group.Root),
			Destination:  dest,
			LogSink:      logFile,
			OnStart: func(pid int) {
				in.logger.Debug().Int("pid", pid).Msg("transport started")
			},
		}
		if err := in.runner.Run(ctx, inv); err != nil {
			return err
		}
		if settings.IsLocal() {
			in.flushCaches(ctx)
			if err := in.pruneIncrements(ctx, settings, dest, logFile); err != nil {
				return err
			}
		}
	}

	return in.runHook(ctx, settings.PostHookCommand, settings.IgnoreHookErrors, "post")
}

// backupArgs builds the per-root flag list: platform flags, the ordered
// include and exclude rules, and the trailing catch-all exclude that keeps
// anything unmatched out of the backup.
func (in *Instance) backupArgs(group patterns.RootGroup) []string {
	var args []string
	if in.goos == "windows" {
		args = append(args, "--no-hard-links", "--exclude-symbolic-links")
	} else {
		args = append(args, "--exclude-sockets")
	}
	args = append(args, "--no-compression")
	for _, rule := range group.Patterns {
		flag := "--exclude"
		if rule.Include {
			flag = "--include"
		}
		args = append(args, flag, rule.Pattern)
	}
	root := group.Root
	if root == "/" {
		root = ""
	}
	return append(args, "--exclude", root+"/**")
}

// pruneIncrements enforces the retention policy of a local destination by
// removing increments older than the configured number of days.
func (in *Instance) pruneIncrements(ctx context.Context, settings *models.Settings, dest string, logFile *os.File) error {
	if settings.Keepdays <= 0 {
		return nil
	}
	in.logger.Info().Int("keepdays", settings.Keepdays).Msg("removing old increments")
	return in.runner.Run(ctx, rdiff.Invocation{
		Action:      "remove increments",
		Verbosity:   transportVerbosity,
		ExtraArgs:   []string{"--older-than", fmt.Sprintf("%dD", settings.Keepdays)},
		Destination: dest,
		LogSink:     logFile,
	})
}

// flushCaches asks the OS to flush filesystem buffers so a removable
// destination can be unplugged right after the run.
func (in *Instance) flushCaches(ctx context.Context) {
	if in.goos == "windows" {
		return
	}
	if _, err := in.executor.Execute(ctx, "sync"); err != nil {
		in.logger.Warn().Err(err).Msg("cache flush failed")
	}
}

// wakeDestination sends a wake-on-lan packet to the backup destination and
// waits for it to come up. Failure is logged, not fatal: the destination
// may simply be awake already.
func (in *Instance) wakeDestination(ctx context.Context, settings *models.Settings) {
	result, err := in.wolSvc.Wake(ctx, models.WOLConfig{
		MACAddress:    settings.WakeMAC,
		BroadcastIP:   settings.WakeBroadcast,
		StabilizeWait: 30 * time.Second,
	})
	if err == nil && result.Error != nil {
		err = result.Error
	}
	if err != nil {
		in.logger.Warn().Err(err).Str("mac", settings.WakeMAC).Msg("wake-on-lan failed")
	}
}

// runHook executes a user hook command through the platform shell.
func (in *Instance) runHook(ctx context.Context, command string, ignoreErrors bool, phase string) error {
	if command == "" {
		return nil
	}
	in.logger.Info().Str("phase", phase).Str("command", command).Msg("running hook")
	var out []byte
	var err error
	if in.goos == "windows" {
		out, err = in.executor.Execute(ctx, "cmd.exe", "/c", command)
	} else {
		out, err = in.executor.Execute(ctx, "sh", "-c", command)
	}
	if err != nil {
		if ignoreErrors {
			in.logger.Warn().Err(err).Str("phase", phase).Msg("hook failed, ignored")
			return nil
		}
		return fmt.Errorf("%s hook failed: %w: %s", phase, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// enterRunning persists the running status with this process pid, so other
// processes can see the run and detect an interrupted one.
func (in *Instance) enterRunning(action models.Action) error {
	return in.status.Update(func(st *models.Status) error {
		now := in.now()
		st.LastResult = models.ResultRunning
		st.LastDate = &now
		st.Action = action
		st.PID = os.Getpid()
		st.Details = ""
		return nil
	})
}

// leaveRunning writes the terminal status for a finished run. On success the
// last success timestamp equals the last date and any previous failure
// detail is cleared.
func (in *Instance) leaveRunning(runErr error) error {
	return in.status.Update(func(st *models.Status) error {
		now := in.now()
		st.LastDate = &now
		if runErr == nil {
			st.LastResult = models.ResultSuccess
			st.LastSuccess = &now
			st.Details = ""
			st.LastNotificationID = ""
			st.LastNotificationDate = nil
		} else {
			st.LastResult = models.ResultFailure
			st.Details = errDetail(runErr)
		}
		return nil
	})
}

// startHeartbeat refreshes the running status date until stopped, so a
// reader can tell a live run from a stale one. The returned stop function
// waits for the goroutine to exit before the terminal status is written.
func (in *Instance) startHeartbeat() func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(models.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := in.status.Update(func(st *models.Status) error {
					now := in.now()
					st.LastDate = &now
					return nil
				})
				if err != nil {
					in.logger.Warn().Err(err).Msg("heartbeat write failed")
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

// notifyStaleness sends a desktop notification when backups have not
// succeeded within the configured maximum age. Repeats are throttled to one
// per day, and the throttle state is cleared by any success.
func (in *Instance) notifyStaleness(ctx context.Context, settings *models.Settings, runErr error) {
	if runErr == nil || settings.Maxage <= 0 {
		return
	}
	status, err := in.status.Load()
	if err != nil {
		return
	}
	now := in.now()
	if status.LastSuccess != nil && now.Sub(*status.LastSuccess) < time.Duration(settings.Maxage)*24*time.Hour {
		return
	}
	if status.LastNotificationDate != nil && now.Sub(*status.LastNotificationDate) < 24*time.Hour {
		return
	}
	body := fmt.Sprintf("Backup %s did not complete successfully for more than %d days.", in.DisplayName(), settings.Maxage)
	in.notifier.Send(ctx, "Backup is outdated", body)
	_ = in.status.Update(func(st *models.Status) error {
		st.LastNotificationID = now.Format(time.RFC3339)
		st.LastNotificationDate = &now
		return nil
	})
}

// errDetail extracts the user-facing message persisted as failure detail.
func errDetail(err error) string {
	var backupErr *models.BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Message
	}
	return err.Error()
}

// openLog opens an instance log for appending and stamps the run start.
func openLog(path string, now time.Time) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", path, err)
	}
	fmt.Fprintf(f, "[%s] starting\n", now.Format(time.RFC3339))
	return f, nil
}
