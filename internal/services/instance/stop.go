package instance

import (
	"context"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/rdiff"
)

// Stop interrupts the running backup or restore of this instance. The ssh
// tunnel child is stopped before the main process, then the status is
// stamped interrupted even when the process resists termination.
func (in *Instance) Stop() error {
	status, err := in.status.Load()
	if err != nil {
		return err
	}
	if status.CurrentStatus(in.proc.Alive, in.now()) != models.ResultRunning {
		return models.ErrNotRunning
	}

	in.logger.Info().Int("pid", status.PID).Msg("stopping running operation")
	_ = in.proc.TerminateChildren(status.PID, "ssh")
	if err := in.proc.Terminate(status.PID); err != nil {
		in.logger.Warn().Err(err).Int("pid", status.PID).Msg("terminate failed")
	}
	for i := 0; i < 10 && in.proc.Alive(status.PID); i++ {
		time.Sleep(100 * time.Millisecond)
	}

	return in.status.Update(func(st *models.Status) error {
		now := in.now()
		st.LastResult = models.ResultInterrupt
		st.LastDate = &now
		st.Details = "Stopped by user"
		return nil
	})
}

// TestConnection verifies the instance can reach its destination: a
// transport test run for a remote repository, a marker resolution for a
// local one.
func (in *Instance) TestConnection(ctx context.Context) error {
	settings, err := in.settings.Load()
	if err != nil {
		return err
	}
	if settings.IsLocal() {
		_, err := in.FindLocalDestination()
		return err
	}
	dest, err := in.remoteDestination(settings, "/")
	if err != nil {
		return err
	}
	return in.runner.Run(ctx, rdiff.Invocation{
		Action:       "test",
		Verbosity:    transportVerbosity,
		RemoteSchema: in.remoteSchema(settings),
		Destination:  dest,
	})
}

// Verify checks the integrity of the most recent backup in the repository.
func (in *Instance) Verify(ctx context.Context) error {
	settings, err := in.settings.Load()
	if err != nil {
		return err
	}
	if !settings.Configured {
		return models.ErrNotConfigured
	}

	logFile, err := openLog(in.files.BackupLog, in.now())
	if err != nil {
		return err
	}
	defer logFile.Close()

	roots := []string{"/"}
	if in.goos == "windows" {
		if err := in.patterns.Load(); err != nil {
			return err
		}
		roots = nil
		for _, group := range in.patterns.GroupByRoots() {
			roots = append(roots, group.Root)
		}
	}
	for _, root := range roots {
		dest := ""
		schema := ""
		if settings.IsRemote() {
			dest, err = in.remoteDestination(settings, root)
			if err != nil {
				return err
			}
			schema = in.remoteSchema(settings)
		} else {
			localDest, err := in.FindLocalDestination()
			if err != nil {
				return err
			}
			dest = localDest + rootSuffix(root)
		}
		inv := rdiff.Invocation{
			Action:       "verify",
			Verbosity:    transportVerbosity,
			RemoteSchema: schema,
			Destination:  dest,
			LogSink:      logFile,
		}
		if err := in.runner.Run(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}
