package instance

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/rdiff"
)

// Restore brings files back from the repository. With a nil restore time
// the latest version is restored. Paths nested under another requested path
// are dropped, the parent restore covers them. An empty destination
// restores each path in place.
func (in *Instance) Restore(ctx context.Context, at *time.Time, paths []string, destination string) error {
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
	if len(paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}

	if err := in.enterRunning(models.ActionRestore); err != nil {
		return err
	}
	stopHeartbeat := in.startHeartbeat()

	runErr := in.runRestore(ctx, settings, at, reducePaths(paths), destination)

	stopHeartbeat()
	if err := in.leaveRunning(runErr); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (in *Instance) runRestore(ctx context.Context, settings *models.Settings, at *time.Time, paths []string, destination string) error {
	var localDest string
	var err error
	if settings.IsLocal() {
		localDest, err = in.FindLocalDestination()
		if err != nil {
			return err
		}
	}

	logFile, err := openLog(in.files.RestoreLog, in.now())
	if err != nil {
		return err
	}
	defer logFile.Close()

	atValue := "now"
	if at != nil {
		atValue = at.Format(time.RFC3339)
	}

	for _, path := range paths {
		root, rel := splitRoot(path, in.goos)
		base := localDest + rootSuffix(root)
		schema := ""
		if settings.IsRemote() {
			base, err = in.remoteDestination(settings, root)
			if err != nil {
				return err
			}
			schema = in.remoteSchema(settings)
		}
		target := path
		if destination != "" {
			target = filepath.Join(destination, filepath.Base(path))
		}
		in.logger.Info().Str("path", path).Str("at", atValue).Str("target", target).Msg("restoring")
		inv := rdiff.Invocation{
			Action:       "restore",
			Verbosity:    transportVerbosity,
			RemoteSchema: schema,
			ExtraArgs:    []string{"--force", "--at", atValue},
			Source:       base + "/" + rel,
			Destination:  target,
			LogSink:      logFile,
		}
		if err := in.runner.Run(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}

// reducePaths drops paths nested under another requested path, so each file
// is restored exactly once.
func reducePaths(paths []string) []string {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned = append(cleaned, filepath.ToSlash(filepath.Clean(p)))
	}
	sort.Strings(cleaned)
	var out []string
	for _, p := range cleaned {
		nested := false
		for _, kept := range out {
			if p == kept || strings.HasPrefix(p, kept+"/") {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, p)
		}
	}
	return out
}

// splitRoot maps an absolute path to its filesystem root and the slash
// separated remainder under that root.
func splitRoot(path, goos string) (root, rel string) {
	p := filepath.ToSlash(path)
	if goos == "windows" && len(p) >= 2 && p[1] == ':' {
		return strings.ToUpper(p[:2]), strings.TrimPrefix(p[2:], "/")
	}
	return "/", strings.TrimPrefix(p, "/")
}
