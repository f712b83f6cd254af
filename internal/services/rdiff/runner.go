// Package rdiff launches the external backup-and-restore executable,
// streams its combined output through an error classifier, and maps exit
// codes to the typed failure taxonomy.
package rdiff

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ikus060/minarca-agent/internal/config"
	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/rs/zerolog"
)

// Exit codes the transport tool may return without indicating a failure:
// full success, success with skipped items, success with nothing to do.
var acceptedExitCodes = map[int]bool{0: true, 2: true, 8: true}

// Process is a started transport invocation.
type Process interface {
	// Output is the merged stdout+stderr stream.
	Output() io.Reader
	// Wait blocks until exit and returns the exit code. A negative code
	// with a non-nil error means the process could not be observed.
	Wait() (int, error)
	PID() int
}

// Starter spawns transport processes. It exists so tests can substitute the
// real executable.
type Starter interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// execStarter runs real processes with stdin closed and stderr merged into
// stdout.
type execStarter struct{}

type execProcess struct {
	cmd    *exec.Cmd
	output io.Reader
}

func (s execStarter) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, output: stdout}, nil
}

func (p *execProcess) Output() io.Reader { return p.output }

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Invocation is one run of the transport tool.
type Invocation struct {
	// Action is the transport subcommand: backup, restore, test, verify or
	// "remove increments".
	Action    string
	Verbosity int
	// RemoteSchema, when set, is passed as the SSH invocation template.
	RemoteSchema string
	ExtraArgs    []string
	Source       string
	Destination  string
	// LogSink receives every output line after classification.
	LogSink io.Writer
	// OnStart is called with the spawned pid before any output is read.
	OnStart func(pid int)
}

// Runner supervises transport invocations.
type Runner struct {
	starter Starter
	cfg     *config.Config
	logger  zerolog.Logger
}

// New creates a runner using the configured transport executable.
func New(logger zerolog.Logger, cfg *config.Config) *Runner {
	return &Runner{starter: execStarter{}, cfg: cfg, logger: logger}
}

// NewWithStarter creates a runner with a custom process starter (for
// testing).
func NewWithStarter(logger zerolog.Logger, cfg *config.Config, starter Starter) *Runner {
	return &Runner{starter: starter, cfg: cfg, logger: logger}
}

// Run executes one transport invocation. Output lines reach the classifier
// before the log sink. On an unaccepted exit code the most specific
// classified error is returned, else a bare exit-code error.
func (r *Runner) Run(ctx context.Context, inv Invocation) error {
	args := []string{"-v", strconv.Itoa(inv.Verbosity)}
	if inv.RemoteSchema != "" {
		args = append(args, "--remote-schema", inv.RemoteSchema)
	}
	args = append(args, strings.Fields(inv.Action)...)
	args = append(args, inv.ExtraArgs...)
	if inv.Source != "" {
		args = append(args, inv.Source)
	}
	if inv.Destination != "" {
		args = append(args, inv.Destination)
	}

	r.logger.Debug().Str("tool", r.cfg.RdiffBackupPath).Strs("args", args).Msg("starting transport process")

	proc, err := r.starter.Start(ctx, r.cfg.RdiffBackupPath, args...)
	if err != nil {
		return fmt.Errorf("cannot start %s: %w", r.cfg.RdiffBackupPath, err)
	}
	if inv.OnStart != nil {
		inv.OnStart(proc.PID())
	}

	cl := newClassifier()
	scanner := bufio.NewScanner(proc.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		cl.feed(line)
		if inv.LogSink != nil {
			fmt.Fprintln(inv.LogSink, line)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn().Err(err).Msg("transport output stream ended abnormally")
	}

	code, waitErr := proc.Wait()
	if waitErr != nil {
		if classified := cl.best(); classified != nil {
			return classified
		}
		return fmt.Errorf("transport process failed: %w", waitErr)
	}
	if acceptedExitCodes[code] {
		return nil
	}
	if classified := cl.best(); classified != nil {
		return classified
	}
	return &models.ExitCodeError{Code: code}
}
