// Package scheduler registers the recurring agent invocation with the OS
// task scheduler.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// taskMarker tags the crontab line and the task name so our entry can be
// found and removed again.
const taskMarker = "minarca-agent"

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
	ExecuteWithInput(ctx context.Context, input string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// ExecuteWithInput runs a command feeding the given input on stdin.
func (e *DefaultExecutor) ExecuteWithInput(ctx context.Context, input string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(input)
	return cmd.CombinedOutput()
}

// Service manages the recurring scheduled invocation of the agent.
type Service struct {
	executor CommandExecutor
	goos     string
	logger   zerolog.Logger
}

// New creates a scheduler adapter for the current platform.
func New(logger zerolog.Logger) *Service {
	return &Service{executor: &DefaultExecutor{}, goos: runtime.GOOS, logger: logger}
}

// NewWithExecutor creates a scheduler adapter with a custom executor and
// platform (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor, goos string) *Service {
	return &Service{executor: executor, goos: goos, logger: logger}
}

// Exists reports whether the recurring task is registered.
func (s *Service) Exists(ctx context.Context) (bool, error) {
	switch s.goos {
	case "windows":
		output, err := s.executor.Execute(ctx, "schtasks", "/Query", "/TN", taskMarker)
		if err != nil {
			return false, nil //nolint:nilerr // a missing task is reported as an error exit
		}
		return strings.Contains(string(output), taskMarker), nil
	case "darwin":
		output, err := s.executor.Execute(ctx, "launchctl", "list")
		if err != nil {
			return false, fmt.Errorf("querying launchd: %w", err)
		}
		return strings.Contains(string(output), taskMarker), nil
	default:
		output, err := s.executor.Execute(ctx, "crontab", "-l")
		if err != nil {
			// No crontab for this user yet.
			return false, nil //nolint:nilerr
		}
		return strings.Contains(string(output), taskMarker), nil
	}
}

// Create registers the recurring task, replacing any previous registration.
// The task runs the agent's backup entry point at the given interval in
// minutes.
func (s *Service) Create(ctx context.Context, intervalMinutes int) error {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving agent executable: %w", err)
	}

	switch s.goos {
	case "windows":
		output, err := s.executor.Execute(ctx, "schtasks", "/Create", "/F",
			"/TN", taskMarker,
			"/SC", "MINUTE", "/MO", fmt.Sprintf("%d", intervalMinutes),
			"/TR", fmt.Sprintf("%q start", exe))
		if err != nil {
			return fmt.Errorf("registering scheduled task: %w (output: %s)", err, output)
		}
		return nil
	case "darwin":
		// launchd jobs want a plist; keep registration through launchctl
		// submit which accepts an inline program specification.
		output, err := s.executor.Execute(ctx, "launchctl", "submit",
			"-l", taskMarker, "--", exe, "start")
		if err != nil {
			return fmt.Errorf("registering launchd job: %w (output: %s)", err, output)
		}
		return nil
	default:
		current, _ := s.executor.Execute(ctx, "crontab", "-l")
		var lines []string
		for _, line := range strings.Split(string(current), "\n") {
			if line != "" && !strings.Contains(line, taskMarker) {
				lines = append(lines, line)
			}
		}
		entry := fmt.Sprintf("*/%d * * * * %s start # %s", intervalMinutes, exe, taskMarker)
		lines = append(lines, entry)
		input := strings.Join(lines, "\n") + "\n"
		if output, err := s.executor.ExecuteWithInput(ctx, input, "crontab", "-"); err != nil {
			return fmt.Errorf("installing crontab entry: %w (output: %s)", err, output)
		}
		return nil
	}
}

// Delete removes the recurring task. A missing task is not an error.
func (s *Service) Delete(ctx context.Context) error {
	switch s.goos {
	case "windows":
		if output, err := s.executor.Execute(ctx, "schtasks", "/Delete", "/F", "/TN", taskMarker); err != nil {
			if strings.Contains(string(output), "cannot find") {
				return nil
			}
			return fmt.Errorf("removing scheduled task: %w (output: %s)", err, output)
		}
		return nil
	case "darwin":
		if output, err := s.executor.Execute(ctx, "launchctl", "remove", taskMarker); err != nil {
			s.logger.Debug().Err(err).Str("output", string(output)).Msg("launchd job not removed")
		}
		return nil
	default:
		current, err := s.executor.Execute(ctx, "crontab", "-l")
		if err != nil {
			return nil //nolint:nilerr // no crontab, nothing to remove
		}
		var lines []string
		for _, line := range strings.Split(string(current), "\n") {
			if line != "" && !strings.Contains(line, taskMarker) {
				lines = append(lines, line)
			}
		}
		input := strings.Join(lines, "\n") + "\n"
		if output, err := s.executor.ExecuteWithInput(ctx, input, "crontab", "-"); err != nil {
			return fmt.Errorf("updating crontab: %w (output: %s)", err, output)
		}
		return nil
	}
}
