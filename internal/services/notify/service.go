// Package notify delivers desktop notifications to the user when backups go
// stale. Delivery is best effort: failures are logged, never propagated, so
// they cannot mask the primary backup outcome.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog"
)

// CommandExecutor allows mocking exec.Command in tests.
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

// Service posts desktop notifications through the platform's notification
// command.
type Service struct {
	executor CommandExecutor
	goos     string
	logger   zerolog.Logger
}

// New creates a notification service for the current platform.
func New(logger zerolog.Logger) *Service {
	return &Service{executor: &DefaultExecutor{}, goos: runtime.GOOS, logger: logger}
}

// NewWithExecutor creates a notification service with a custom executor and
// platform (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor, goos string) *Service {
	return &Service{executor: executor, goos: goos, logger: logger}
}

// Send posts a notification. Errors are swallowed after logging.
func (s *Service) Send(ctx context.Context, title, body string) {
	name, args := s.command(title, body)
	if name == "" {
		s.logger.Debug().Str("platform", s.goos).Msg("no notification command for platform")
		return
	}
	if output, err := s.executor.Execute(ctx, name, args...); err != nil {
		s.logger.Warn().Err(err).Str("output", string(output)).Msg("failed to deliver notification")
	}
}

func (s *Service) command(title, body string) (string, []string) {
	switch s.goos {
	case "linux":
		return "notify-send", []string{"--app-name", "Minarca", title, body}
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		return "osascript", []string{"-e", script}
	case "windows":
		script := fmt.Sprintf(
			"New-BurntToastNotification -Text %q, %q", title, body)
		return "powershell", []string{"-NoProfile", "-Command", script}
	}
	return "", nil
}
