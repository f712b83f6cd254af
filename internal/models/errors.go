package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra context.
var (
	// ErrRunning is returned when an operation requires the instance to be
	// idle but a backup or restore is currently running.
	ErrRunning = errors.New("a backup or restore is already running")

	// ErrNotRunning is returned by Stop when nothing is running.
	ErrNotRunning = errors.New("no backup or restore is running")

	// ErrNotSchedule is returned by Backup without force when the next
	// scheduled run is not due yet.
	ErrNotSchedule = errors.New("backup not yet due, use force to run anyway")

	// ErrNoPatterns is returned by Backup when no include/exclude rules are
	// configured.
	ErrNoPatterns = errors.New("no file patterns configured")

	// ErrNotConfigured is returned when the destination identity is missing
	// from the instance settings.
	ErrNotConfigured = errors.New("instance is not configured")

	// ErrLocalDestinationNotFound is returned when no mounted volume carries
	// the instance's identity marker.
	ErrLocalDestinationNotFound = errors.New("local backup destination not found, is the drive connected?")
)

// InvalidRepositoryNameError reports a repository name failing the allowed
// charset check.
type InvalidRepositoryNameError struct {
	Name string
}

func (e *InvalidRepositoryNameError) Error() string {
	return fmt.Sprintf("invalid repository name %q: only letters, digits, dash, dot and underscore are allowed", e.Name)
}

// RepositoryNameExistsError reports a destination or repository name
// collision. Recoverable by re-invoking the configuration with force.
type RepositoryNameExistsError struct {
	Name string
}

func (e *RepositoryNameExistsError) Error() string {
	return fmt.Sprintf("repository %q already exists, use force to replace it", e.Name)
}

// DuplicateSettingsError reports that a new instance would duplicate the
// identity of an existing one.
type DuplicateSettingsError struct {
	InstanceID string
}

func (e *DuplicateSettingsError) Error() string {
	return fmt.Sprintf("these settings already exist on instance %q", e.InstanceID)
}

// LocalDestinationNotEmptyError reports a local configuration target that
// contains unrelated data.
type LocalDestinationNotEmptyError struct {
	Path string
}

func (e *LocalDestinationNotEmptyError) Error() string {
	return fmt.Sprintf("destination %q is not empty and is not an existing backup", e.Path)
}

// InitDestinationError reports a failure preparing a local destination.
type InitDestinationError struct {
	Path string
	Err  error
}

func (e *InitDestinationError) Error() string {
	return fmt.Sprintf("cannot initialize destination %q: %v", e.Path, e.Err)
}

func (e *InitDestinationError) Unwrap() error { return e.Err }

// InstanceNotFoundError reports an --instance selector matching nothing.
type InstanceNotFoundError struct {
	Selector string
}

func (e *InstanceNotFoundError) Error() string {
	return fmt.Sprintf("instance %q not found", e.Selector)
}

// HTTP error taxonomy for the remote repository API. Configuration
// operations translate raw transport failures into these so that callers
// never see low-level errors.

// HTTPConnectionError reports a failure to reach the remote server.
type HTTPConnectionError struct {
	URL string
	Err error
}

func (e *HTTPConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.URL, e.Err)
}

func (e *HTTPConnectionError) Unwrap() error { return e.Err }

// HTTPInvalidURLError reports a malformed or unsupported remote URL.
type HTTPInvalidURLError struct {
	URL string
}

func (e *HTTPInvalidURLError) Error() string {
	return fmt.Sprintf("invalid remote server URL %q", e.URL)
}

// HTTPAuthenticationError reports rejected credentials (HTTP 401/403).
type HTTPAuthenticationError struct {
	URL string
}

func (e *HTTPAuthenticationError) Error() string {
	return fmt.Sprintf("authentication refused by %s, check username and password", e.URL)
}

// HTTPServerError reports any other 4xx/5xx response.
type HTTPServerError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *HTTPServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error from %s (status %d): %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error from %s (status %d)", e.URL, e.StatusCode)
}

// BackupKind classifies transport tool failures recognized from its output.
type BackupKind string

const (
	KindGeneric           BackupKind = "generic"
	KindUnknownHost       BackupKind = "unknown-host"
	KindSSHAuthRefused    BackupKind = "ssh-auth-refused"
	KindPermissionDenied  BackupKind = "permission-denied"
	KindConnectionDropped BackupKind = "connection-dropped"
	KindDiskFull          BackupKind = "disk-full"
	KindVersionMismatch   BackupKind = "version-mismatch"
)

// BackupError is a classified failure of the transport tool, built from a
// recognized signature in its streamed output.
type BackupError struct {
	Kind    BackupKind
	Message string
}

func (e *BackupError) Error() string { return e.Message }

// ExitCodeError reports a transport tool exit code outside the accepted set
// when no more specific error was classified from the output.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("backup process returned exit code %d", e.Code)
}
