//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ikus060/minarca-agent/internal/config"
	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/instance"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// requireRdiffBackup skips when the transport tool is not installed.
func requireRdiffBackup(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("rdiff-backup"); err != nil {
		t.Skip("rdiff-backup not installed")
	}
}

// setupLocalInstance configures a local instance backing up srcDir into a
// repository on a temporary "disk".
func setupLocalInstance(t *testing.T, srcDir string) *instance.Instance {
	t.Helper()
	cfg := config.NewWithDir(t.TempDir())
	diskRoot := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(diskRoot, ".minarca-id"), []byte("integration-disk\n"), 0o600))

	in := instance.New(testLogger(), cfg, "")
	settings := models.NewSettings()
	settings.RepositoryName = "integration"
	settings.LocalUUID = "integration-disk"
	settings.LocalRelPath = "repo"
	settings.LocalMountPoint = diskRoot
	settings.Configured = true
	require.NoError(t, in.Settings().Save(settings))

	patternsFile := cfg.Files("").Patterns
	require.NoError(t, os.WriteFile(patternsFile, []byte("+"+srcDir+"\n"), 0o600))
	return in
}

func TestLocalBackupAndRestore_Integration(t *testing.T) {
	requireRdiffBackup(t)

	srcDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "document.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("backed up content"), 0o600))

	in := setupLocalInstance(t, srcDir)
	require.NoError(t, in.Backup(context.Background(), true))

	status, err := in.Status().Load()
	require.NoError(t, err)
	assert.Equal(t, models.ResultSuccess, status.LastResult)
	assert.NotNil(t, status.LastSuccess)

	dest, err := in.FindLocalDestination()
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dest, "rdiff-backup-data"))

	// Restore the file into a fresh directory and compare contents.
	restoreDir := t.TempDir()
	require.NoError(t, in.Restore(context.Background(), nil, []string{srcFile}, restoreDir))

	restored, err := os.ReadFile(filepath.Join(restoreDir, "document.txt"))
	require.NoError(t, err)
	assert.Equal(t, "backed up content", string(restored))
}

func TestLocalBackup_SecondRunAddsIncrement_Integration(t *testing.T) {
	requireRdiffBackup(t)

	srcDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "document.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("first version"), 0o600))

	in := setupLocalInstance(t, srcDir)
	require.NoError(t, in.Backup(context.Background(), true))

	require.NoError(t, os.WriteFile(srcFile, []byte("second version"), 0o600))
	require.NoError(t, in.Backup(context.Background(), true))

	dest, err := in.FindLocalDestination()
	require.NoError(t, err)
	increments, err := filepath.Glob(filepath.Join(dest, "rdiff-backup-data", "increments*"))
	require.NoError(t, err)
	assert.NotEmpty(t, increments)
}
