package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles_DefaultInstance(t *testing.T) {
	cfg := NewWithDir("/tmp/minarca")
	files := cfg.Files("")

	assert.Equal(t, "/tmp/minarca/minarca.properties", files.Settings)
	assert.Equal(t, "/tmp/minarca/status.properties", files.Status)
	assert.Equal(t, "/tmp/minarca/patterns", files.Patterns)
	assert.Equal(t, "/tmp/minarca/id_rsa", files.PrivateKey)
	assert.Equal(t, "/tmp/minarca/id_rsa.pub", files.PublicKey)
	assert.Equal(t, "/tmp/minarca/known_hosts", files.KnownHosts)
	assert.Equal(t, "/tmp/minarca/backup.log", files.BackupLog)
	assert.Equal(t, "/tmp/minarca/restore.log", files.RestoreLog)
}

func TestFiles_NumberedInstance(t *testing.T) {
	cfg := NewWithDir("/tmp/minarca")
	files := cfg.Files("2")

	assert.Equal(t, "/tmp/minarca/minarca2.properties", files.Settings)
	assert.Equal(t, "/tmp/minarca/status2.properties", files.Status)
	assert.Equal(t, "/tmp/minarca/id_rsa2.pub", files.PublicKey)
}

func TestInstanceIDs_EmptyDir(t *testing.T) {
	cfg := NewWithDir(t.TempDir())

	ids, err := cfg.InstanceIDs()

	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInstanceIDs_MissingDir(t *testing.T) {
	cfg := NewWithDir(filepath.Join(t.TempDir(), "does-not-exist"))

	ids, err := cfg.InstanceIDs()

	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInstanceIDs_ScansSettingsFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := NewWithDir(dir)
	for _, name := range []string{
		"minarca.properties",
		"minarca1.properties",
		"minarca12.properties",
		"status.properties",   // not a settings file
		"patterns1",           // not a settings file
		"minarcaX.properties", // invalid suffix
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	ids, err := cfg.InstanceIDs()

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"", "1", "12"}, ids)
}
