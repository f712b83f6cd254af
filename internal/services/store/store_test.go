package store

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestSettings_LoadMissingFile(t *testing.T) {
	s := NewSettings(testLogger(), filepath.Join(t.TempDir(), "minarca.properties"))

	v, err := s.Load()

	require.NoError(t, err)
	assert.Equal(t, 24, v.Schedule)
	assert.Equal(t, -1, v.Keepdays)
	assert.False(t, v.Configured)
	assert.Nil(t, v.PauseUntil)
}

func TestSettings_RoundTrip(t *testing.T) {
	s := NewSettings(testLogger(), filepath.Join(t.TempDir(), "minarca.properties"))
	pause := time.Now().Add(time.Hour).Truncate(time.Second)
	want := &models.Settings{
		Username:         "john",
		RepositoryName:   "laptop",
		RemoteHost:       "backup.example.com:2222",
		RemoteURL:        "https://backup.example.com",
		Schedule:         12,
		Configured:       true,
		PauseUntil:       &pause,
		Keepdays:         30,
		Maxage:           7,
		IgnoreWeekday:    []time.Weekday{time.Saturday, time.Sunday},
		PreHookCommand:   "pg_dump mydb > /tmp/db.sql",
		PostHookCommand:  "rm /tmp/db.sql",
		IgnoreHookErrors: true,
		WakeMAC:          "aa:bb:cc:dd:ee:ff",
		WakeBroadcast:    "192.168.1.255",
	}

	require.NoError(t, s.Save(want))
	got, err := s.Load()

	require.NoError(t, err)
	// Times come back in the serialized zone, compare them by instant.
	require.NotNil(t, got.PauseUntil)
	assert.Equal(t, pause.UTC(), got.PauseUntil.UTC())
	got.PauseUntil = want.PauseUntil
	assert.Equal(t, want, got)
}

func TestSettings_LocalRoundTrip(t *testing.T) {
	s := NewSettings(testLogger(), filepath.Join(t.TempDir(), "minarca.properties"))
	want := models.NewSettings()
	want.LocalUUID = "6e18f464-3b0f-4330-a1f4-b8e4d47f4a97"
	want.LocalRelPath = "backups/laptop"
	want.LocalMountPoint = "/media/usb"
	want.LocalCaption = "My Passport"
	want.Configured = true

	require.NoError(t, s.Save(want))
	got, err := s.Load()

	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, got.IsLocal())
	assert.False(t, got.IsRemote())
}

func TestSettings_UpdatePersistsOnError(t *testing.T) {
	s := NewSettings(testLogger(), filepath.Join(t.TempDir(), "minarca.properties"))
	boom := errors.New("boom")

	err := s.Update(func(v *models.Settings) error {
		v.Username = "john"
		return boom
	})

	assert.ErrorIs(t, err, boom)
	got, loadErr := s.Load()
	require.NoError(t, loadErr)
	assert.Equal(t, "john", got.Username)
}

func TestStatus_LoadMissingFile(t *testing.T) {
	s := NewStatus(testLogger(), filepath.Join(t.TempDir(), "status.properties"))

	v, err := s.Load()

	require.NoError(t, err)
	assert.Equal(t, models.ResultUnknown, v.LastResult)
	assert.Nil(t, v.LastDate)
}

func TestStatus_RoundTrip(t *testing.T) {
	s := NewStatus(testLogger(), filepath.Join(t.TempDir(), "status.properties"))
	now := time.Now().Truncate(time.Second)
	want := &models.Status{
		LastResult:  models.ResultRunning,
		LastDate:    &now,
		LastSuccess: &now,
		Details:     "in progress",
		Action:      models.ActionBackup,
		PID:         4242,
	}

	require.NoError(t, s.Save(want))
	got, err := s.Load()

	require.NoError(t, err)
	require.NotNil(t, got.LastDate)
	require.NotNil(t, got.LastSuccess)
	assert.Equal(t, now.UTC(), got.LastDate.UTC())
	assert.Equal(t, now.UTC(), got.LastSuccess.UTC())
	got.LastDate, got.LastSuccess = want.LastDate, want.LastSuccess
	assert.Equal(t, want, got)
}

func TestStatus_CurrentStatus_DeadPidBecomesInterrupt(t *testing.T) {
	now := time.Now()
	v := &models.Status{LastResult: models.ResultRunning, LastDate: &now, PID: 4242}

	got := v.CurrentStatus(func(int) bool { return false }, now)

	assert.Equal(t, models.ResultInterrupt, got)
}

func TestStatus_CurrentStatus_StaleHeartbeat(t *testing.T) {
	old := time.Now().Add(-3 * models.HeartbeatInterval)
	v := &models.Status{LastResult: models.ResultRunning, LastDate: &old, PID: 4242}

	got := v.CurrentStatus(func(int) bool { return true }, time.Now())

	assert.Equal(t, models.ResultStale, got)
}

func TestStatus_CurrentStatus_FreshRunning(t *testing.T) {
	now := time.Now()
	v := &models.Status{LastResult: models.ResultRunning, LastDate: &now, PID: 4242}

	got := v.CurrentStatus(func(int) bool { return true }, now)

	assert.Equal(t, models.ResultRunning, got)
}

func TestStatus_CurrentStatus_TerminalPassthrough(t *testing.T) {
	for _, r := range []models.Result{models.ResultSuccess, models.ResultFailure, models.ResultUnknown, models.ResultInterrupt} {
		v := &models.Status{LastResult: r}
		assert.Equal(t, r, v.CurrentStatus(func(int) bool { return false }, time.Now()))
	}
}
