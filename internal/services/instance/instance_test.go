package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ikus060/minarca-agent/internal/config"
	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/rdiff"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type mockRunner struct {
	invocations []rdiff.Invocation
	err         error
}

func (m *mockRunner) Run(_ context.Context, inv rdiff.Invocation) error {
	m.invocations = append(m.invocations, inv)
	return m.err
}

type mockProc struct {
	alive  map[int]bool
	events []string
}

func (m *mockProc) Alive(pid int) bool { return m.alive[pid] }

func (m *mockProc) Terminate(pid int) error {
	m.events = append(m.events, fmt.Sprintf("terminate %d", pid))
	delete(m.alive, pid)
	return nil
}

func (m *mockProc) TerminateChildren(pid int, name string) error {
	m.events = append(m.events, fmt.Sprintf("children %d %s", pid, name))
	return nil
}

type mockExecutor struct {
	calls [][]string
	errs  map[string]error
}

func (m *mockExecutor) Execute(_ context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	return []byte("out"), m.errs[name]
}

type mockNotifier struct {
	titles []string
}

func (m *mockNotifier) Send(_ context.Context, title, _ string) {
	m.titles = append(m.titles, title)
}

type mockDisk struct {
	info    *models.DiskInfo
	volumes []models.DiskInfo
}

func (m *mockDisk) GetDiskInfo(string) (*models.DiskInfo, error) {
	if m.info == nil {
		return nil, errors.New("no disk")
	}
	return m.info, nil
}

func (m *mockDisk) ListVolumes() ([]models.DiskInfo, error) { return m.volumes, nil }

type mockWOL struct {
	macs []string
}

func (m *mockWOL) Wake(_ context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	m.macs = append(m.macs, cfg.MACAddress)
	return &models.WOLResult{PacketSent: true}, nil
}

type testEnv struct {
	cfg      *config.Config
	runner   *mockRunner
	proc     *mockProc
	executor *mockExecutor
	notifier *mockNotifier
	diskSvc  *mockDisk
	wolSvc   *mockWOL
	now      time.Time
	in       *Instance
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		cfg:      config.NewWithDir(t.TempDir()),
		runner:   &mockRunner{},
		proc:     &mockProc{alive: map[int]bool{}},
		executor: &mockExecutor{},
		notifier: &mockNotifier{},
		diskSvc:  &mockDisk{},
		wolSvc:   &mockWOL{},
		// A Monday at noon, so weekday tests are deterministic.
		now: time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
	}
	env.in = NewWithDeps(testLogger(), env.cfg, "", Deps{
		Runner:   env.runner,
		Disk:     env.diskSvc,
		Notifier: env.notifier,
		WOL:      env.wolSvc,
		Executor: env.executor,
		Proc:     env.proc,
		GOOS:     "linux",
		Now:      func() time.Time { return env.now },
	})
	return env
}

func (env *testEnv) saveSettings(t *testing.T, s *models.Settings) {
	t.Helper()
	require.NoError(t, env.in.Settings().Save(s))
}

func (env *testEnv) saveStatus(t *testing.T, st *models.Status) {
	t.Helper()
	require.NoError(t, env.in.Status().Save(st))
}

func (env *testEnv) savePatterns(t *testing.T, lines string) {
	t.Helper()
	require.NoError(t, os.WriteFile(env.cfg.Files("").Patterns, []byte(lines), 0600))
}

func remoteSettings() *models.Settings {
	s := models.NewSettings()
	s.Username = "user"
	s.RepositoryName = "laptop"
	s.RemoteHost = "backup.example.com"
	s.RemoteURL = "https://backup.example.com"
	s.Configured = true
	return s
}

func (env *testEnv) localSettings(t *testing.T) *models.Settings {
	t.Helper()
	mount := t.TempDir()
	s := models.NewSettings()
	s.LocalUUID = "8f4e42d1"
	s.LocalRelPath = "backups/laptop"
	s.LocalMountPoint = mount
	s.Configured = true
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "backups"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "backups", MarkerFilename), []byte("8f4e42d1\n"), 0600))
	return s
}

func TestBackup_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, models.NewSettings())

	err := env.in.Backup(context.Background(), true)

	assert.ErrorIs(t, err, models.ErrNotConfigured)
	assert.Empty(t, env.runner.invocations)
	status, err := env.in.Status().Load()
	require.NoError(t, err)
	assert.Equal(t, models.ResultUnknown, status.LastResult)
}

func TestBackup_NoPatterns(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())
	before := env.now.Add(-48 * time.Hour)
	env.saveStatus(t, &models.Status{LastResult: models.ResultSuccess, LastSuccess: &before})

	err := env.in.Backup(context.Background(), true)

	assert.ErrorIs(t, err, models.ErrNoPatterns)
	status, loadErr := env.in.Status().Load()
	require.NoError(t, loadErr)
	assert.Equal(t, models.ResultFailure, status.LastResult)
	assert.NotEmpty(t, status.Details)
	require.NotNil(t, status.LastSuccess)
	assert.Equal(t, before, status.LastSuccess.UTC())
	require.NotNil(t, status.LastDate)
	assert.Equal(t, env.now, status.LastDate.UTC())
}

func TestBackup_RemoteSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())
	env.savePatterns(t, "+/home/user\n-**/*.tmp\n")

	err := env.in.Backup(context.Background(), true)
	require.NoError(t, err)

	require.Len(t, env.runner.invocations, 1)
	inv := env.runner.invocations[0]
	assert.Equal(t, "backup", inv.Action)
	assert.Equal(t, "/", inv.Source)
	assert.Equal(t, "user@backup.example.com::laptop", inv.Destination)
	assert.Contains(t, inv.RemoteSchema, "ssh")
	assert.Contains(t, inv.RemoteSchema, "id_rsa")
	assert.Equal(t, []string{
		"--exclude-sockets", "--no-compression",
		"--include", "/home/user",
		"--exclude", "**/*.tmp",
		"--exclude", "/**",
	}, inv.ExtraArgs)

	status, err := env.in.Status().Load()
	require.NoError(t, err)
	assert.Equal(t, models.ResultSuccess, status.LastResult)
	assert.Empty(t, status.Details)
	require.NotNil(t, status.LastSuccess)
	require.NotNil(t, status.LastDate)
	assert.Equal(t, *status.LastDate, *status.LastSuccess)
}

func TestBackup_NotSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())
	env.savePatterns(t, "+/home/user\n")
	recent := env.now.Add(-1 * time.Hour)
	env.saveStatus(t, &models.Status{LastResult: models.ResultSuccess, LastSuccess: &recent})

	err := env.in.Backup(context.Background(), false)

	assert.ErrorIs(t, err, models.ErrNotSchedule)
	assert.Empty(t, env.runner.invocations)
	status, loadErr := env.in.Status().Load()
	require.NoError(t, loadErr)
	assert.Equal(t, models.ResultSuccess, status.LastResult)
}

func TestBackup_AlreadyRunning(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())
	fresh := env.now.Add(-1 * time.Second)
	env.saveStatus(t, &models.Status{LastResult: models.ResultRunning, LastDate: &fresh, PID: 4321})
	env.proc.alive[4321] = true

	err := env.in.Backup(context.Background(), true)

	assert.ErrorIs(t, err, models.ErrRunning)
	assert.Empty(t, env.runner.invocations)
}

func TestBackup_ForceClearsPause(t *testing.T) {
	env := newTestEnv(t)
	s := remoteSettings()
	until := env.now.Add(2 * time.Hour)
	s.PauseUntil = &until
	env.saveSettings(t, s)
	env.savePatterns(t, "+/home/user\n")

	assert.ErrorIs(t, env.in.Backup(context.Background(), false), models.ErrNotSchedule)
	require.NoError(t, env.in.Backup(context.Background(), true))

	reloaded, err := env.in.Settings().Load()
	require.NoError(t, err)
	assert.Nil(t, reloaded.PauseUntil)
}

func TestBackup_ClassifiedFailurePersisted(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())
	env.savePatterns(t, "+/home/user\n")
	env.runner.err = &models.BackupError{Kind: models.KindDiskFull, Message: "No space left on device"}

	err := env.in.Backup(context.Background(), true)

	var backupErr *models.BackupError
	require.ErrorAs(t, err, &backupErr)
	status, loadErr := env.in.Status().Load()
	require.NoError(t, loadErr)
	assert.Equal(t, models.ResultFailure, status.LastResult)
	assert.Equal(t, "No space left on device", status.Details)
	assert.Nil(t, status.LastSuccess)
}

func TestBackup_LocalRunsRetentionAndFlush(t *testing.T) {
	env := newTestEnv(t)
	s := env.localSettings(t)
	s.Keepdays = 30
	env.saveSettings(t, s)
	env.savePatterns(t, "+/home/user\n")

	require.NoError(t, env.in.Backup(context.Background(), true))

	require.Len(t, env.runner.invocations, 2)
	dest := filepath.Join(s.LocalMountPoint, "backups", "laptop")
	assert.Equal(t, "backup", env.runner.invocations[0].Action)
	assert.Equal(t, dest, env.runner.invocations[0].Destination)
	assert.Empty(t, env.runner.invocations[0].RemoteSchema)

	prune := env.runner.invocations[1]
	assert.Equal(t, "remove increments", prune.Action)
	assert.Equal(t, []string{"--older-than", "30D"}, prune.ExtraArgs)
	assert.Equal(t, dest, prune.Destination)

	require.NotEmpty(t, env.executor.calls)
	assert.Equal(t, []string{"sync"}, env.executor.calls[0])
}

func TestBackup_PreHookFailure(t *testing.T) {
	env := newTestEnv(t)
	s := remoteSettings()
	s.PreHookCommand = "mount /backup"
	env.saveSettings(t, s)
	env.savePatterns(t, "+/home/user\n")
	env.executor.errs = map[string]error{"sh": errors.New("exit status 1")}

	err := env.in.Backup(context.Background(), true)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre hook failed")
	assert.Empty(t, env.runner.invocations)
	status, loadErr := env.in.Status().Load()
	require.NoError(t, loadErr)
	assert.Equal(t, models.ResultFailure, status.LastResult)
}

func TestBackup_HookFailureIgnored(t *testing.T) {
	env := newTestEnv(t)
	s := remoteSettings()
	s.PreHookCommand = "mount /backup"
	s.IgnoreHookErrors = true
	env.saveSettings(t, s)
	env.savePatterns(t, "+/home/user\n")
	env.executor.errs = map[string]error{"sh": errors.New("exit status 1")}

	require.NoError(t, env.in.Backup(context.Background(), true))
	require.Len(t, env.runner.invocations, 1)
}

func TestBackup_WakesRemoteHost(t *testing.T) {
	env := newTestEnv(t)
	s := remoteSettings()
	s.WakeMAC = "aa:bb:cc:dd:ee:ff"
	env.saveSettings(t, s)
	env.savePatterns(t, "+/home/user\n")

	require.NoError(t, env.in.Backup(context.Background(), true))
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, env.wolSvc.macs)
}

func TestBackup_StalenessNotification(t *testing.T) {
	env := newTestEnv(t)
	s := remoteSettings()
	s.Maxage = 1
	env.saveSettings(t, s)
	env.savePatterns(t, "+/home/user\n")
	old := env.now.Add(-72 * time.Hour)
	env.saveStatus(t, &models.Status{LastResult: models.ResultFailure, LastSuccess: &old})
	env.runner.err = errors.New("boom")

	require.Error(t, env.in.Backup(context.Background(), true))
	assert.Len(t, env.notifier.titles, 1)

	// A second failure within a day stays quiet.
	require.Error(t, env.in.Backup(context.Background(), true))
	assert.Len(t, env.notifier.titles, 1)
}

func TestIsBackupTime(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())

	// Never succeeded.
	due, err := env.in.IsBackupTime()
	require.NoError(t, err)
	assert.True(t, due)

	// Succeeded just under the interval, within the early-trigger margin.
	almost := env.now.Add(-time.Duration(23.6 * float64(time.Hour)))
	env.saveStatus(t, &models.Status{LastResult: models.ResultSuccess, LastSuccess: &almost})
	due, err = env.in.IsBackupTime()
	require.NoError(t, err)
	assert.True(t, due)

	// Fresh success.
	recent := env.now.Add(-1 * time.Hour)
	env.saveStatus(t, &models.Status{LastResult: models.ResultSuccess, LastSuccess: &recent})
	due, err = env.in.IsBackupTime()
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsBackupTime_ManualSchedule(t *testing.T) {
	env := newTestEnv(t)
	s := remoteSettings()
	s.Schedule = 0
	env.saveSettings(t, s)

	// Manual instances are never due, not even without a prior success.
	due, err := env.in.IsBackupTime()
	require.NoError(t, err)
	assert.False(t, due)

	old := env.now.Add(-48 * time.Hour)
	env.saveStatus(t, &models.Status{LastResult: models.ResultSuccess, LastSuccess: &old})
	due, err = env.in.IsBackupTime()
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsBackupTime_IgnoredWeekday(t *testing.T) {
	env := newTestEnv(t)
	s := remoteSettings()
	s.IgnoreWeekday = []time.Weekday{time.Monday}
	env.saveSettings(t, s)

	due, err := env.in.IsBackupTime()
	require.NoError(t, err)
	assert.False(t, due)
}

func TestPause(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())

	require.NoError(t, env.in.Pause(24))
	s, err := env.in.Settings().Load()
	require.NoError(t, err)
	require.NotNil(t, s.PauseUntil)
	assert.Equal(t, env.now.Add(24*time.Hour), s.PauseUntil.UTC())

	require.NoError(t, env.in.Pause(0))
	s, err = env.in.Settings().Load()
	require.NoError(t, err)
	assert.Nil(t, s.PauseUntil)
}

func TestStop_NotRunning(t *testing.T) {
	env := newTestEnv(t)
	env.saveStatus(t, &models.Status{LastResult: models.ResultSuccess})

	err := env.in.Stop()

	assert.ErrorIs(t, err, models.ErrNotRunning)
	status, loadErr := env.in.Status().Load()
	require.NoError(t, loadErr)
	assert.Equal(t, models.ResultSuccess, status.LastResult)
	assert.Empty(t, env.proc.events)
}

func TestStop_Running(t *testing.T) {
	env := newTestEnv(t)
	fresh := env.now.Add(-1 * time.Second)
	env.saveStatus(t, &models.Status{LastResult: models.ResultRunning, LastDate: &fresh, PID: 4321, Action: models.ActionBackup})
	env.proc.alive[4321] = true

	require.NoError(t, env.in.Stop())

	// The ssh child goes down before the main process.
	assert.Equal(t, []string{"children 4321 ssh", "terminate 4321"}, env.proc.events)
	status, err := env.in.Status().Load()
	require.NoError(t, err)
	assert.Equal(t, models.ResultInterrupt, status.LastResult)
}

func TestFindLocalDestination_LastMountPoint(t *testing.T) {
	env := newTestEnv(t)
	s := env.localSettings(t)
	env.saveSettings(t, s)

	dest, err := env.in.FindLocalDestination()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.LocalMountPoint, "backups", "laptop"), dest)
}

func TestFindLocalDestination_ScansVolumes(t *testing.T) {
	env := newTestEnv(t)
	s := env.localSettings(t)
	newMount := s.LocalMountPoint
	s.LocalMountPoint = "/media/gone"
	env.saveSettings(t, s)
	env.diskSvc.volumes = []models.DiskInfo{
		{MountPoint: "/"},
		{MountPoint: newMount},
	}

	dest, err := env.in.FindLocalDestination()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(newMount, "backups", "laptop"), dest)

	// The discovered mount point is remembered.
	reloaded, err := env.in.Settings().Load()
	require.NoError(t, err)
	assert.Equal(t, newMount, reloaded.LocalMountPoint)
}

func TestFindLocalDestination_NotFound(t *testing.T) {
	env := newTestEnv(t)
	s := env.localSettings(t)
	require.NoError(t, os.Remove(filepath.Join(s.LocalMountPoint, "backups", MarkerFilename)))
	env.saveSettings(t, s)

	_, err := env.in.FindLocalDestination()
	assert.ErrorIs(t, err, models.ErrLocalDestinationNotFound)
}

func TestRestore_ReducesNestedPaths(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())

	err := env.in.Restore(context.Background(), nil, []string{
		"/home/user/documents/report.odt",
		"/home/user/documents",
		"/etc/hosts",
	}, "")
	require.NoError(t, err)

	require.Len(t, env.runner.invocations, 2)
	assert.Equal(t, "user@backup.example.com::laptop/etc/hosts", env.runner.invocations[0].Source)
	assert.Equal(t, "/etc/hosts", env.runner.invocations[0].Destination)
	assert.Equal(t, "user@backup.example.com::laptop/home/user/documents", env.runner.invocations[1].Source)
	for _, inv := range env.runner.invocations {
		assert.Equal(t, "restore", inv.Action)
		assert.Equal(t, []string{"--force", "--at", "now"}, inv.ExtraArgs)
	}
}

func TestRestore_AtTimeAndDestination(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	err := env.in.Restore(context.Background(), &at, []string{"/etc/hosts"}, "/tmp/restored")
	require.NoError(t, err)

	require.Len(t, env.runner.invocations, 1)
	inv := env.runner.invocations[0]
	assert.Equal(t, []string{"--force", "--at", "2024-05-01T00:00:00Z"}, inv.ExtraArgs)
	assert.Equal(t, filepath.Join("/tmp/restored", "hosts"), inv.Destination)

	status, err := env.in.Status().Load()
	require.NoError(t, err)
	assert.Equal(t, models.ResultSuccess, status.LastResult)
	assert.Equal(t, models.ActionRestore, status.Action)
}

func TestRestore_RequiresPaths(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())

	err := env.in.Restore(context.Background(), nil, nil, "")
	require.Error(t, err)
	assert.Empty(t, env.runner.invocations)
}

func TestTestConnection_Remote(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())

	require.NoError(t, env.in.TestConnection(context.Background()))
	require.Len(t, env.runner.invocations, 1)
	assert.Equal(t, "test", env.runner.invocations[0].Action)
	assert.Equal(t, "user@backup.example.com::laptop", env.runner.invocations[0].Destination)
}

func TestVerify_Remote(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())

	require.NoError(t, env.in.Verify(context.Background()))
	require.Len(t, env.runner.invocations, 1)
	assert.Equal(t, "verify", env.runner.invocations[0].Action)
}

func TestForget(t *testing.T) {
	env := newTestEnv(t)
	env.saveSettings(t, remoteSettings())
	env.savePatterns(t, "+/home/user\n")

	require.NoError(t, env.in.Forget())
	assert.NoFileExists(t, env.cfg.Files("").Settings)
	assert.NoFileExists(t, env.cfg.Files("").Patterns)
}

func TestBackup_WindowsArgs(t *testing.T) {
	env := newTestEnv(t)
	env.in = NewWithDeps(testLogger(), env.cfg, "", Deps{
		Runner:   env.runner,
		Disk:     env.diskSvc,
		Notifier: env.notifier,
		WOL:      env.wolSvc,
		Executor: env.executor,
		Proc:     env.proc,
		GOOS:     "windows",
		Now:      func() time.Time { return env.now },
	})
	env.saveSettings(t, remoteSettings())
	env.savePatterns(t, "+C:/Users/user\n-**/*.tmp\n")

	require.NoError(t, env.in.Backup(context.Background(), true))

	require.Len(t, env.runner.invocations, 1)
	inv := env.runner.invocations[0]
	assert.Equal(t, "C:/", inv.Source)
	assert.Equal(t, "user@backup.example.com::laptop/C", inv.Destination)
	assert.Equal(t, []string{
		"--no-hard-links", "--exclude-symbolic-links", "--no-compression",
		"--include", "C:/Users/user",
		"--exclude", "**/*.tmp",
		"--exclude", "C:/**",
	}, inv.ExtraArgs)
}
