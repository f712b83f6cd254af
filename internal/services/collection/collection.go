// Package collection manages the set of configured backup instances: their
// enumeration and selection, the creation of new local and remote instances,
// change watching and the scheduled start of due backups.
package collection

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ikus060/minarca-agent/internal/config"
	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/disk"
	"github.com/ikus060/minarca-agent/internal/services/instance"
	"github.com/ikus060/minarca-agent/internal/services/remote"
	"github.com/ikus060/minarca-agent/internal/services/sshkeys"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// repositoryNameRe constrains repository names to what both the server and
// the transport accept as a path segment.
var repositoryNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// RemoteClient is the server API surface used while configuring a remote
// instance.
type RemoteClient interface {
	Probe(ctx context.Context) error
	CurrentUser(ctx context.Context) (*remote.UserInfo, error)
	RegisterSSHKey(ctx context.Context, title, publicKey string) error
	ServerInfo(ctx context.Context) (*remote.ServerInfo, error)
	GetRepo(ctx context.Context, name string) (*remote.RepoInfo, error)
	SetRepo(ctx context.Context, name string, repo remote.RepoInfo) error
	BaseURL() string
}

// ClientFactory builds a server client for the given credentials.
type ClientFactory func(logger zerolog.Logger, serverURL, username, password string) (RemoteClient, error)

// KeyService is the key material surface used while configuring a remote
// instance.
type KeyService interface {
	WriteKeyPair(privPath, pubPath, comment string) (string, error)
	WriteKnownHosts(path, identity string) error
}

// Launcher spawns detached agent processes for scheduled backups.
type Launcher interface {
	Launch(name string, args ...string) error
}

type execLauncher struct{}

func (execLauncher) Launch(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// The child outlives this process.
	return cmd.Process.Release()
}

// Collection is the set of backup instances under one configuration
// directory.
type Collection struct {
	cfg        *config.Config
	logger     zerolog.Logger
	newClient  ClientFactory
	keySvc     KeyService
	diskSvc    instance.DiskService
	launcher   Launcher
	factory    func(id string) *instance.Instance
	newUUID    func() string
	hostname   func() string
	executable func() (string, error)
	now        func() time.Time
}

// New creates a collection using native services.
func New(logger zerolog.Logger, cfg *config.Config) *Collection {
	return &Collection{
		cfg:    cfg,
		logger: logger,
		newClient: func(logger zerolog.Logger, serverURL, username, password string) (RemoteClient, error) {
			return remote.New(logger, serverURL, username, password)
		},
		keySvc:   sshkeys.New(logger),
		diskSvc:  disk.New(logger),
		launcher: execLauncher{},
		factory: func(id string) *instance.Instance {
			return instance.New(logger, cfg, id)
		},
		newUUID: uuid.NewString,
		hostname: func() string {
			name, err := os.Hostname()
			if err != nil {
				return "localhost"
			}
			return name
		},
		executable: os.Executable,
		now:        time.Now,
	}
}

// Deps bundles the replaceable collaborators of a collection (for testing).
type Deps struct {
	Client     ClientFactory
	Keys       KeyService
	Disk       instance.DiskService
	Launcher   Launcher
	Factory    func(id string) *instance.Instance
	NewUUID    func() string
	Hostname   func() string
	Executable func() (string, error)
	Now        func() time.Time
}

// NewWithDeps creates a collection with custom collaborators (for testing).
func NewWithDeps(logger zerolog.Logger, cfg *config.Config, deps Deps) *Collection {
	c := New(logger, cfg)
	if deps.Client != nil {
		c.newClient = deps.Client
	}
	if deps.Keys != nil {
		c.keySvc = deps.Keys
	}
	if deps.Disk != nil {
		c.diskSvc = deps.Disk
	}
	if deps.Launcher != nil {
		c.launcher = deps.Launcher
	}
	if deps.Factory != nil {
		c.factory = deps.Factory
	}
	if deps.NewUUID != nil {
		c.newUUID = deps.NewUUID
	}
	if deps.Hostname != nil {
		c.hostname = deps.Hostname
	}
	if deps.Executable != nil {
		c.executable = deps.Executable
	}
	if deps.Now != nil {
		c.now = deps.Now
	}
	return c
}

// Instances returns every configured instance, default instance first.
func (c *Collection) Instances() ([]*instance.Instance, error) {
	ids, err := c.cfg.InstanceIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*instance.Instance, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.factory(id))
	}
	return out, nil
}

// Get resolves an instance selector: empty selects every instance, otherwise
// a comma-separated list of instance ids. A selector part matching no
// instance is an error.
func (c *Collection) Get(selector string) ([]*instance.Instance, error) {
	all, err := c.Instances()
	if err != nil {
		return nil, err
	}
	if selector == "" {
		return all, nil
	}
	var out []*instance.Instance
	for _, part := range strings.Split(selector, ",") {
		part = strings.TrimSpace(part)
		found := false
		for _, in := range all {
			if part == in.ID() || part == in.DisplayName() {
				out = append(out, in)
				found = true
				break
			}
		}
		if !found {
			return nil, &models.InstanceNotFoundError{Selector: part}
		}
	}
	return out, nil
}

// NewInstance allocates the next free instance id. The default instance is
// allocated first, then numeric ids.
func (c *Collection) NewInstance() (*instance.Instance, error) {
	ids, err := c.cfg.InstanceIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return c.factory(""), nil
	}
	max := 0
	for _, id := range ids {
		if n, err := strconv.Atoi(id); err == nil && n > max {
			max = n
		}
	}
	return c.factory(strconv.Itoa(max + 1)), nil
}

// StartAll launches a detached backup process for each selected instance.
// Without force only instances whose schedule says a backup is due are
// started.
func (c *Collection) StartAll(selector string, force bool) error {
	instances, err := c.Get(selector)
	if err != nil {
		return err
	}
	exe, err := c.executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}
	var g errgroup.Group
	for _, in := range instances {
		in := in
		g.Go(func() error {
			if !force {
				due, err := in.IsBackupTime()
				if err != nil {
					return err
				}
				if !due {
					return nil
				}
			}
			args := []string{"backup", "--instance", in.DisplayName()}
			if force {
				args = append(args, "--force")
			}
			c.logger.Info().Str("instance", in.DisplayName()).Msg("starting backup process")
			return c.launcher.Launch(exe, args...)
		})
	}
	return g.Wait()
}

// Watch emits a signal whenever the on-disk state of any instance changes:
// settings, status or patterns written by this or another process. The
// channel is closed when the context is done.
func (c *Collection) Watch(ctx context.Context, pollDelay time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		last := c.fingerprint()
		ticker := time.NewTicker(pollDelay)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current := c.fingerprint()
				if current != last {
					last = current
					select {
					case out <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
	return out
}

// fingerprint summarizes the modification state of every instance file.
func (c *Collection) fingerprint() string {
	ids, err := c.cfg.InstanceIDs()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, id := range ids {
		files := c.cfg.Files(id)
		for _, path := range []string{files.Settings, files.Status, files.Patterns} {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "%s:%d:%d;", path, info.Size(), info.ModTime().UnixNano())
		}
	}
	return b.String()
}

// validateName rejects repository names the server or the transport could
// not handle.
func validateName(name string) error {
	if !repositoryNameRe.MatchString(name) {
		return &models.InvalidRepositoryNameError{Name: name}
	}
	return nil
}

// initialPause is applied to freshly configured instances so a scheduler
// tick does not start a backup while the user is still adjusting patterns.
const initialPause = 1 * time.Hour

func (c *Collection) pauseInitially(s *models.Settings) {
	until := c.now().Add(initialPause)
	s.PauseUntil = &until
}

// seedPatterns writes the platform default rules for a new instance.
func (c *Collection) seedPatterns(in *instance.Instance) error {
	engine := in.Patterns()
	if err := engine.Load(); err != nil {
		return err
	}
	engine.SeedDefaults()
	return engine.Save()
}
