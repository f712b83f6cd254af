package collection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/instance"
	"github.com/ikus060/minarca-agent/internal/services/remote"
)

// ConfigureRemote creates a new instance backed by a central backup server.
// The server is probed with the given credentials, a fresh SSH identity is
// generated and registered, and the server connection identity is persisted
// for strict host key checking. A repository of the same name already on
// the server is only reused with force, in which case its retention
// settings are imported.
func (c *Collection) ConfigureRemote(ctx context.Context, serverURL, username, password, name string, force bool) (*instance.Instance, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	client, err := c.newClient(c.logger, serverURL, username, password)
	if err != nil {
		return nil, err
	}
	if err := client.Probe(ctx); err != nil {
		return nil, err
	}
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user.Username != "" {
		username = user.Username
	}

	// The same server, user and name must not be configured twice.
	existing, err := c.Instances()
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		settings, err := other.Settings().Load()
		if err != nil {
			continue
		}
		if settings.RemoteURL == client.BaseURL() && settings.Username == username && settings.RepositoryName == name {
			return nil, &models.DuplicateSettingsError{InstanceID: other.DisplayName()}
		}
	}

	// A matching repository on the server, exact or as a multi-root prefix,
	// is only reused when forced.
	var remoteRepo bool
	for _, repo := range user.Repos {
		if repo.Name == name || strings.HasPrefix(repo.Name, name+"/") {
			remoteRepo = true
			break
		}
	}
	if remoteRepo && !force {
		return nil, &models.RepositoryNameExistsError{Name: name}
	}

	in, err := c.NewInstance()
	if err != nil {
		return nil, err
	}
	files := c.cfg.Files(in.ID())

	comment := fmt.Sprintf("%s@%s", username, c.hostname())
	publicKey, err := c.keySvc.WriteKeyPair(files.PrivateKey, files.PublicKey, comment)
	if err != nil {
		return nil, err
	}
	// The key is titled after the repository so it can be told apart on the
	// server when several computers back up under the same account.
	if err := client.RegisterSSHKey(ctx, name, publicKey); err != nil {
		return nil, err
	}

	info, err := client.ServerInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.keySvc.WriteKnownHosts(files.KnownHosts, info.Identity); err != nil {
		return nil, err
	}

	settings := models.NewSettings()
	settings.Username = username
	settings.RepositoryName = name
	settings.RemoteURL = client.BaseURL()
	settings.RemoteHost = info.RemoteHost
	settings.Configured = true
	c.pauseInitially(settings)
	if remoteRepo {
		c.importRetention(ctx, client, name, settings)
	}
	if err := in.Settings().Save(settings); err != nil {
		return nil, err
	}
	if err := c.seedPatterns(in); err != nil {
		return nil, err
	}
	c.logger.Info().Str("instance", in.DisplayName()).Str("server", client.BaseURL()).Msg("remote instance configured")
	return in, nil
}

// importRetention copies the retention settings of a reused repository from
// the server. Missing values keep the local defaults.
func (c *Collection) importRetention(ctx context.Context, client RemoteClient, name string, settings *models.Settings) {
	repo, err := client.GetRepo(ctx, name)
	if err != nil {
		c.logger.Warn().Err(err).Str("repo", name).Msg("cannot import retention settings")
		return
	}
	if repo.Maxage != nil {
		settings.Maxage = *repo.Maxage
	}
	if repo.Keepdays != nil {
		settings.Keepdays = *repo.Keepdays
	}
	for _, day := range repo.IgnoreWeekday {
		if day >= 0 && day <= 6 {
			settings.IgnoreWeekday = append(settings.IgnoreWeekday, time.Weekday(day))
		}
	}
}

// repoWaitInterval paces the polling for a repository to appear on the
// server. The repository only exists after the first backup reached it.
const repoWaitInterval = 5 * time.Second

// PushRetention propagates the local retention settings of a remote
// instance to the server, waiting for the repository to exist first.
func (c *Collection) PushRetention(ctx context.Context, in *instance.Instance, password string) error {
	settings, err := in.Settings().Load()
	if err != nil {
		return err
	}
	if !settings.IsRemote() {
		return models.ErrNotConfigured
	}
	client, err := c.newClient(c.logger, settings.RemoteURL, settings.Username, password)
	if err != nil {
		return err
	}
	if err := c.waitForRepo(ctx, client, settings.RepositoryName); err != nil {
		return err
	}
	repo := remote.RepoInfo{Name: settings.RepositoryName}
	if settings.Maxage > 0 {
		repo.Maxage = &settings.Maxage
	}
	if settings.Keepdays >= 0 {
		repo.Keepdays = &settings.Keepdays
	}
	for _, day := range settings.IgnoreWeekday {
		repo.IgnoreWeekday = append(repo.IgnoreWeekday, int(day))
	}
	return client.SetRepo(ctx, settings.RepositoryName, repo)
}

// waitForRepo polls the server until the repository exists or the context
// deadline expires.
func (c *Collection) waitForRepo(ctx context.Context, client RemoteClient, name string) error {
	for {
		if _, err := client.GetRepo(ctx, name); err == nil {
			return nil
		}
		c.logger.Debug().Str("repo", name).Msg("repository not on server yet, waiting")
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for repository %q: %w", name, ctx.Err())
		case <-time.After(repoWaitInterval):
		}
	}
}
