package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/ikus060/minarca-agent/internal/services/instance"
)

// transportDataDir is the directory the transport tool keeps inside an
// initialized repository. Its presence identifies a prior backup
// destination.
const transportDataDir = "rdiff-backup-data"

// ConfigureLocal creates a new instance backed by a local or removable disk
// destination. The destination directory must be empty or hold a previous
// repository, which is only reused with force. The disk identity is written
// to a marker file next to the destination so the disk can be recognized
// under a different mount point later.
func (c *Collection) ConfigureLocal(path, name string, force bool) (*instance.Instance, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, &models.InitDestinationError{Path: path, Err: err}
	}
	info, err := c.diskSvc.GetDiskInfo(path)
	if err != nil {
		return nil, &models.InitDestinationError{Path: path, Err: err}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &models.InitDestinationError{Path: path, Err: err}
	}
	_, statErr := os.Stat(filepath.Join(path, transportDataDir))
	hasRepository := statErr == nil
	if !force {
		if hasRepository {
			return nil, &models.RepositoryNameExistsError{Name: name}
		}
		if len(entries) > 0 {
			return nil, &models.LocalDestinationNotEmptyError{Path: path}
		}
	}

	destUUID, err := c.ensureMarker(path)
	if err != nil {
		return nil, err
	}

	// The same disk, path and name must not be configured twice.
	existing, err := c.Instances()
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		settings, err := other.Settings().Load()
		if err != nil {
			continue
		}
		if settings.LocalUUID == destUUID && settings.LocalRelPath == info.RelPath && settings.RepositoryName == name {
			return nil, &models.DuplicateSettingsError{InstanceID: other.DisplayName()}
		}
	}

	in, err := c.NewInstance()
	if err != nil {
		return nil, err
	}
	settings := models.NewSettings()
	settings.RepositoryName = name
	settings.LocalUUID = destUUID
	settings.LocalRelPath = info.RelPath
	settings.LocalMountPoint = info.MountPoint
	settings.LocalCaption = info.Caption
	settings.Configured = true
	c.pauseInitially(settings)
	if err := in.Settings().Save(settings); err != nil {
		return nil, err
	}
	if err := c.seedPatterns(in); err != nil {
		return nil, err
	}
	c.logger.Info().Str("instance", in.DisplayName()).Str("path", path).Msg("local instance configured")
	return in, nil
}

// ensureMarker reads or creates the disk identity marker one level above
// the destination.
func (c *Collection) ensureMarker(path string) (string, error) {
	markerPath := filepath.Join(filepath.Dir(path), instance.MarkerFilename)
	data, err := os.ReadFile(markerPath)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading marker %s: %w", markerPath, err)
	}
	id := c.newUUID()
	if err := os.WriteFile(markerPath, []byte(id+"\n"), 0o600); err != nil {
		return "", &models.InitDestinationError{Path: path, Err: err}
	}
	return id, nil
}
