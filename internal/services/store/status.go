package store

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/magiconair/properties"
	"github.com/rs/zerolog"
)

// StatusStore reads and writes one instance's status file.
type StatusStore struct {
	path   string
	logger zerolog.Logger
}

// NewStatus creates a status store backed by the given file.
func NewStatus(logger zerolog.Logger, path string) *StatusStore {
	return &StatusStore{path: path, logger: logger}
}

// Path returns the backing file location.
func (s *StatusStore) Path() string { return s.path }

// Load reads the status file. A missing file yields the initial UNKNOWN
// status.
func (s *StatusStore) Load() (*models.Status, error) {
	v := models.NewStatus()
	p, err := loadProps(s.path)
	if err != nil {
		return nil, fmt.Errorf("loading status: %w", err)
	}
	if p == nil {
		return v, nil
	}

	if r := p.GetString("lastresult", ""); r != "" {
		v.LastResult = models.Result(r)
	}
	v.LastDate = parseTime(p.GetString("lastdate", ""))
	v.LastSuccess = parseTime(p.GetString("lastsuccess", ""))
	v.Details = p.GetString("details", "")
	v.Action = models.Action(p.GetString("action", ""))
	v.PID = p.GetInt("pid", 0)
	v.LastNotificationID = p.GetString("lastnotificationid", "")
	v.LastNotificationDate = parseTime(p.GetString("lastnotificationdate", ""))
	return v, nil
}

// Save rewrites the status file atomically.
func (s *StatusStore) Save(v *models.Status) error {
	p := properties.NewProperties()
	set := func(key, value string) {
		if value != "" {
			_, _, _ = p.Set(key, value)
		}
	}
	set("lastresult", string(v.LastResult))
	set("lastdate", formatTime(v.LastDate))
	set("lastsuccess", formatTime(v.LastSuccess))
	set("details", v.Details)
	set("action", string(v.Action))
	if v.PID > 0 {
		set("pid", strconv.Itoa(v.PID))
	}
	set("lastnotificationid", v.LastNotificationID)
	set("lastnotificationdate", formatTime(v.LastNotificationDate))
	if err := writeProps(s.path, p); err != nil {
		return fmt.Errorf("saving status: %w", err)
	}
	return nil
}

// Update runs fn against the loaded status and unconditionally persists the
// record afterwards, even when fn fails.
func (s *StatusStore) Update(fn func(*models.Status) error) error {
	v, err := s.Load()
	if err != nil {
		return err
	}
	fnErr := fn(v)
	if err := s.Save(v); err != nil {
		if fnErr != nil {
			return fnErr
		}
		return err
	}
	return fnErr
}

// Delete removes the status file, ignoring a missing one.
func (s *StatusStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting status: %w", err)
	}
	return nil
}
