// Package destination keeps the list of telemetry destinations
// configured for the ground control station, persisted as JSON.
package destination

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/copier"
	log "github.com/sirupsen/logrus"
)

// DefaultFile is where destinations are kept if no other file is given
const DefaultFile = "data/ground_control_station.json"

// ErrInvalid is wrapped by errors caused by a bad list of destinations
var ErrInvalid = errors.New("invalid destinations")

// Destination is somewhere the ground control station can forward to
type Destination struct {
	Name               string `json:"name" validate:"required"`
	IP                 string `json:"ip" validate:"required,ip"`
	Port               string `json:"port" validate:"required,portnumber"`
	DestinationEnabled bool   `json:"destinationEnabled"`
	TelemetryEnabled   bool   `json:"telemetryEnabled"`
}

// List is the form in which destinations are stored and exchanged
type List struct {
	Destinations []Destination `json:"destinations" validate:"required,dive"`
}

// Store caches the destinations held in a file
type Store struct {
	sync.Mutex

	path string

	destinations []Destination

	validate *validator.Validate
}

// New returns a pointer to a Store backed by the file at path,
// loading whatever destinations it already holds
func New(path string) *Store {

	if path == "" {
		path = DefaultFile
	}

	v := validator.New()

	if err := v.RegisterValidation("portnumber", isPortNumber); err != nil {
		log.WithField("error", err.Error()).Fatal("cannot register port validation")
	}

	s := &Store{
		path:     path,
		validate: v,
	}

	s.Load()

	return s
}

// Path returns the file backing the store
func (s *Store) Path() string {
	return s.path
}

// Load re-reads the file. A missing or unreadable file gives an empty list.
func (s *Store) Load() []Destination {

	s.Lock()
	defer s.Unlock()

	s.destinations = []Destination{}

	b, err := os.ReadFile(s.path)

	if errors.Is(err, os.ErrNotExist) {
		log.WithField("file", s.path).Debug("no destinations file")
		return s.list()
	}

	if err != nil {
		log.WithFields(log.Fields{"file": s.path, "error": err.Error()}).Warn("cannot read destinations file")
		return s.list()
	}

	var l List

	if err := json.Unmarshal(b, &l); err != nil {
		log.WithFields(log.Fields{"file": s.path, "error": err.Error()}).Warn("cannot parse destinations file")
		return s.list()
	}

	if l.Destinations != nil {
		s.destinations = l.Destinations
	}

	log.WithFields(log.Fields{"file": s.path, "count": len(s.destinations)}).Debug("loaded destinations")

	return s.list()
}

// List returns a copy of the current destinations
func (s *Store) List() []Destination {
	s.Lock()
	defer s.Unlock()
	return s.list()
}

// Validate checks every destination in l
func (s *Store) Validate(l List) error {
	if err := s.validate.Struct(l); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err.Error())
	}
	return nil
}

// Save validates l and replaces both the file and the cached list with it.
// Errors caused by the contents of l wrap ErrInvalid.
func (s *Store) Save(l List) error {

	if err := s.Validate(l); err != nil {
		return err
	}

	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// write then rename, so a failed write leaves the old file intact
	tmp := s.path + ".tmp"

	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("writing destinations: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing destinations: %w", err)
	}

	s.destinations = []Destination{}

	if err := copier.Copy(&s.destinations, &l.Destinations); err != nil {
		return err
	}

	log.WithFields(log.Fields{"file": s.path, "count": len(s.destinations)}).Info("saved destinations")

	return nil
}

// list must be called with the lock held
func (s *Store) list() []Destination {

	out := []Destination{}

	if err := copier.Copy(&out, &s.destinations); err != nil {
		log.WithField("error", err.Error()).Error("cannot copy destinations")
	}

	return out
}

func isPortNumber(fl validator.FieldLevel) bool {
	p, err := strconv.Atoi(fl.Field().String())
	return err == nil && p >= 1 && p <= 65535
}
