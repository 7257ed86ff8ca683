// Package roster reads the room's membership file: who may join and who
// is elevated. The file is plain YAML so a host can edit it mid-session;
// the session re-reads it on its role poll, which is how an elevation
// granted on disk reaches a running participant.
package roster

import (
	"fmt"
	"log/slog"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/wrenfield/loreshare/pkg/config"
)

// Participant is one roster entry.
type Participant struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Elevated bool   `yaml:"elevated"`
}

// Validate implements config.Validator.
func (p Participant) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Name, validation.Required),
	)
}

// File is the on-disk shape of the membership file.
type File struct {
	Participants []Participant `yaml:"participants"`
}

// Validate implements config.Validator.
func (f File) Validate() error {
	seen := make(map[string]bool, len(f.Participants))
	for i, p := range f.Participants {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("participant %d: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("participant %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Roster is the loaded membership list. Reload swaps the whole list
// atomically, so readers always see one consistent file version.
type Roster struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	list []Participant
	byID map[string]Participant
}

// Load reads the membership file at path. The initial read must succeed;
// later Reload failures keep the last good list.
func Load(path string, logger *slog.Logger) (*Roster, error) {
	r := &Roster{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the membership file. On failure the previous list stays
// in place.
func (r *Roster) Reload() error {
	var f File
	if err := config.Load(r.path, &f); err != nil {
		r.logger.Warn("roster: reload failed, keeping last good list",
			slog.String("path", r.path),
			slog.String("error", err.Error()))
		return fmt.Errorf("roster: %w", err)
	}

	byID := make(map[string]Participant, len(f.Participants))
	for _, p := range f.Participants {
		byID[p.ID] = p
	}

	r.mu.Lock()
	r.list = f.Participants
	r.byID = byID
	r.mu.Unlock()
	return nil
}

// Get returns the roster entry for id.
func (r *Roster) Get(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// Elevated reports whether id is marked elevated. Unknown ids are not.
func (r *Roster) Elevated(id string) bool {
	p, ok := r.Get(id)
	return ok && p.Elevated
}

// All returns the participants in file order.
func (r *Roster) All() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Participant(nil), r.list...)
}
