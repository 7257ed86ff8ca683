package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wrenfield/loreshare/internal/checksum"
)

// Store is the file-backed canonical tree held by the curating host. All
// reads return deep copies so callers can never mutate the stored document
// behind the lock, and all writes go through an atomic replace of the
// backing file.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Tree
	lastSum string // checksum of the last state we wrote or accepted
}

// NewStore creates a store backed by the JSON document at path. The parent
// directory is created if needed; the file itself may not exist yet.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("tree: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("tree: mkdir: %w", err)
	}
	return &Store{path: abs, logger: logger, current: Tree{Level: Level{Pages: []Page{}, Categories: []Category{}}}}, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string { return s.path }

// Load reads the backing file into memory. A missing file yields an empty
// tree; an unreadable document is logged and likewise degrades to empty
// rather than failing session start.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tree: load %s: %w", s.path, err)
	}

	t, ok := Decode(data)
	if !ok {
		s.logger.Warn("tree: backing file unreadable, starting empty", slog.String("path", s.path))
	}
	missing := assignIDs(&t)
	if missing > 0 {
		s.logger.Info("tree: assigned missing ids", slog.Int("count", missing))
	}

	s.mu.Lock()
	s.current = t
	s.lastSum = checksum.Sum(data)
	s.mu.Unlock()

	if missing > 0 {
		return s.persist()
	}
	return nil
}

// Tree returns a deep copy of the current document.
func (s *Store) Tree() Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Replace normalizes t, fills in any missing ids, installs it as the new
// document and persists.
func (s *Store) Replace(t Tree) error {
	Normalize(&t)
	assignIDs(&t)
	s.mu.Lock()
	s.current = t.Clone()
	s.mu.Unlock()
	return s.persist()
}

// Update applies fn to a copy of the current document under the write lock
// and persists the result. If fn returns an error the stored tree is left
// untouched and nothing is written.
func (s *Store) Update(fn func(*Tree) error) error {
	s.mu.Lock()
	next := s.current.Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	assignIDs(&next)
	s.current = next
	s.mu.Unlock()
	return s.persist()
}

// persist writes the current document atomically: tmp file → fsync → rename.
// The checksum of the written bytes is recorded so the watcher can tell our
// own writes apart from external edits.
func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("tree: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".loreshare-tmp-*")
	if err != nil {
		return fmt.Errorf("tree: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("tree: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("tree: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tree: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("tree: rename: %w", err)
	}
	success = true
	s.lastSum = checksum.Sum(data)
	return nil
}

// Watch follows external edits to the backing file until ctx is cancelled
// and calls onChange with a copy of each newly loaded document. Writes made
// through the store itself are recognized by checksum and skipped. The
// parent directory is watched rather than the file so atomic replaces
// (write-to-temp then rename) are seen.
func (s *Store) Watch(ctx context.Context, onChange func(Tree)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tree: watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("tree: watch dir: %w", err)
	}
	s.logger.Info("tree: watching", slog.String("path", s.path))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tree: watcher stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			data, readErr := os.ReadFile(s.path)
			if readErr != nil {
				// Remove-then-recreate races resolve on the next event.
				continue
			}
			sum := checksum.Sum(data)
			s.mu.Lock()
			if sum == s.lastSum {
				s.mu.Unlock()
				continue
			}
			t, decoded := Decode(data)
			if !decoded {
				s.mu.Unlock()
				s.logger.Warn("tree: external edit unreadable, keeping current", slog.String("path", s.path))
				continue
			}
			missing := assignIDs(&t)
			s.current = t
			s.lastSum = sum
			s.mu.Unlock()

			if missing > 0 {
				// Write the assigned ids back so they stay stable across
				// reloads. persist refreshes lastSum, so this write does
				// not come back around as another event.
				if perr := s.persist(); perr != nil {
					s.logger.Warn("tree: persist assigned ids", slog.String("error", perr.Error()))
				}
			}

			s.logger.Debug("tree: reloaded after external edit", slog.String("path", s.path))
			if onChange != nil {
				onChange(t.Clone())
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("tree: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
