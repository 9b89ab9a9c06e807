/*
Package boxstore implements the single-JSON-document box state store.

Unlike the bbolt database behind pkg/registry's image cache index,
the box store is
deliberately a flat file: <home>/boxes.json holds every BoxRecord as a
JSON array. Every mutation is applied in memory under an exclusive
file lock, then the whole document is re-serialized and written via
serialize -> write to a sibling temp file -> fsync -> rename, so a
crash at any point during the write leaves boxes.json equal to either
its pre-write or post-write content — never a partial document.

# Concurrency

A single process-wide RWMutex serializes in-memory access; an
additional advisory flock on boxes.json.lock serializes access across
process boundaries (relevant for "a3s-shim" helper processes and CLI
invocations that bypass the daemon). Reconcile() probes each
record's PID for liveness and repairs state left inconsistent by an
unclean shutdown of a previous process.

# Lookup

Callers address boxes by exact name, exact ID, or an unambiguous ID
prefix, tried in that order; a prefix matching more than one box returns ErrAmbiguous,
matching the same id-prefix convention container runtimes in this
corpus use for their object stores.
*/
package boxstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/types"
)

// ErrNotFound is returned when no box matches the given name/ID/prefix.
var ErrNotFound = errors.New("box not found")

// ErrAmbiguous is returned when an ID prefix matches more than one box.
var ErrAmbiguous = errors.New("ambiguous box reference")

// ErrNameExists is returned by Create when the box name is already
// taken by a live (non-Dead) box.
var ErrNameExists = errors.New("box name already exists")

// Store is the on-disk, atomically-updated box state store.
type Store struct {
	path string

	mu     sync.RWMutex
	boxes  map[string]*types.BoxRecord
	loaded bool
}

// New returns a Store backed by path (typically <home>/boxes.json).
// The file and its parent directory are created on first Save if they
// do not exist.
func New(path string) *Store {
	return &Store{path: path, boxes: make(map[string]*types.BoxRecord)}
}

// Load reads boxes.json into memory. It is safe to call Load again to
// pick up changes made by another process after taking the file lock.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.boxes = make(map[string]*types.BoxRecord)
		s.loaded = true
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindExternal, "boxstore.load", s.path, err)
	}

	var records []*types.BoxRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return errs.Wrap(errs.KindIntegrity, "boxstore.load", s.path, err)
		}
	}

	boxes := make(map[string]*types.BoxRecord, len(records))
	for _, r := range records {
		boxes[r.ID] = r
	}
	s.boxes = boxes
	s.loaded = true
	return nil
}

// saveLocked serializes every record and writes it atomically. Caller
// must hold s.mu for writing.
func (s *Store) saveLocked() error {
	records := make([]*types.BoxRecord, 0, len(s.boxes))
	for _, r := range s.boxes {
		records = append(records, r)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "boxstore.save", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindExternal, "boxstore.save", dir, err)
	}

	unlock, err := flockPath(filepath.Join(dir, filepath.Base(s.path)+".lock"))
	if err != nil {
		return errs.Wrap(errs.KindExternal, "boxstore.save", s.path, err)
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errs.Wrap(errs.KindExternal, "boxstore.save", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindExternal, "boxstore.save", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindExternal, "boxstore.save", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.KindExternal, "boxstore.save", s.path, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errs.Wrap(errs.KindExternal, "boxstore.save", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errs.Wrap(errs.KindExternal, "boxstore.save", s.path, err)
	}
	return nil
}

// flockPath takes an exclusive advisory lock on path (creating it if
// necessary) and returns a function that releases it.
func flockPath(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	return s.loadLocked()
}

// Create inserts a new box record. It fails with ErrNameExists if a
// non-Dead box already has the same name.
func (s *Store) Create(record *types.BoxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}

	for _, existing := range s.boxes {
		if existing.Config.Name == record.Config.Name && existing.State != types.BoxStateDead {
			return fmt.Errorf("%w: %s", ErrNameExists, record.Config.Name)
		}
	}

	s.boxes[record.ID] = record
	return s.saveLocked()
}

// Get resolves ref (exact name, exact ID, or unambiguous ID prefix) to
// a box record.
func (s *Store) Get(ref string) (*types.BoxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(ref)
}

func (s *Store) resolveLocked(ref string) (*types.BoxRecord, error) {
	if !s.loaded {
		return nil, errs.New(errs.KindInternal, "boxstore.resolve", ref, errors.New("store not loaded"))
	}

	var byName *types.BoxRecord
	var prefixMatches []*types.BoxRecord
	for _, r := range s.boxes {
		if r.Config.Name == ref {
			byName = r
		}
		if strings.HasPrefix(r.ID, ref) {
			prefixMatches = append(prefixMatches, r)
		}
	}
	if byName != nil {
		return byName, nil
	}
	if r, ok := s.boxes[ref]; ok {
		return r, nil
	}
	switch len(prefixMatches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return prefixMatches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, ref)
	}
}

// List returns every box record, in no particular order.
func (s *Store) List() ([]*types.BoxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, errs.New(errs.KindInternal, "boxstore.list", "", errors.New("store not loaded"))
	}
	out := make([]*types.BoxRecord, 0, len(s.boxes))
	for _, r := range s.boxes {
		out = append(out, r)
	}
	return out, nil
}

// Update applies fn to the box resolved from ref and persists the
// result. fn mutates the record in place.
func (s *Store) Update(ref string, fn func(*types.BoxRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	r, err := s.resolveLocked(ref)
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}
	return s.saveLocked()
}

// Delete removes a box record outright (used by the engine's Remove
// once a box is no longer running, not as part of ordinary lifecycle
// transitions).
func (s *Store) Delete(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	r, err := s.resolveLocked(ref)
	if err != nil {
		return err
	}
	delete(s.boxes, r.ID)
	return s.saveLocked()
}

// Reconcile probes the PID recorded against every box claiming to be
// Running or Paused and marks boxes whose shim process is no longer
// alive as Dead. It returns the IDs of boxes it changed.
func (s *Store) Reconcile() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}

	var changed []string
	for _, r := range s.boxes {
		if r.State != types.BoxStateRunning && r.State != types.BoxStatePaused {
			continue
		}
		if r.PID <= 0 || !pidAlive(r.PID) {
			r.State = types.BoxStateDead
			r.FinishedAt = time.Now()
			if r.Error == "" {
				r.Error = "shim process not found on reconciliation"
			}
			changed = append(changed, r.ID)
		}
	}
	if len(changed) > 0 {
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

// pidAlive reports whether pid refers to a live process, using
// signal 0 which performs error checking without actually sending a
// signal.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
