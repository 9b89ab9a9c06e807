package volume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/log"
	"github.com/a3s-box/box/pkg/types"
)

// PinLabel, when present with value "true" on a volume's labels,
// exempts it from Prune even with an empty attach list.
const PinLabel = "a3s.pin"

// ErrNotFound is returned when no volume matches the given name.
var ErrNotFound = errors.New("volume not found")

// ErrAlreadyExists is returned by Create when the name is taken.
var ErrAlreadyExists = errors.New("volume already exists")

// ErrInUse is returned by Remove when the volume has boxes attached.
var ErrInUse = errors.New("volume is attached to a box")

type record struct {
	Volume   types.Volume `json:"volume"`
	Attached []string     `json:"attached,omitempty"`
}

// Manager owns every volume's metadata and reference count, and
// delegates data-directory creation/removal to a Driver.
type Manager struct {
	fs     afero.Fs
	root   string
	driver Driver

	mu      sync.Mutex
	volumes map[string]*record
}

// NewManager returns a Manager whose volumes live under root
// (typically <home>/volumes), backed by a LocalDriver over fs.
func NewManager(fs afero.Fs, root string) *Manager {
	return &Manager{
		fs:      fs,
		root:    root,
		driver:  NewLocalDriver(fs, root),
		volumes: make(map[string]*record),
	}
}

// Load reads every volume's meta.json under root into memory.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := afero.ReadDir(m.fs, m.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindExternal, "volume.load", m.root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		metaPath := m.metaPath(entry.Name())
		data, err := afero.ReadFile(m.fs, metaPath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return errs.Wrap(errs.KindExternal, "volume.load", metaPath, err)
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return errs.Wrap(errs.KindIntegrity, "volume.load", metaPath, err)
		}
		m.volumes[rec.Volume.Name] = &rec
	}
	return nil
}

// Create defines and materializes a new named volume.
func (m *Manager) Create(name, driverName string, labels map[string]string) (*types.Volume, error) {
	return m.create(name, driverName, labels, false)
}

// CreateAnonymous defines an anonymous volume for a single box, using
// a generated name. It is deleted automatically the moment its
// attach list goes empty.
func (m *Manager) CreateAnonymous(labels map[string]string) (*types.Volume, error) {
	return m.create("anon-"+uuid.New().String(), "local", labels, true)
}

func (m *Manager) create(name, driverName string, labels map[string]string, anonymous bool) (*types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.volumes[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if driverName == "" {
		driverName = "local"
	}

	v := types.Volume{
		Name:      name,
		Driver:    driverName,
		CreatedAt: time.Now(),
		Labels:    labels,
		Anonymous: anonymous,
	}
	if err := m.driver.Create(&v); err != nil {
		return nil, err
	}

	rec := &record{Volume: v}
	if err := m.saveLocked(rec); err != nil {
		m.driver.Delete(&v)
		return nil, err
	}
	m.volumes[name] = rec
	log.WithVolume(name).Info().Str("driver", driverName).Bool("anonymous", anonymous).Msg("volume created")
	return &v, nil
}

// Get returns volume name's current record.
func (m *Manager) Get(name string) (*types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.volumes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	v := rec.Volume
	return &v, nil
}

// List returns every volume.
func (m *Manager) List() ([]*types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Volume, 0, len(m.volumes))
	for _, rec := range m.volumes {
		v := rec.Volume
		out = append(out, &v)
	}
	return out, nil
}

// Path returns the host directory the engine should pass as this
// volume's virtio-fs tag target.
func (m *Manager) Path(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.volumes[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.driver.Path(&rec.Volume), nil
}

// Remove deletes volume name outright. It refuses to remove a volume
// with a non-empty attach list unless force is true.
func (m *Manager) Remove(name string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.volumes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if len(rec.Attached) > 0 && !force {
		return fmt.Errorf("%w: %s", ErrInUse, name)
	}
	return m.deleteLocked(rec)
}

// Attach increments name's reference count for boxID and returns the
// host path to mount. Attaching the same boxID twice is a no-op.
func (m *Manager) Attach(name, boxID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.volumes[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if !containsString(rec.Attached, boxID) {
		rec.Attached = append(rec.Attached, boxID)
		rec.Volume.RefCount = len(rec.Attached)
		if err := m.saveLocked(rec); err != nil {
			return "", err
		}
	}
	return m.driver.Path(&rec.Volume), nil
}

// Detach decrements name's reference count for boxID. If the volume
// is anonymous and its attach list becomes empty, it is deleted
// immediately (anonymous volumes are tied to their box's lifetime).
func (m *Manager) Detach(name, boxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.volumes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	rec.Attached = removeString(rec.Attached, boxID)
	rec.Volume.RefCount = len(rec.Attached)

	if rec.Volume.Anonymous && len(rec.Attached) == 0 {
		return m.deleteLocked(rec)
	}
	return m.saveLocked(rec)
}

// Prune removes every volume with an empty attach list that is not
// pinned via PinLabel, returning the names it removed.
func (m *Manager) Prune() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for name, rec := range m.volumes {
		if len(rec.Attached) > 0 {
			continue
		}
		if rec.Volume.Labels[PinLabel] == "true" {
			continue
		}
		if err := m.deleteLocked(rec); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func (m *Manager) deleteLocked(rec *record) error {
	if err := m.driver.Delete(&rec.Volume); err != nil {
		return err
	}
	delete(m.volumes, rec.Volume.Name)
	log.WithVolume(rec.Volume.Name).Info().Msg("volume deleted")
	return nil
}

func (m *Manager) metaPath(name string) string {
	return filepath.Join(m.root, name, "meta.json")
}

// saveLocked serializes rec and writes it atomically (temp file +
// rename), mirroring pkg/boxstore's crash-safety pattern. Caller
// must hold m.mu.
func (m *Manager) saveLocked(rec *record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "volume.save", rec.Volume.Name, err)
	}

	dir := filepath.Join(m.root, rec.Volume.Name)
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindExternal, "volume.save", dir, err)
	}

	path := m.metaPath(rec.Volume.Name)
	tmp := path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.KindExternal, "volume.save", path, err)
	}
	if err := m.fs.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.KindExternal, "volume.save", path, err)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
