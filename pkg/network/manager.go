package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/types"
)

// DefaultBridgeName is the network every box attaches to unless it
// requests --network=host, --network=none, or a named network.
const DefaultBridgeName = "bridge"

// DefaultBridgeSubnet is the default pool spec.md §4.7 specifies for
// the bridge network.
const DefaultBridgeSubnet = "10.88.0.0/16"

// ErrNotFound is returned when no network matches the given name.
var ErrNotFound = errors.New("network not found")

// ErrAlreadyExists is returned by Create when the name is taken.
var ErrAlreadyExists = errors.New("network already exists")

// ErrInUse is returned by Delete when boxes are still attached.
var ErrInUse = errors.New("network has attached boxes")

// attachment is the persisted record of one box's presence on a
// network, stored alongside the network definition itself.
type attachment struct {
	BoxID      string `json:"boxId"`
	Hostname   string `json:"hostname"`
	IPAddress  string `json:"ipAddress"`
	MACAddress string `json:"macAddress"`
}

type networkDoc struct {
	Network     types.Network `json:"network"`
	Attachments []attachment  `json:"attachments,omitempty"`
}

type networkState struct {
	def       types.Network
	allocator *Allocator
	hosts     *HostsTable
}

// Manager owns every network definition, persisting each one as
// <dir>/<name>.json per spec.md §6's on-disk layout
// ("networks/<name>.json — network definitions and allocations").
type Manager struct {
	fs  afero.Fs
	dir string

	mu       sync.Mutex
	networks map[string]*networkState
}

// NewManager returns a Manager persisting network documents under
// dir. Call Load before use to pick up any networks from a previous
// run, or EnsureDefault to bootstrap the default bridge.
func NewManager(fs afero.Fs, dir string) *Manager {
	return &Manager{fs: fs, dir: dir, networks: make(map[string]*networkState)}
}

// Load reads every persisted network document under dir into memory.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := afero.ReadDir(m.fs, m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindExternal, "network.load", m.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		doc, err := m.readDoc(entry.Name())
		if err != nil {
			return err
		}
		state, err := m.stateFromDoc(doc)
		if err != nil {
			return err
		}
		m.networks[doc.Network.Name] = state
	}
	return nil
}

// EnsureDefault creates the default bridge network if it does not
// already exist.
func (m *Manager) EnsureDefault() (*types.Network, error) {
	if n, err := m.Get(DefaultBridgeName); err == nil {
		return n, nil
	}
	return m.Create(DefaultBridgeName, DefaultBridgeSubnet, nil)
}

// Create defines a new network over subnetCIDR (e.g. "10.88.0.0/16").
func (m *Manager) Create(name, subnetCIDR string, labels map[string]string) (*types.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.networks[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	_, subnet, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return nil, errs.Wrap(errs.KindUser, "network.create", name, err)
	}
	alloc, err := NewAllocator(subnet)
	if err != nil {
		return nil, errs.Wrap(errs.KindUser, "network.create", name, err)
	}

	def := types.Network{
		Name:      name,
		Subnet:    subnet.String(),
		Gateway:   alloc.Gateway().String(),
		CreatedAt: time.Now(),
		Labels:    labels,
	}
	state := &networkState{def: def, allocator: alloc, hosts: NewHostsTable()}
	m.networks[name] = state

	if err := m.saveLocked(name, state); err != nil {
		delete(m.networks, name)
		return nil, err
	}
	return &def, nil
}

// Get returns the definition of network name.
func (m *Manager) Get(name string) (*types.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	def := state.def
	return &def, nil
}

// List returns every defined network.
func (m *Manager) List() ([]*types.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Network, 0, len(m.networks))
	for _, state := range m.networks {
		def := state.def
		out = append(out, &def)
	}
	return out, nil
}

// Delete removes network name. It refuses to remove a network with
// boxes still attached.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.networks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if len(state.allocator.byBox) > 0 {
		return fmt.Errorf("%w: %s", ErrInUse, name)
	}
	delete(m.networks, name)
	path := m.docPath(name)
	if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindExternal, "network.delete", path, err)
	}
	return nil
}

// Attach allocates an endpoint for boxID on network name and adds it
// to the network's hosts table.
func (m *Manager) Attach(name, boxID, hostname string) (Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.networks[name]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	ip, mac, err := state.allocator.Allocate(boxID)
	if err != nil {
		return Endpoint{}, errs.Wrap(errs.KindResource, "network.attach", name, err)
	}
	state.hosts.Set(boxID, hostname, ip.String())

	ep := Endpoint{BoxID: boxID, Hostname: hostname, IPAddress: ip.String(), MACAddress: mac.String()}
	if err := m.saveLocked(name, state); err != nil {
		state.allocator.Release(boxID)
		state.hosts.Remove(boxID)
		return Endpoint{}, err
	}
	return ep, nil
}

// Detach releases boxID's endpoint on network name.
func (m *Manager) Detach(name, boxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.networks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	state.allocator.Release(boxID)
	state.hosts.Remove(boxID)
	return m.saveLocked(name, state)
}

// HostsFile renders the /etc/hosts content for boxID on network name.
func (m *Manager) HostsFile(name, boxID string) (string, error) {
	m.mu.Lock()
	state, ok := m.networks[name]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return state.hosts.Render(boxID), nil
}

// Reconcile reclaims every IP allocation on network name whose box id
// is not present in live.
func (m *Manager) Reconcile(name string, live map[string]bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	released := state.allocator.Reconcile(live)
	for _, boxID := range released {
		state.hosts.Remove(boxID)
	}
	if len(released) > 0 {
		if err := m.saveLocked(name, state); err != nil {
			return nil, err
		}
	}
	return released, nil
}

func (m *Manager) docPath(name string) string {
	return filepath.Join(m.dir, name+".json")
}

func (m *Manager) readDoc(fileName string) (networkDoc, error) {
	path := filepath.Join(m.dir, fileName)
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return networkDoc{}, errs.Wrap(errs.KindExternal, "network.load", path, err)
	}
	var doc networkDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return networkDoc{}, errs.Wrap(errs.KindIntegrity, "network.load", path, err)
	}
	return doc, nil
}

func (m *Manager) stateFromDoc(doc networkDoc) (*networkState, error) {
	_, subnet, err := net.ParseCIDR(doc.Network.Subnet)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, "network.load", doc.Network.Name, err)
	}
	alloc, err := NewAllocator(subnet)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, "network.load", doc.Network.Name, err)
	}
	hosts := NewHostsTable()
	for _, a := range doc.Attachments {
		ip := net.ParseIP(a.IPAddress)
		if ip == nil {
			continue
		}
		alloc.Restore(a.BoxID, ip)
		hosts.Set(a.BoxID, a.Hostname, a.IPAddress)
	}
	return &networkState{def: doc.Network, allocator: alloc, hosts: hosts}, nil
}

// saveLocked serializes state's current definition and attachments
// and writes it atomically (temp file + rename), mirroring
// pkg/boxstore's crash-safety pattern. Caller must hold m.mu.
func (m *Manager) saveLocked(name string, state *networkState) error {
	attachments := make([]attachment, 0, len(state.allocator.byBox))
	state.allocator.mu.Lock()
	for boxID, ip := range state.allocator.byBox {
		hostname := boxID
		if e, ok := state.hosts.entries[boxID]; ok {
			hostname = e.hostname
		}
		attachments = append(attachments, attachment{
			BoxID:      boxID,
			Hostname:   hostname,
			IPAddress:  ip.String(),
			MACAddress: macFor(ip).String(),
		})
	}
	state.allocator.mu.Unlock()

	doc := networkDoc{Network: state.def, Attachments: attachments}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "network.save", name, err)
	}

	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return errs.Wrap(errs.KindExternal, "network.save", m.dir, err)
	}

	path := m.docPath(name)
	tmp := path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.KindExternal, "network.save", path, err)
	}
	if err := m.fs.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.KindExternal, "network.save", path, err)
	}
	return nil
}
