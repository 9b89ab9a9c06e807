package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-containerregistry/pkg/authn"

	"github.com/a3s-box/box/pkg/log"
)

// hostCredential is one entry in credentials.json.
type hostCredential struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// CredentialStore resolves per-registry-host credentials from, in
// priority order: a stored credentials.json entry, then
// A3S_REGISTRY_USERNAME/PASSWORD or A3S_REGISTRY_<HOST>_TOKEN
// environment variables. The JSON file is re-read on fsnotify write
// events so a concurrent `login`/`logout` is picked up without
// restarting whatever process holds this Client open.
type CredentialStore struct {
	path string

	mu    sync.RWMutex
	creds map[string]hostCredential

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCredentialStore loads path (if present) and starts watching it
// for changes.
func NewCredentialStore(path string) (*CredentialStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	cs := &CredentialStore{
		path:  path,
		creds: make(map[string]hostCredential),
		done:  make(chan struct{}),
	}
	if err := cs.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Not fatal: the store still works, it just won't pick up
		// concurrent edits until the next process restart.
		log.WithComponent("registry.creds").Warn().Err(err).Msg("credential file watch disabled")
		return cs, nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return cs, nil
	}
	cs.watcher = watcher
	go cs.watch()
	return cs, nil
}

func (cs *CredentialStore) watch() {
	logger := log.WithComponent("registry.creds")
	for {
		select {
		case ev, ok := <-cs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(cs.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := cs.reload(); err != nil {
					logger.Warn().Err(err).Msg("reload credentials.json failed")
				}
			}
		case err, ok := <-cs.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("credential watcher error")
		case <-cs.done:
			return
		}
	}
}

func (cs *CredentialStore) reload() error {
	data, err := os.ReadFile(cs.path)
	if os.IsNotExist(err) {
		cs.mu.Lock()
		cs.creds = make(map[string]hostCredential)
		cs.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}

	var creds map[string]hostCredential
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}

	cs.mu.Lock()
	cs.creds = creds
	cs.mu.Unlock()
	return nil
}

// Set stores (or replaces) the credential for host and persists the
// file, triggering the watcher's own reload on write.
func (cs *CredentialStore) Set(host string, cred hostCredential) error {
	cs.mu.Lock()
	cs.creds[host] = cred
	snapshot := make(map[string]hostCredential, len(cs.creds))
	for k, v := range cs.creds {
		snapshot[k] = v
	}
	cs.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0o600)
}

// Remove deletes host's stored credential.
func (cs *CredentialStore) Remove(host string) error {
	cs.mu.Lock()
	delete(cs.creds, host)
	snapshot := make(map[string]hostCredential, len(cs.creds))
	for k, v := range cs.creds {
		snapshot[k] = v
	}
	cs.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0o600)
}

// Keychain adapts a CredentialStore to go-containerregistry's
// authn.Keychain interface.
type Keychain struct {
	Store *CredentialStore
}

// Resolve implements authn.Keychain.
func (k Keychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	return k.Store.Authenticator(target.RegistryStr()), nil
}

// Authenticator resolves credentials for host from the store, then
// from A3S_REGISTRY_* environment variables, then falls back to
// anonymous access.
func (cs *CredentialStore) Authenticator(host string) authn.Authenticator {
	cs.mu.RLock()
	cred, ok := cs.creds[host]
	cs.mu.RUnlock()

	if ok {
		return credToAuthenticator(cred)
	}

	if user := os.Getenv("A3S_REGISTRY_USERNAME"); user != "" {
		return credToAuthenticator(hostCredential{
			Username: user,
			Password: os.Getenv("A3S_REGISTRY_PASSWORD"),
		})
	}

	envKey := "A3S_REGISTRY_" + envSafeHost(host) + "_TOKEN"
	if tok := os.Getenv(envKey); tok != "" {
		return credToAuthenticator(hostCredential{Token: tok})
	}

	return authn.Anonymous
}

func credToAuthenticator(cred hostCredential) authn.Authenticator {
	if cred.Token != "" {
		return &authn.Bearer{Token: cred.Token}
	}
	return &authn.Basic{Username: cred.Username, Password: cred.Password}
}

func envSafeHost(host string) string {
	out := make([]rune, 0, len(host))
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-32)
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Close stops the file watcher.
func (cs *CredentialStore) Close() {
	if cs.watcher != nil {
		close(cs.done)
		cs.watcher.Close()
	}
}
