package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/a3s-box/box/pkg/log"
)

var (
	imagesBucket = []byte("images")
	blobsBucket  = []byte("blobs")
	rootfsBucket = []byte("rootfs_cache")
)

// Client resolves, pulls, and caches OCI images under a local home
// directory. A Client is safe for concurrent use.
type Client struct {
	home          string
	cacheSizeCap  int64
	pullConcurrency int

	db     *bolt.DB
	creds  *CredentialStore
	logger zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*inflightPull
}

type inflightPull struct {
	wg  sync.WaitGroup
	err error
}

// Options configures a new Client.
type Options struct {
	Home            string
	CacheSizeCap    int64
	PullConcurrency int
}

// New opens (creating if necessary) the registry client's on-disk
// state under opts.Home/images.
func New(opts Options) (*Client, error) {
	if opts.PullConcurrency <= 0 {
		opts.PullConcurrency = 4
	}

	imagesDir := filepath.Join(opts.Home, "images")
	if err := os.MkdirAll(filepath.Join(imagesDir, "blobs", "sha256"), 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(imagesDir, "cache-index.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{imagesBucket, blobsBucket, rootfsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache index buckets: %w", err)
	}

	creds, err := NewCredentialStore(filepath.Join(imagesDir, "auth", "credentials.json"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	return &Client{
		home:            opts.Home,
		cacheSizeCap:    opts.CacheSizeCap,
		pullConcurrency: opts.PullConcurrency,
		db:              db,
		creds:           creds,
		logger:          log.WithComponent("registry"),
		inflight:        make(map[string]*inflightPull),
	}, nil
}

// Close releases the cache index and credential watcher.
func (c *Client) Close() error {
	c.creds.Close()
	return c.db.Close()
}

// BlobPath returns the on-disk path a layer digest is cached at,
// usable as a rootfs.BlobPathFunc.
func (c *Client) BlobPath(digest string) string {
	return c.blobPath(digest)
}

func (c *Client) blobPath(digest string) string {
	hex := digest
	if idx := indexOfColon(digest); idx >= 0 {
		hex = digest[idx+1:]
	}
	return filepath.Join(c.home, "images", "blobs", "sha256", hex)
}

func indexOfColon(s string) int {
	for i := range s {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
