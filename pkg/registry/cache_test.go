package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cacheCap int64) *Client {
	t.Helper()
	home := t.TempDir()
	c, err := New(Options{Home: home, CacheSizeCap: cacheCap, PullConcurrency: 2})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func writeBlob(t *testing.T, c *Client, digest string, size int64) {
	t.Helper()
	path := c.blobPath(digest)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	require.NoError(t, c.recordBlob(digest, size))
}

func TestEvictionSkipsReferencedBlobs(t *testing.T) {
	c := newTestClient(t, 10)

	writeBlob(t, c, "sha256:aaa", 8)
	require.NoError(t, c.Acquire("sha256:aaa"))
	writeBlob(t, c, "sha256:bbb", 8)

	require.NoError(t, c.evictUntilWithinBudget())

	_, err := os.Stat(c.blobPath("sha256:aaa"))
	assert.NoError(t, err, "referenced blob must survive eviction")

	_, err = os.Stat(c.blobPath("sha256:bbb"))
	assert.True(t, os.IsNotExist(err), "unreferenced blob should be evicted")
}

func TestEvictionNoopUnderBudget(t *testing.T) {
	c := newTestClient(t, 1<<30)
	writeBlob(t, c, "sha256:aaa", 8)

	require.NoError(t, c.evictUntilWithinBudget())

	_, err := os.Stat(c.blobPath("sha256:aaa"))
	assert.NoError(t, err)
}

func TestCredentialStoreSetAndResolve(t *testing.T) {
	dir := t.TempDir()
	cs, err := NewCredentialStore(filepath.Join(dir, "credentials.json"))
	require.NoError(t, err)
	defer cs.Close()

	require.NoError(t, cs.Set("registry.example.com", hostCredential{Username: "u", Password: "p"}))

	auth := cs.Authenticator("registry.example.com")
	cfg, err := auth.Authorization()
	require.NoError(t, err)
	assert.Equal(t, "u", cfg.Username)
	assert.Equal(t, "p", cfg.Password)
}

func TestCredentialStoreFallsBackToAnonymous(t *testing.T) {
	dir := t.TempDir()
	cs, err := NewCredentialStore(filepath.Join(dir, "credentials.json"))
	require.NoError(t, err)
	defer cs.Close()

	auth := cs.Authenticator("unknown.example.com")
	cfg, err := auth.Authorization()
	require.NoError(t, err)
	assert.Empty(t, cfg.Username)
}
