package registry

import (
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/a3s-box/box/pkg/metrics"
)

// blobCacheEntry is the bbolt-indexed bookkeeping record for one
// content-addressed blob on disk.
type blobCacheEntry struct {
	Digest     string    `json:"digest"`
	Size       int64     `json:"size"`
	RefCount   int       `json:"refCount"`
	LastAccess time.Time `json:"lastAccess"`
}

// recordBlob inserts or updates a blob's cache entry and bumps its
// LastAccess.
func (c *Client) recordBlob(digest string, size int64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		entry := blobCacheEntry{Digest: digest, Size: size, LastAccess: time.Now()}
		if raw := b.Get([]byte(digest)); raw != nil {
			var existing blobCacheEntry
			if err := json.Unmarshal(raw, &existing); err == nil {
				entry.RefCount = existing.RefCount
			}
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(digest), data)
	})
}

// Acquire increments a blob's reference count, protecting it from
// eviction while a box holds it live.
func (c *Client) Acquire(digest string) error {
	return c.adjustRefCount(digest, 1)
}

// Release decrements a blob's reference count.
func (c *Client) Release(digest string) error {
	return c.adjustRefCount(digest, -1)
}

func (c *Client) adjustRefCount(digest string, delta int) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		raw := b.Get([]byte(digest))
		if raw == nil {
			return nil
		}
		var entry blobCacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		entry.RefCount += delta
		if entry.RefCount < 0 {
			entry.RefCount = 0
		}
		entry.LastAccess = time.Now()
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(digest), data)
	})
}

// cacheUsage returns the total size of all indexed blobs.
func (c *Client) cacheUsage() (int64, error) {
	var total int64
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).ForEach(func(_, v []byte) error {
			var entry blobCacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			total += entry.Size
			return nil
		})
	})
	return total, err
}

// evictUntilWithinBudget evicts unreferenced blobs in least-recently-
// used order until total cache usage is below the configured budget
// (a no-op if CacheSizeCap is unset).
func (c *Client) evictUntilWithinBudget() error {
	if c.cacheSizeCap <= 0 {
		return nil
	}

	usage, err := c.cacheUsage()
	if err != nil {
		return err
	}
	if usage <= c.cacheSizeCap {
		return nil
	}

	var candidates []blobCacheEntry
	err = c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).ForEach(func(_, v []byte) error {
			var entry blobCacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.RefCount == 0 {
				candidates = append(candidates, entry)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	for _, entry := range candidates {
		if usage <= c.cacheSizeCap {
			break
		}
		if err := c.evictBlob(entry.Digest); err != nil {
			c.logger.Warn().Err(err).Str("digest", entry.Digest).Msg("evict blob failed")
			continue
		}
		usage -= entry.Size
		metrics.LayerCacheEvictions.Inc()
	}
	metrics.LayerCacheBytes.Set(float64(usage))
	return nil
}

func (c *Client) evictBlob(digest string) error {
	if err := removeFile(c.blobPath(digest)); err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Delete([]byte(digest))
	})
}
