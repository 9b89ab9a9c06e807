package registry

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	bolt "go.etcd.io/bbolt"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/metrics"
	"github.com/a3s-box/box/pkg/types"
)

// ErrImageNotFound is returned when no locally cached image matches
// the requested reference.
var ErrImageNotFound = errors.New("image not found in local cache")

func (c *Client) putImage(img *types.Image) error {
	data, err := json.Marshal(img)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "registry.save", img.Reference, err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(imagesBucket).Put([]byte(img.Reference), data)
	})
	if err != nil {
		return errs.Wrap(errs.KindExternal, "registry.save", img.Reference, err)
	}
	return nil
}

// Inspect returns the locally cached Image record for ref, or
// ErrImageNotFound if it hasn't been pulled.
func (c *Client) Inspect(ref string) (*types.Image, error) {
	var img *types.Image
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(imagesBucket).Get([]byte(ref))
		if raw == nil {
			return ErrImageNotFound
		}
		img = &types.Image{}
		return json.Unmarshal(raw, img)
	})
	if err != nil {
		if err == ErrImageNotFound {
			return nil, err
		}
		return nil, errs.Wrap(errs.KindExternal, "registry.inspect", ref, err)
	}
	return img, nil
}

// List returns every locally cached image.
func (c *Client) List() ([]*types.Image, error) {
	var out []*types.Image
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(imagesBucket).ForEach(func(_, v []byte) error {
			img := &types.Image{}
			if err := json.Unmarshal(v, img); err != nil {
				return err
			}
			out = append(out, img)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, "registry.list", "", err)
	}
	return out, nil
}

// Tag records an additional name for an already-pulled image.
func (c *Client) Tag(ref, newTag string) error {
	img, err := c.Inspect(ref)
	if err != nil {
		return err
	}
	img.Tags = append(img.Tags, newTag)
	return c.putImage(img)
}

// Remove deletes an image's record and releases its layer blob
// references; actual blob bytes are reclaimed by the next eviction
// pass once their refcount reaches zero (they may still be shared by
// another tagged image).
func (c *Client) Remove(ref string) error {
	img, err := c.Inspect(ref)
	if err != nil {
		return err
	}
	for _, l := range img.Layers {
		if err := c.Release(l.Digest); err != nil {
			c.logger.Warn().Err(err).Str("digest", l.Digest).Msg("release layer failed")
		}
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(imagesBucket).Delete([]byte(ref))
	})
	if err != nil {
		return errs.Wrap(errs.KindExternal, "registry.remove", ref, err)
	}
	return nil
}

// Prune removes every image record with no attached box and evicts
// their now-unreferenced blobs immediately, returning how many bytes
// were reclaimed.
func (c *Client) Prune(inUse map[string]bool) (int64, error) {
	images, err := c.List()
	if err != nil {
		return 0, err
	}

	before, err := c.cacheUsage()
	if err != nil {
		return 0, err
	}

	for _, img := range images {
		if inUse[img.Reference] {
			continue
		}
		if err := c.Remove(img.Reference); err != nil {
			c.logger.Warn().Err(err).Str("ref", img.Reference).Msg("prune remove failed")
			continue
		}
	}

	oldCap := c.cacheSizeCap
	c.cacheSizeCap = 0 // force a full unreferenced sweep regardless of budget
	defer func() { c.cacheSizeCap = oldCap }()
	if err := c.forceEvictUnreferenced(); err != nil {
		return 0, err
	}

	after, err := c.cacheUsage()
	if err != nil {
		return 0, err
	}
	reclaimed := before - after
	metrics.ImagesTotal.Set(float64(len(images)))
	return reclaimed, nil
}

func (c *Client) forceEvictUnreferenced() error {
	var digests []string
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).ForEach(func(k, v []byte) error {
			var entry blobCacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.RefCount == 0 {
				digests = append(digests, entry.Digest)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, d := range digests {
		if err := c.evictBlob(d); err != nil {
			c.logger.Warn().Err(err).Str("digest", d).Msg("prune evict failed")
		}
	}
	return nil
}

// Push uploads a locally-cached image to its reference's registry.
// Only previously-pulled images (or images assembled by a Dockerfile
// builder outside this package) can be pushed; the layers are read
// back from the blob cache rather than re-streamed from memory.
func (c *Client) Push(ref string) error {
	img, err := c.Inspect(ref)
	if err != nil {
		return err
	}

	reference, err := Resolve(ref)
	if err != nil {
		return err
	}

	v1Image, err := c.buildV1Image(img)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "registry.push", ref, err)
	}

	if err := remote.Write(reference, v1Image, remote.WithAuthFromKeychain(Keychain{Store: c.creds})); err != nil {
		return errs.Wrap(errs.KindExternal, "registry.push", ref, err)
	}
	return nil
}

// buildV1Image reconstructs a v1.Image from cached layer blobs and the
// stored ImageConfig so Push can hand it to remote.Write.
func (c *Client) buildV1Image(img *types.Image) (v1.Image, error) {
	base := empty.Image
	cfg, err := base.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg.Config.Entrypoint = img.Config.Entrypoint
	cfg.Config.Cmd = img.Config.Cmd
	cfg.Config.Env = img.Config.Env
	cfg.Config.WorkingDir = img.Config.WorkingDir
	cfg.Config.Labels = img.Config.Labels

	withCfg, err := mutate.ConfigFile(base, cfg)
	if err != nil {
		return nil, err
	}

	for _, l := range img.Layers {
		layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
			return os.Open(c.blobPath(l.Digest))
		})
		if err != nil {
			return nil, err
		}
		withCfg, err = mutate.AppendLayers(withCfg, layer)
		if err != nil {
			return nil, err
		}
	}
	return withCfg, nil
}
