package registry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/containerd/stargz-snapshotter/estargz"
	digest "github.com/opencontainers/go-digest"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/log"
	"github.com/a3s-box/box/pkg/metrics"
	"github.com/a3s-box/box/pkg/types"
)

// Resolve parses and normalizes an image reference (applying the
// default registry/tag the same way `docker pull` does) without
// touching the network.
func Resolve(ref string) (name.Reference, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return nil, errs.Wrap(errs.KindUser, "registry.resolve", ref, err)
	}
	return r, nil
}

// Pull fetches ref's manifest and every layer it does not already
// have cached, verifying each layer's digest as it streams to disk.
// Concurrent Pull calls for the same digest coalesce onto a single
// network fetch. broker may be nil.
func (c *Client) Pull(ref string, broker *events.Broker) (*types.Image, error) {
	reference, err := Resolve(ref)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	publish(broker, events.EventImagePullStarted, ref)

	img, err := remote.Image(reference,
		remote.WithAuthFromKeychain(Keychain{Store: c.creds}),
		remote.WithPlatform(v1.Platform{OS: runtime.GOOS, Architecture: runtime.GOARCH}),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, "registry.pull", ref, err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, "registry.pull", ref, err)
	}
	digestStr := manifest.Config.Digest.String()

	configFile, err := img.ConfigFile()
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, "registry.pull", ref, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, "registry.pull", ref, err)
	}

	sem := make(chan struct{}, c.pullConcurrency)
	errCh := make(chan error, len(layers))
	resultLayers := make([]types.Layer, len(layers))

	for i, layer := range layers {
		i, layer := i, layer
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			l, err := c.fetchLayer(layer, broker, ref)
			if err != nil {
				errCh <- err
				return
			}
			resultLayers[i] = l
			errCh <- nil
		}()
	}
	for range layers {
		if err := <-errCh; err != nil {
			return nil, err
		}
	}

	var totalSize int64
	for _, l := range resultLayers {
		totalSize += l.Size
	}

	image := &types.Image{
		Reference: ref,
		Digest:    digestStr,
		Layers:    resultLayers,
		Config:    imageConfigFrom(configFile),
		Size:      totalSize,
		PulledAt:  time.Now(),
	}
	if tagged, ok := reference.(name.Tag); ok {
		image.Tags = []string{tagged.TagStr()}
	}

	if err := c.putImage(image); err != nil {
		return nil, err
	}
	if err := c.evictUntilWithinBudget(); err != nil {
		c.logger.Warn().Err(err).Msg("cache eviction pass failed")
	}

	metrics.ImagePullDuration.Observe(timer.Duration().Seconds())
	log.WithImage(image).Info().Int("layers", len(image.Layers)).Int64("size", image.Size).Msg("image pulled")
	publish(broker, events.EventImagePullCompleted, ref)
	return image, nil
}

// fetchLayer downloads one layer, coalescing concurrent requests for
// the same digest and skipping the network entirely when the blob is
// already cached.
func (c *Client) fetchLayer(layer v1.Layer, broker *events.Broker, ref string) (types.Layer, error) {
	dgst, err := layer.Digest()
	if err != nil {
		return types.Layer{}, errs.Wrap(errs.KindExternal, "registry.pull.layer", ref, err)
	}
	digestStr := dgst.String()
	mediaType, err := layer.MediaType()
	if err != nil {
		return types.Layer{}, errs.Wrap(errs.KindExternal, "registry.pull.layer", ref, err)
	}

	path := c.blobPath(digestStr)
	if _, err := os.Stat(path); err == nil {
		size, _ := layer.Size()
		c.recordBlob(digestStr, size)
		return types.Layer{Digest: digestStr, Size: size, MediaType: string(mediaType)}, nil
	}

	c.mu.Lock()
	if inflight, ok := c.inflight[digestStr]; ok {
		c.mu.Unlock()
		metrics.ImagePullsCoalesced.Inc()
		inflight.wg.Wait()
		if inflight.err != nil {
			return types.Layer{}, inflight.err
		}
		size, _ := layer.Size()
		return types.Layer{Digest: digestStr, Size: size, MediaType: string(mediaType)}, nil
	}
	inflight := &inflightPull{}
	inflight.wg.Add(1)
	c.inflight[digestStr] = inflight
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, digestStr)
		c.mu.Unlock()
		inflight.wg.Done()
	}()

	size, err := c.downloadLayer(layer, path, digestStr)
	if err != nil {
		inflight.err = err
		return types.Layer{}, err
	}

	c.recordBlob(digestStr, size)
	publishLayerProgress(broker, ref, digestStr, string(mediaType), size)

	return types.Layer{Digest: digestStr, Size: size, MediaType: string(mediaType)}, nil
}

// downloadLayer streams layer to a temp file, verifying its digest as
// it copies, then renames it into place so no dangling partial blob
// is ever visible at its final path.
func (c *Client) downloadLayer(layer v1.Layer, finalPath, wantDigest string) (int64, error) {
	rc, err := layer.Compressed()
	if err != nil {
		return 0, errs.Wrap(errs.KindExternal, "registry.pull.layer", wantDigest, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return 0, errs.Wrap(errs.KindExternal, "registry.pull.layer", wantDigest, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), "blob-*.tmp")
	if err != nil {
		return 0, errs.Wrap(errs.KindExternal, "registry.pull.layer", wantDigest, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	verifier := digest.Canonical.Digester()
	n, err := io.Copy(io.MultiWriter(tmp, verifier.Hash()), rc)
	if err != nil {
		tmp.Close()
		return 0, errs.Wrap(errs.KindExternal, "registry.pull.layer", wantDigest, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, errs.Wrap(errs.KindExternal, "registry.pull.layer", wantDigest, err)
	}

	if verifier.Digest().String() != wantDigest {
		return 0, errs.New(errs.KindIntegrity, "registry.pull.layer", wantDigest,
			fmt.Errorf("digest mismatch: got %s", verifier.Digest().String()))
	}

	if err := os.Rename(tmpName, finalPath); err != nil {
		return 0, errs.Wrap(errs.KindExternal, "registry.pull.layer", wantDigest, err)
	}
	return n, nil
}

// estargzTOC reads an eStargz layer's table of contents from its
// cached blob, enabling the rootfs composer to do on-demand per-file
// reads instead of a full upfront extraction.
func (c *Client) estargzTOC(digestStr string) (*estargz.TOC, error) {
	f, err := os.Open(c.blobPath(digestStr))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	sr := io.NewSectionReader(f, 0, fi.Size())
	r, err := estargz.Open(sr)
	if err != nil {
		return nil, err
	}
	toc, _, err := r.TOC()
	return toc, err
}

func imageConfigFrom(cf *v1.ConfigFile) types.ImageConfig {
	cfg := types.ImageConfig{
		Entrypoint: cf.Config.Entrypoint,
		Cmd:        cf.Config.Cmd,
		Env:        cf.Config.Env,
		WorkingDir: cf.Config.WorkingDir,
		Labels:     cf.Config.Labels,
	}
	if cf.Config.StopSignal != "" {
		cfg.StopSignal = cf.Config.StopSignal
	}
	if len(cf.Config.Volumes) > 0 {
		cfg.Volumes = make(map[string]struct{}, len(cf.Config.Volumes))
		for k := range cf.Config.Volumes {
			cfg.Volumes[k] = struct{}{}
		}
	}
	if len(cf.Config.ExposedPorts) > 0 {
		cfg.ExposedPorts = make(map[string]struct{}, len(cf.Config.ExposedPorts))
		for k := range cf.Config.ExposedPorts {
			cfg.ExposedPorts[k] = struct{}{}
		}
	}
	return cfg
}

func publish(broker *events.Broker, t events.EventType, ref string) {
	if broker == nil {
		return
	}
	broker.Publish(&events.Event{Type: t, Message: ref})
}

// publishLayerProgress fires EventImageLayerProgress with each layer's
// digest/media type/size in Metadata, so a subscriber tracking pull
// progress (a CLI progress bar, a metrics exporter) doesn't have to
// fetch the image manifest itself just to know how big a layer was.
func publishLayerProgress(broker *events.Broker, ref, digest, mediaType string, size int64) {
	if broker == nil {
		return
	}
	broker.Publish(&events.Event{
		Type:    events.EventImageLayerProgress,
		Message: ref,
		Metadata: map[string]string{
			"digest":     digest,
			"media_type": mediaType,
			"size":       strconv.FormatInt(size, 10),
		},
	})
}
