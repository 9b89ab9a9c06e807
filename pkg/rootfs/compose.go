package rootfs

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/log"
	"github.com/a3s-box/box/pkg/metrics"
	"github.com/a3s-box/box/pkg/types"
)

const whiteoutPrefix = ".wh."
const opaqueMarker = ".wh..wh..opq"

// BlobPathFunc resolves a layer digest to its on-disk cached blob.
type BlobPathFunc func(digest string) string

// Composer builds merged rootfs trees from cached image layers under a
// fingerprint-keyed cache directory.
type Composer struct {
	fs       afero.Fs
	cacheDir string
	blobPath BlobPathFunc
	logger   zerolog.Logger
}

// New returns a Composer that extracts blobs resolved by blobPath into
// cacheDir, using fs for all filesystem mutation.
func New(fs afero.Fs, cacheDir string, blobPath BlobPathFunc) *Composer {
	return &Composer{fs: fs, cacheDir: cacheDir, blobPath: blobPath, logger: log.WithComponent("rootfs")}
}

// Fingerprint returns the cache key for an ordered layer chain: the
// hex sha256 of the concatenated layer digests. Two images sharing a
// common base produce different fingerprints for any rootfs that
// includes a different top layer, but reuse the same cached directory
// whenever the full chain is identical.
func Fingerprint(layers []types.Layer) string {
	h := sha256.New()
	for _, l := range layers {
		h.Write([]byte(l.Digest))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Compose returns the path to a merged rootfs for the given layer
// chain, composing it from scratch only if it is not already present
// in the fingerprint cache.
func (c *Composer) Compose(layers []types.Layer) (string, error) {
	fp := Fingerprint(layers)
	target := filepath.Join(c.cacheDir, fp)

	if info, err := c.fs.Stat(target); err == nil && info.IsDir() {
		metrics.RootfsCacheHits.Inc()
		return target, nil
	}

	timer := metrics.NewTimer()
	tmp := target + ".building"
	if err := c.fs.RemoveAll(tmp); err != nil {
		return "", errs.Wrap(errs.KindExternal, "rootfs.compose", fp, err)
	}
	if err := c.fs.MkdirAll(tmp, 0o755); err != nil {
		return "", errs.Wrap(errs.KindExternal, "rootfs.compose", fp, err)
	}

	for _, layer := range layers {
		if err := c.applyLayer(layer, tmp); err != nil {
			c.fs.RemoveAll(tmp)
			return "", err
		}
	}

	if err := c.fs.Rename(tmp, target); err != nil {
		c.fs.RemoveAll(tmp)
		return "", errs.Wrap(errs.KindExternal, "rootfs.compose", fp, err)
	}

	metrics.RootfsComposeDuration.Observe(timer.Duration().Seconds())
	return target, nil
}

// applyLayer extracts one layer's tarball into root, deleting files
// per whiteout markers and clearing directory contents per opaque
// markers, exactly as step 2 of the composition algorithm specifies.
func (c *Composer) applyLayer(layer types.Layer, root string) error {
	blobPath := c.blobPath(layer.Digest)
	f, err := os.Open(blobPath)
	if err != nil {
		return errs.Wrap(errs.KindExternal, "rootfs.applyLayer", layer.Digest, err)
	}
	defer f.Close()

	rc, err := decompressorFor(layer.MediaType, f)
	if err != nil {
		return errs.Wrap(errs.KindExternal, "rootfs.applyLayer", layer.Digest, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errs.Wrap(errs.KindIntegrity, "rootfs.applyLayer", layer.Digest, err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		base := filepath.Base(name)
		dir := filepath.Dir(name)

		if base == opaqueMarker {
			if err := c.clearDir(filepath.Join(root, dir)); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(base, whiteoutPrefix) {
			target := filepath.Join(root, dir, strings.TrimPrefix(base, whiteoutPrefix))
			if err := c.fs.RemoveAll(target); err != nil {
				return errs.Wrap(errs.KindExternal, "rootfs.whiteout", target, err)
			}
			continue
		}

		if err := c.writeEntry(root, name, hdr, tr); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composer) clearDir(dir string) error {
	entries, err := afero.ReadDir(c.fs, dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindExternal, "rootfs.opaque", dir, err)
	}
	for _, e := range entries {
		if err := c.fs.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return errs.Wrap(errs.KindExternal, "rootfs.opaque", dir, err)
		}
	}
	return nil
}

func (c *Composer) writeEntry(root, name string, hdr *tar.Header, r io.Reader) error {
	target := filepath.Join(root, name)

	switch hdr.Typeflag {
	case tar.TypeDir:
		return c.fs.MkdirAll(target, os.FileMode(hdr.Mode))
	case tar.TypeReg:
		if err := c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errs.Wrap(errs.KindExternal, "rootfs.write", target, err)
		}
		out, err := c.fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return errs.Wrap(errs.KindExternal, "rootfs.write", target, err)
		}
		defer out.Close()
		if _, err := io.Copy(out, r); err != nil {
			return errs.Wrap(errs.KindExternal, "rootfs.write", target, err)
		}
		return nil
	case tar.TypeSymlink:
		linker, ok := c.fs.(afero.Linker)
		if !ok {
			return nil // best-effort on filesystems without symlink support (e.g. MemMapFs in tests)
		}
		c.fs.RemoveAll(target)
		return linker.SymlinkIfPossible(hdr.Linkname, target)
	case tar.TypeLink:
		// Hard links inside a layer: fall back to a copy, since afero
		// has no cross-backend hardlink primitive.
		return c.copyHardlink(root, hdr.Linkname, target)
	default:
		// Device nodes, fifos: not relevant inside a microVM rootfs
		// built from an OCI image layer in practice; skip rather than
		// fail the whole composition.
		return nil
	}
}

func (c *Composer) copyHardlink(root, linkname, target string) error {
	src := filepath.Join(root, linkname)
	in, err := c.fs.Open(src)
	if err != nil {
		return errs.Wrap(errs.KindExternal, "rootfs.hardlink", target, err)
	}
	defer in.Close()
	if err := c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := c.fs.Create(target)
	if err != nil {
		return errs.Wrap(errs.KindExternal, "rootfs.hardlink", target, err)
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// zstdReadCloser adapts *zstd.Decoder (whose Close takes no error) to
// io.ReadCloser so it can stand in for a *gzip.Reader.
type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// decompressorFor picks a decompressor by media type, defaulting to
// gzip for anything not explicitly zstd-tagged since that is the
// overwhelming majority of OCI layers in the wild.
func decompressorFor(mediaType string, r io.Reader) (io.ReadCloser, error) {
	if strings.Contains(mediaType, "zstd") {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &zstdReadCloser{dec}, nil
	}
	return gzip.NewReader(r)
}
