package volume

import (
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/types"
)

// Driver creates, removes, and resolves the host-side storage backing
// one volume. LocalDriver is the only implementation; the interface
// exists so Manager can be handed a different backend (e.g. a network
// filesystem) without changing its reference-counting logic.
type Driver interface {
	Create(v *types.Volume) error
	Delete(v *types.Volume) error
	Path(v *types.Volume) string
}

// LocalDriver stores each volume's data under
// <basePath>/<name>/_data, matching spec.md §4.7's on-disk layout.
type LocalDriver struct {
	fs       afero.Fs
	basePath string
}

// NewLocalDriver returns a LocalDriver rooted at basePath.
func NewLocalDriver(fs afero.Fs, basePath string) *LocalDriver {
	return &LocalDriver{fs: fs, basePath: basePath}
}

// Create makes the volume's data directory.
func (d *LocalDriver) Create(v *types.Volume) error {
	path := d.Path(v)
	if err := d.fs.MkdirAll(path, 0o755); err != nil {
		return errs.Wrap(errs.KindExternal, "volume.create", v.Name, err)
	}
	return nil
}

// Delete removes the volume's data directory and everything under it.
func (d *LocalDriver) Delete(v *types.Volume) error {
	dir := filepath.Join(d.basePath, v.Name)
	if err := d.fs.RemoveAll(dir); err != nil {
		return errs.Wrap(errs.KindExternal, "volume.delete", v.Name, err)
	}
	return nil
}

// Path returns the host directory a virtio-fs tag for this volume
// should point at.
func (d *LocalDriver) Path(v *types.Volume) string {
	return filepath.Join(d.basePath, v.Name, "_data")
}
