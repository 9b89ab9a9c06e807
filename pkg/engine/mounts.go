package engine

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/a3s-box/box/pkg/types"
)

// mountsFromConfig builds the virtio-fs tag table passed to the shim,
// reusing runtime-spec's Mount the same way
// cuemby-warren/pkg/runtime/containerd.go built its OCI bundle mount
// list, repurposed here for virtio-fs tags instead of bind mounts into
// a container bundle. Named volumes are resolved and reference-counted
// through e.volumes; anonymous volumes are created fresh on every
// start and attached the same way. It returns the names attached so
// the caller can record them on the box and detach them on stop/rm.
// If e.volumes is nil (no volume manager wired), named/anonymous
// mounts are silently skipped rather than failing the start.
func (e *Engine) mountsFromConfig(boxID string, cfg types.BoxConfig) ([]specs.Mount, []string, error) {
	mounts := make([]specs.Mount, 0, len(cfg.Mounts))
	var attached []string

	for _, m := range cfg.Mounts {
		switch m.Kind {
		case types.MountKindBind:
			mounts = append(mounts, specs.Mount{
				Source:      m.Source,
				Destination: m.Target,
				Type:        "virtiofs",
				Options:     mountOptions(m.ReadOnly),
			})
		case types.MountKindTmpfs:
			mounts = append(mounts, specs.Mount{
				Destination: m.Target,
				Type:        "tmpfs",
				Options:     mountOptions(m.ReadOnly),
			})
		case types.MountKindNamed:
			if e.volumes == nil {
				continue
			}
			path, err := e.volumes.Attach(m.VolumeName, boxID)
			if err != nil {
				return nil, attached, err
			}
			attached = append(attached, m.VolumeName)
			mounts = append(mounts, specs.Mount{
				Source:      path,
				Destination: m.Target,
				Type:        "virtiofs",
				Options:     mountOptions(m.ReadOnly),
			})
		case types.MountKindAnonymous:
			if e.volumes == nil {
				continue
			}
			v, err := e.volumes.CreateAnonymous(cfg.Labels)
			if err != nil {
				return nil, attached, err
			}
			path, err := e.volumes.Attach(v.Name, boxID)
			if err != nil {
				return nil, attached, err
			}
			attached = append(attached, v.Name)
			mounts = append(mounts, specs.Mount{
				Source:      path,
				Destination: m.Target,
				Type:        "virtiofs",
				Options:     mountOptions(m.ReadOnly),
			})
		}
	}
	return mounts, attached, nil
}

func mountOptions(readOnly bool) []string {
	if readOnly {
		return []string{"ro"}
	}
	return []string{"rw"}
}
