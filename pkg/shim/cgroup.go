package shim

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/types"
)

// DefaultCgroupRoot is the standard cgroup v2 mount point.
const DefaultCgroupRoot = "/sys/fs/cgroup"

// writeCgroupLimits applies cpu.weight, cpu.max, memory.max and
// pids.max to <root>/<boxID>/<file>, each only when the matching
// ResourceSpec field is set. memory.low and memory.swap.max are not
// written; ResourceSpec has no fields for them. No cgroup library in
// the retrieval pack wraps this; it's at most four plain writes to
// files the kernel already creates, so stdlib os.WriteFile is used
// directly rather than pulling in a dependency for it.
func writeCgroupLimits(root, boxID string, r types.ResourceSpec) error {
	dir := filepath.Join(root, boxID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindExternal, "shim.cgroup", boxID, err)
	}

	writes := map[string]string{}
	if r.CPUWeight > 0 {
		writes["cpu.weight"] = fmt.Sprintf("%d", r.CPUWeight)
	}
	if r.VCPUs > 0 {
		quota := int64(r.VCPUs) * 100000
		writes["cpu.max"] = fmt.Sprintf("%d 100000", quota)
	}
	if r.MemoryBytes > 0 {
		writes["memory.max"] = fmt.Sprintf("%d", r.MemoryBytes)
	}
	if r.PidsLimit > 0 {
		writes["pids.max"] = fmt.Sprintf("%d", r.PidsLimit)
	}

	var firstErr error
	for file, value := range writes {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, []byte(value), 0o644); err != nil && firstErr == nil {
			firstErr = errs.Wrap(errs.KindExternal, "shim.cgroup."+file, boxID, err)
		}
	}
	return firstErr
}
