/*
Package shim models the per-box supervisor subprocess that owns the
hypervisor handle. Isolating that handle in a child process means a
hypervisor library abort takes down one shim, not the control-plane
process — the argument spec.md makes explicit for keeping the
hypervisor call out of the parent.

The real shim binary's hypervisor call is a Non-goal here; this
package defines the Hypervisor interface such a binary would implement
and ships simHypervisor, a real child process (driven by os/exec) that
models boot time, pause/resume via SIGSTOP/SIGCONT, and a resource
report pipe, so the supervision logic above it — translate spec,
signal sequencing, cgroup limits, ready-signal, orphan adoption — runs
against real process-group semantics instead of a mock.

Grounded on cuemby-warren/pkg/runtime/containerd.go's StopContainer
(graceful SIGTERM, wait, force SIGKILL on timeout) and its mount-list
construction using opencontainers/runtime-spec's specs-go.Mount type,
repurposed here as the virtio-fs tag table.
*/
package shim
