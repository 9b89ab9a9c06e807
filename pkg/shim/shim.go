package shim

import (
	"context"
	"fmt"
	"sync"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/log"
	"github.com/a3s-box/box/pkg/types"
)

// InstanceSpec is the translation of a BoxConfig into the parameters a
// hypervisor needs to boot a guest.
type InstanceSpec struct {
	BoxID       string
	VCPUs       int
	MemoryBytes int64
	KernelArgs  []string
	RootfsPath  string
	VsockCID    uint32
	Mounts      []specs.Mount
	TEE         *types.TEEConfig
	Command     []string
	Env         []string
	StopSignal  string
	StopTimeout time.Duration
}

// ResourceReport is the periodic usage snapshot a Hypervisor exposes
// to its supervisor.
type ResourceReport struct {
	PID        int
	RSSBytes   int64
	CPUPercent float64
}

// Hypervisor is the interface the real shim binary implements against
// a native VMM library (libkrun, KVM, HVF). This package ships only
// simHypervisor; a production build would provide a different
// implementation behind the same interface without touching
// Supervisor.
type Hypervisor interface {
	Boot(ctx context.Context, spec InstanceSpec) error
	Pause() error
	Resume() error
	Shutdown(signal string) error
	Kill() error
	Wait() (int, error)
	Pid() int
	ResourceReport() (ResourceReport, error)
}

// Supervisor owns one box's Hypervisor handle and drives it through
// boot, the ready signal, graceful shutdown, and failure reporting.
// Its process-isolation role mirrors the child-process argument
// spec.md makes for keeping the hypervisor call out of the parent.
type Supervisor struct {
	boxID    string
	hv       Hypervisor
	log      zerolog.Logger
	vsockCID uint32

	mu       sync.Mutex
	ready    chan struct{}
	exited   chan struct{}
	exitCode int
	exitErr  error
}

// New returns a Supervisor driving hv for boxID.
func New(boxID string, hv Hypervisor) *Supervisor {
	return &Supervisor{
		boxID:  boxID,
		hv:     hv,
		log:    log.WithBoxID(boxID),
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Start boots the guest, applies cgroup v2 limits, and signals Ready
// once boot completes. It returns once the guest has booted (not once
// it exits); call Wait or select on Exited to observe termination.
func (s *Supervisor) Start(ctx context.Context, spec InstanceSpec, cgroupRoot string) error {
	s.vsockCID = spec.VsockCID

	if err := writeCgroupLimits(cgroupRoot, spec.BoxID, resourceSpecFromInstance(spec)); err != nil {
		s.log.Warn().Err(err).Msg("cgroup limits not applied")
	}

	if err := s.hv.Boot(ctx, spec); err != nil {
		return errs.Wrap(errs.KindExternal, "shim.start", spec.BoxID, err)
	}

	close(s.ready)

	go func() {
		code, err := s.hv.Wait()
		s.mu.Lock()
		s.exitCode = code
		s.exitErr = err
		s.mu.Unlock()
		close(s.exited)
	}()

	return nil
}

// Ready is closed once the guest has booted; a supervisor emits a
// single "ready" signal to its parent at this point.
func (s *Supervisor) Ready() <-chan struct{} { return s.ready }

// Exited is closed once the hypervisor process has terminated.
func (s *Supervisor) Exited() <-chan struct{} { return s.exited }

// ExitResult returns the exit code and error recorded when Exited
// closed. Calling it before Exited closes returns zero values.
func (s *Supervisor) ExitResult() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.exitErr
}

// Stop delivers the guest's configured stop signal and waits up to
// timeout for a clean exit before force-killing the hypervisor,
// mirroring cuemby-warren's StopContainer SIGTERM/wait/SIGKILL
// sequencing.
func (s *Supervisor) Stop(ctx context.Context, signal string, timeout time.Duration) error {
	if err := s.hv.Shutdown(signal); err != nil {
		return errs.Wrap(errs.KindExternal, "shim.stop", s.boxID, err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-s.exited:
		return nil
	case <-stopCtx.Done():
		if err := s.hv.Kill(); err != nil {
			return errs.Wrap(errs.KindExternal, "shim.stop.kill", s.boxID, err)
		}
		<-s.exited
		return nil
	}
}

// Pause and Resume deliver SIGSTOP/SIGCONT-equivalent pause semantics
// to the guest via the Hypervisor.
func (s *Supervisor) Pause() error  { return s.hv.Pause() }
func (s *Supervisor) Resume() error { return s.hv.Resume() }

// Pid returns the hypervisor subprocess PID, or 0 if not yet booted.
func (s *Supervisor) Pid() int { return s.hv.Pid() }

// VsockCID returns the guest CID the control-plane transport dials to
// reach this box's exec/PTY/attestation channels. Zero before Start
// has run.
func (s *Supervisor) VsockCID() uint32 { return s.vsockCID }

// ResourceReport returns the current usage snapshot.
func (s *Supervisor) ResourceReport() (ResourceReport, error) {
	return s.hv.ResourceReport()
}

func resourceSpecFromInstance(spec InstanceSpec) types.ResourceSpec {
	return types.ResourceSpec{
		VCPUs:       spec.VCPUs,
		MemoryBytes: spec.MemoryBytes,
	}
}

// TranslateInstanceSpec builds an InstanceSpec from a box's
// configuration, rootfs path, and allocated vsock CID, attaching the
// virtio-fs mount table built from its volume/bind mounts.
func TranslateInstanceSpec(boxID string, cfg types.BoxConfig, rootfsPath string, vsockCID uint32, mounts []specs.Mount) InstanceSpec {
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}

	return InstanceSpec{
		BoxID:       boxID,
		VCPUs:       cfg.Resources.VCPUs,
		MemoryBytes: cfg.Resources.MemoryBytes,
		KernelArgs:  defaultKernelArgs(cfg),
		RootfsPath:  rootfsPath,
		VsockCID:    vsockCID,
		Mounts:      mounts,
		TEE:         cfg.TEE,
		Command:     cfg.Command,
		Env:         envSlice(cfg.Env),
		StopSignal:  "SIGTERM",
		StopTimeout: stopTimeout,
	}
}

func defaultKernelArgs(cfg types.BoxConfig) []string {
	args := []string{"console=ttyS0", "root=/dev/vda", "rootfstype=virtiofs"}
	if cfg.ReadOnlyRoot {
		args = append(args, "ro")
	} else {
		args = append(args, "rw")
	}
	return args
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
