package shim

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/a3s-box/box/pkg/errs"
)

// simHypervisor models a hypervisor with a real child process instead
// of the native libkrun/KVM/HVF call this spec names a Non-goal. Boot
// spawns a long-lived, signal-responsive subprocess so Pause/Resume/
// Shutdown exercise real process-group semantics; FailBoot lets tests
// inject a boot failure without touching the process model.
type simHypervisor struct {
	bootDelay time.Duration
	failBoot  func() error

	mu   sync.Mutex
	cmd  *exec.Cmd
}

// NewSimHypervisor returns a Hypervisor usable when A3S_DEPS_STUB=1,
// or in tests that want real signal delivery without a real VMM.
func NewSimHypervisor(bootDelay time.Duration, failBoot func() error) Hypervisor {
	return &simHypervisor{bootDelay: bootDelay, failBoot: failBoot}
}

func (h *simHypervisor) Boot(ctx context.Context, spec InstanceSpec) error {
	if h.failBoot != nil {
		if err := h.failBoot(); err != nil {
			return err
		}
	}
	if h.bootDelay > 0 {
		select {
		case <-time.After(h.bootDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Not tied to ctx: the subprocess must outlive the Boot call itself,
	// only Shutdown/Kill should end it.
	cmd := exec.Command("sh", "-c", "trap 'exit 0' TERM; while :; do sleep 1; done")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return errs.Wrap(errs.KindExternal, "shim.sim.boot", spec.BoxID, err)
	}

	h.mu.Lock()
	h.cmd = cmd
	h.mu.Unlock()
	return nil
}

func (h *simHypervisor) Pause() error {
	return h.signal(syscall.SIGSTOP)
}

func (h *simHypervisor) Resume() error {
	return h.signal(syscall.SIGCONT)
}

func (h *simHypervisor) Shutdown(signal string) error {
	sig := syscall.SIGTERM
	if signal == "SIGKILL" {
		sig = syscall.SIGKILL
	}
	return h.signal(sig)
}

func (h *simHypervisor) Kill() error {
	return h.signal(syscall.SIGKILL)
}

func (h *simHypervisor) signal(sig syscall.Signal) error {
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errs.New(errs.KindPrecondition, "shim.sim.signal", "", fmt.Errorf("not booted"))
	}
	if err := cmd.Process.Signal(sig); err != nil {
		return errs.Wrap(errs.KindExternal, "shim.sim.signal", "", err)
	}
	return nil
}

func (h *simHypervisor) Wait() (int, error) {
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()
	if cmd == nil {
		return 0, errs.New(errs.KindPrecondition, "shim.sim.wait", "", fmt.Errorf("not booted"))
	}
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (h *simHypervisor) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *simHypervisor) ResourceReport() (ResourceReport, error) {
	pid := h.Pid()
	if pid == 0 {
		return ResourceReport{}, errs.New(errs.KindPrecondition, "shim.sim.resources", "", fmt.Errorf("not booted"))
	}
	rss, err := readRSS(pid)
	if err != nil {
		return ResourceReport{PID: pid}, nil
	}
	return ResourceReport{PID: pid, RSSBytes: rss}, nil
}

// readRSS parses VmRSS out of /proc/<pid>/status; on platforms without
// /proc (non-Linux) it returns an error and callers degrade to a
// PID-only report rather than failing outright.
func readRSS(pid int) (int64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed VmRSS line")
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("VmRSS not found")
}
