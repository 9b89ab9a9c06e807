package engine

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/metrics"
	"github.com/a3s-box/box/pkg/transport"
	"github.com/a3s-box/box/pkg/types"
)

// HealthRunner executes one box's configured health check and reports
// whether it succeeded. Engine.New defaults this to transportExecRunner,
// which runs the command in the guest over the box's exec control
// channel per spec.md §4.5 ("executed in the guest through the exec
// channel"); localExecRunner instead runs it as a host subprocess and
// is used only under A3S_DEPS_STUB, where there is no guest to dial
// into, grounded on cuemby-warren/pkg/health/exec.go's ExecChecker
// "run on host for testing" branch.
type HealthRunner interface {
	Run(ctx context.Context, boxID string, command []string, timeout time.Duration) (healthy bool, output string)
}

type localExecRunner struct{}

func (localExecRunner) Run(ctx context.Context, boxID string, command []string, timeout time.Duration) (bool, string) {
	if len(command) == 0 {
		return false, "no command specified"
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, command[0], command[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > 256 {
		output = output[:256] + "..."
	}
	return err == nil, output
}

// transportExecRunner dispatches the health-check command over a
// box's exec channel via pkg/transport.RunExec. dialerFor resolves
// the transport.Dialer for a running box (Engine.dialerForBox, which
// looks up the box's guest CID from its live shim.Supervisor); it
// reports ok=false while the box has no supervisor yet, e.g. between
// Dead and the next restart attempt.
type transportExecRunner struct {
	dialerFor func(boxID string) (transport.Dialer, bool)
}

func (r transportExecRunner) Run(ctx context.Context, boxID string, command []string, timeout time.Duration) (bool, string) {
	dialer, ok := r.dialerFor(boxID)
	if !ok {
		return false, "no control channel for box"
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := transport.RunExec(execCtx, dialer, transport.ExecRequest{
		Cmd:       command,
		TimeoutNS: int64(timeout),
	})
	if err != nil {
		return false, err.Error()
	}

	output := out.Stdout + out.Stderr
	if len(output) > 256 {
		output = output[:256] + "..."
	}
	return out.ExitCode == 0, output
}

// runHealthLoop ticks at e.healthInterval, running one configured
// health check per running box per tick.
func (e *Engine) runHealthLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.healthTick()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) healthTick() {
	records, err := e.store.List()
	if err != nil {
		e.logger.Error().Err(err).Msg("health tick: list failed")
		return
	}

	for _, r := range records {
		if r.State != types.BoxStateRunning {
			continue
		}
		hc := r.Config.HealthCheck
		if hc == nil || hc.Type != types.HealthCheckTypeExec {
			continue
		}
		if hc.StartPeriod > 0 && time.Since(r.StartedAt) < hc.StartPeriod {
			continue
		}
		e.runHealthCheck(r.ID, *hc)
	}
}

func (e *Engine) runHealthCheck(boxID string, hc types.HealthCheck) {
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	healthy, output := e.healthRunner.Run(context.Background(), boxID, hc.Command, timeout)
	if healthy {
		metrics.HealthChecksTotal.WithLabelValues("pass").Inc()
	} else {
		metrics.HealthChecksTotal.WithLabelValues("fail").Inc()
	}

	var becameHealthy, becameUnhealthy bool
	err := e.store.Update(boxID, func(r *types.BoxRecord) error {
		wasHealthy := r.Health.Status == types.HealthStatusHealthy
		updateHealthStatus(&r.Health, healthy, output, hc.Retries)
		becameHealthy = !wasHealthy && r.Health.Status == types.HealthStatusHealthy
		becameUnhealthy = wasHealthy && r.Health.Status == types.HealthStatusUnhealthy
		return nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("box_id", boxID).Msg("health check: failed to persist result")
		return
	}

	if becameHealthy {
		e.publish(events.EventHealthBecameHealthy, boxID)
	}
	if becameUnhealthy {
		e.publish(events.EventHealthBecameUnhealthy, boxID)
	}
}

// updateHealthStatus applies one check result to status, following
// cuemby-warren/pkg/health/health.go's Status.Update accumulator
// exactly: consecutive counters reset on any sign change, and the
// unhealthy verdict only lands once ConsecutiveFailures reaches
// retries.
func updateHealthStatus(status *types.HealthStatus, healthy bool, output string, retries int) {
	status.LastCheck = time.Now()
	status.LastOutput = output

	if retries <= 0 {
		retries = 1
	}

	if healthy {
		status.ConsecutiveSuccesses++
		status.ConsecutiveFailures = 0
		status.Status = types.HealthStatusHealthy
		return
	}

	status.ConsecutiveFailures++
	status.ConsecutiveSuccesses = 0
	if status.ConsecutiveFailures >= retries {
		status.Status = types.HealthStatusUnhealthy
	}
}
