package engine

import (
	"context"
	"math"
	"time"

	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/log"
	"github.com/a3s-box/box/pkg/metrics"
	"github.com/a3s-box/box/pkg/types"
)

// defaultInitialBackoff, defaultMaxBackoff and defaultResetWindow are
// spec.md §4.5's restart-policy backoff constants: "exponential with
// base 100 ms, factor 2, cap 60 s, reset window 10 s of sustained
// Running before the counter resets." They apply whenever a box's
// RestartPolicy leaves the corresponding field at its zero value —
// cmd/box never requires the operator to spell out the spec's own
// defaults on every `run`.
const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 60 * time.Second
	defaultResetWindow    = 10 * time.Second
)

// runRestartLoop ticks at e.restartInterval, scanning for Dead boxes
// whose restart policy calls for another attempt and for Running boxes
// whose crash-loop counter should reset. Structure mirrors
// cuemby-warren/pkg/reconciler/reconciler.go's run(): a single
// goroutine, a ticker, and a stop channel.
func (e *Engine) runRestartLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.restartInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.restartTick()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) restartTick() {
	records, err := e.store.List()
	if err != nil {
		e.logger.Error().Err(err).Msg("restart tick: list failed")
		return
	}

	for _, r := range records {
		switch r.State {
		case types.BoxStateDead:
			if !shouldRestart(r) {
				continue
			}
			if !backoffElapsed(r) {
				continue
			}
			e.attemptRestart(r.ID)
		case types.BoxStateRunning:
			e.resetCrashLoopIfSustained(r)
		}
	}
}

// resetCrashLoopIfSustained clears RestartCount/RestartWindowStartedAt
// once a box has been continuously Running for at least its policy's
// ResetAfterHealthy (defaulting to the spec's flat 10 s reset window),
// per spec.md §4.5. Without this, a box that restarted once, ran
// healthily for hours, then crashed again for an unrelated transient
// reason would keep accumulating toward MaxRetryCount it should have
// long since reset away from.
func (e *Engine) resetCrashLoopIfSustained(r *types.BoxRecord) {
	if r.RestartCount == 0 && r.RestartWindowStartedAt.IsZero() {
		return
	}
	resetAfter := r.Config.RestartPolicy.ResetAfterHealthy
	if resetAfter <= 0 {
		resetAfter = defaultResetWindow
	}
	if r.StartedAt.IsZero() || time.Since(r.StartedAt) < resetAfter {
		return
	}

	err := e.store.Update(r.ID, func(rec *types.BoxRecord) error {
		if rec.State != types.BoxStateRunning || rec.StartedAt.IsZero() ||
			time.Since(rec.StartedAt) < resetAfter {
			return nil // raced with a restart/stop since the scan; skip this tick
		}
		rec.RestartCount = 0
		rec.RestartWindowStartedAt = time.Time{}
		return nil
	})
	if err != nil {
		log.WithBox(r).Error().Err(err).Msg("restart: failed to reset crash-loop window")
	}
}

// shouldRestart implements the restart-policy decision: "no" never
// restarts, "always"/"unless-stopped" always do (box reached Dead
// only via a crash, not a user Stop, since Stop writes Stopped
// directly), "on-failure" restarts only a non-zero exit, and every
// restarting policy, "always" included, respects MaxRetryCount once
// set.
func shouldRestart(r *types.BoxRecord) bool {
	policy := r.Config.RestartPolicy
	switch policy.Name {
	case types.RestartPolicyNo, "":
		return false
	case types.RestartPolicyOnFailure:
		if r.ExitCode == 0 {
			return false
		}
	case types.RestartPolicyAlways, types.RestartPolicyUnlessStopped:
		// always eligible
	default:
		return false
	}

	if policy.MaxRetryCount > 0 && r.RestartCount >= policy.MaxRetryCount {
		return false
	}
	return true
}

// backoffElapsed reports whether enough time has passed since the box
// died to attempt another restart, per an exponential backoff seeded
// from the policy's InitialBackoff/MaxBackoff and the box's current
// RestartCount within its current restart window.
func backoffElapsed(r *types.BoxRecord) bool {
	policy := r.Config.RestartPolicy
	initial := policy.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxBackoff := policy.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	backoff := time.Duration(float64(initial) * math.Pow(2, float64(r.RestartCount)))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Since(r.FinishedAt) >= backoff
}

func (e *Engine) attemptRestart(boxID string) {
	lock := e.lockFor(boxID)
	if !lock.TryLock() {
		return // an operation is already in flight for this box this tick
	}
	defer lock.Unlock()

	record, err := e.store.Get(boxID)
	if err != nil || record.State != types.BoxStateDead {
		return // raced with a concurrent transition; try again next tick
	}

	err = e.store.Update(boxID, func(r *types.BoxRecord) error {
		r.RestartCount++
		if r.RestartWindowStartedAt.IsZero() {
			r.RestartWindowStartedAt = time.Now()
		}
		return nil
	})
	if err != nil {
		log.WithBox(record).Error().Err(err).Msg("restart: failed to bump restart count")
		return
	}

	if err := e.startInner(context.Background(), boxID); err != nil {
		log.WithBox(record).Warn().Err(err).Msg("restart attempt failed")
		policy := record.Config.RestartPolicy
		if policy.MaxRetryCount > 0 && record.RestartCount >= policy.MaxRetryCount {
			e.publish(events.EventRestartLimitReached, boxID)
		}
		return
	}
	metrics.BoxesRestarted.WithLabelValues(string(record.Config.RestartPolicy.Name)).Inc()
}
