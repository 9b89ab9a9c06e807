/*
Package engine drives a box through its lifecycle state machine
(Created -> Running -> Paused -> Stopped -> Dead), owning the
restart-policy daemon and health-check loop above pkg/boxstore,
pkg/registry, pkg/rootfs, and pkg/shim.

Transitions for a given box are serialized by a per-box mutex so two
concurrent operations against the same box (a user-issued Stop racing
a crash-triggered restart) never interleave; this mirrors the
reconciler/worker goroutine-per-concern split cuemby-warren uses,
adapted so the unit of serialization is a box rather than the whole
cluster state.

The restart-policy daemon and the health-check loop are both
ticker-driven background goroutines grounded on
cuemby-warren/pkg/reconciler/reconciler.go's run()/ticker/select shape;
health-state accumulation (consecutive failures/successes, the
Retries threshold, the StartPeriod grace window) follows
cuemby-warren/pkg/health/health.go's Status.Update logic exactly,
generalized from "container health" to "box health".
*/
package engine
