/*
Package metrics provides Prometheus metrics collection and exposition
for a3s box.

Metrics are registered in init(); Handler returns a promhttp.Handler
for them. Collector samples pkg/boxstore on a fixed interval for
gauges that need a point-in-time count (boxes by state). Counters and
histograms (pull duration, restart count, start/stop duration) are
updated directly at the call site in pkg/registry and pkg/engine;
ShimCrashes is registered but no code increments it.

health.go additionally provides /health, /ready and /live JSON
handlers built around a small in-memory component registry
(RegisterComponent/UpdateComponent), independent of the Prometheus
registry above.

cmd/boxd mounts none of these handlers on a listener and does not
start a Collector.
*/
package metrics
