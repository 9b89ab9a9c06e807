package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Box lifecycle metrics
	BoxesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "a3sbox_boxes_total",
			Help: "Total number of boxes by state",
		},
		[]string{"state"},
	)

	BoxesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a3sbox_boxes_started_total",
			Help: "Total number of boxes started",
		},
	)

	BoxesRestarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a3sbox_boxes_restarted_total",
			Help: "Total number of box restarts by restart policy reason",
		},
		[]string{"reason"},
	)

	BoxStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "a3sbox_box_start_duration_seconds",
			Help:    "Time from start request to running for a box, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BoxStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "a3sbox_box_stop_duration_seconds",
			Help:    "Time taken to stop a box, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Image/registry metrics
	ImagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "a3sbox_images_total",
			Help: "Total number of cached images",
		},
	)

	ImagePullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "a3sbox_image_pull_duration_seconds",
			Help:    "Time taken to pull an image, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ImagePullsCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a3sbox_image_pulls_coalesced_total",
			Help: "Total number of concurrent pulls that joined an in-flight pull instead of starting a new one",
		},
	)

	LayerCacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "a3sbox_layer_cache_bytes",
			Help: "Total bytes held in the layer blob cache",
		},
	)

	LayerCacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a3sbox_layer_cache_evictions_total",
			Help: "Total number of blobs evicted from the layer cache",
		},
	)

	// Rootfs composer metrics
	RootfsComposeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "a3sbox_rootfs_compose_duration_seconds",
			Help:    "Time taken to compose a rootfs from image layers, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RootfsCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a3sbox_rootfs_cache_hits_total",
			Help: "Total number of rootfs compositions served from the fingerprint cache",
		},
	)

	// Shim / VM supervisor metrics
	ShimReadyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "a3sbox_shim_ready_duration_seconds",
			Help:    "Time from shim spawn to guest-ready signal, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ShimCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a3sbox_shim_crashes_total",
			Help: "Total number of shim processes that exited unexpectedly",
		},
	)

	// Health check metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a3sbox_health_checks_total",
			Help: "Total number of health checks run, by result",
		},
		[]string{"result"},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "a3sbox_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a3sbox_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// Network metrics
	NetworkIPsAllocated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "a3sbox_network_ips_allocated",
			Help: "Total number of IP addresses currently allocated",
		},
	)

	// Volume metrics
	VolumesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "a3sbox_volumes_total",
			Help: "Total number of volumes",
		},
	)

	// TEE metrics
	AttestationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a3sbox_attestations_total",
			Help: "Total number of attestation verifications by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(BoxesTotal)
	prometheus.MustRegister(BoxesStarted)
	prometheus.MustRegister(BoxesRestarted)
	prometheus.MustRegister(BoxStartDuration)
	prometheus.MustRegister(BoxStopDuration)

	prometheus.MustRegister(ImagesTotal)
	prometheus.MustRegister(ImagePullDuration)
	prometheus.MustRegister(ImagePullsCoalesced)
	prometheus.MustRegister(LayerCacheBytes)
	prometheus.MustRegister(LayerCacheEvictions)

	prometheus.MustRegister(RootfsComposeDuration)
	prometheus.MustRegister(RootfsCacheHits)

	prometheus.MustRegister(ShimReadyDuration)
	prometheus.MustRegister(ShimCrashes)

	prometheus.MustRegister(HealthChecksTotal)

	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)

	prometheus.MustRegister(NetworkIPsAllocated)
	prometheus.MustRegister(VolumesTotal)

	prometheus.MustRegister(AttestationsTotal)
}

// Handler returns the Prometheus HTTP handler for the debug listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
