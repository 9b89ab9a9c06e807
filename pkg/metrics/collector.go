package metrics

import (
	"time"

	"github.com/a3s-box/box/pkg/boxstore"
	"github.com/a3s-box/box/pkg/types"
)

// Collector periodically samples the box store and publishes gauge
// metrics from it, since BoxesTotal/VolumesTotal need a point-in-time
// count rather than an incremental counter.
type Collector struct {
	store  *boxstore.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store *boxstore.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectBoxMetrics()
}

func (c *Collector) collectBoxMetrics() {
	boxes, err := c.store.List()
	if err != nil {
		return
	}

	counts := map[types.BoxState]int{
		types.BoxStateCreated: 0,
		types.BoxStateRunning: 0,
		types.BoxStatePaused:  0,
		types.BoxStateStopped: 0,
		types.BoxStateDead:    0,
	}
	for _, b := range boxes {
		counts[b.State]++
	}
	for state, count := range counts {
		BoxesTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}
