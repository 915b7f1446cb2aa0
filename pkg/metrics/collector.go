package metrics

import (
	"time"

	"github.com/freedm/core/pkg/pool"
)

// NamedPool pairs a pool with the name it should report metrics under.
type NamedPool struct {
	Name string
	Pool *pool.Pool
}

// Collector periodically samples the daemon's connection pools into the
// PoolSize/PoolCapacity gauges, the way the teacher's Collector polls
// its manager on a ticker.
type Collector struct {
	pools  []NamedPool
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over the given pools.
func NewCollector(pools ...NamedPool) *Collector {
	return &Collector{
		pools:  pools,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second tick.
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
	for _, np := range c.pools {
		PoolSize.WithLabelValues(np.Name).Set(float64(np.Pool.Size()))
		PoolCapacity.WithLabelValues(np.Name).Set(float64(np.Pool.Max()))
	}
}
