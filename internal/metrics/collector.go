package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/mudgate/internal/clock"
	"grimm.is/mudgate/internal/logging"
)

// RuleCounter reports how many rules a chain currently holds.
type RuleCounter interface {
	Loaded(ctx context.Context, chain string) (int, error)
}

// ChainTarget names a chain to poll and the device it belongs to.
type ChainTarget struct {
	Device string
	Chain  string
}

// Collector periodically polls the kernel for loaded rule counts.
type Collector struct {
	registry *Registry
	counter  RuleCounter
	logger   *logging.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu         sync.RWMutex
	targets    []ChainTarget
	lastUpdate time.Time
	loaded     map[string]int
}

// NewCollector creates a collector that polls every interval.
func NewCollector(registry *Registry, counter RuleCounter, logger *logging.Logger, interval time.Duration) *Collector {
	if logger == nil {
		logger = logging.WithComponent("metrics")
	}
	return &Collector{
		registry: registry,
		counter:  counter,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		loaded:   make(map[string]int),
	}
}

// SetTargets replaces the set of chains to poll.
func (c *Collector) SetTargets(targets []ChainTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append([]ChainTarget(nil), targets...)
}

// Start runs the collection loop until Stop is called.
func (c *Collector) Start() {
	c.logger.Info("Starting metrics collector", "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			c.logger.Info("Stopping metrics collector")
			return
		}
	}
}

// Stop stops the collection loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect polls every target once.
func (c *Collector) Collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, target := range c.targets {
		n, err := c.counter.Loaded(ctx, target.Chain)
		if err != nil {
			// Absent chains are reported as zero.
			c.logger.Debug("Failed to count loaded rules", "chain", target.Chain, "error", err)
			n = 0
		}
		c.loaded[target.Chain] = n
		c.registry.LoadedRules.WithLabelValues(target.Device, target.Chain).Set(float64(n))
	}
	c.lastUpdate = clock.Now()
}

// GetLoaded returns the last observed rule count for a chain.
func (c *Collector) GetLoaded(chain string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.loaded[chain]
	return n, ok
}

// GetLastUpdate returns when the collector last ran.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
