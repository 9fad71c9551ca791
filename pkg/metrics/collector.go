package metrics

import (
	"sync"
	"time"
)

// Collector periodically samples gauges that have no natural update
// point, such as queue depth. Sources are plain funcs so the package
// stays dependency-free.
type Collector struct {
	interval    time.Duration
	queueDepth  func() int
	nodesOnline func() int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a collector; a zero interval defaults to 15s
func NewCollector(interval time.Duration, queueDepth, nodesOnline func() int) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		interval:    interval,
		queueDepth:  queueDepth,
		nodesOnline: nodesOnline,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the sampling loop
func (c *Collector) Start() {
	go c.run()
}

// Stop stops the sampling loop
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Collector) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) sample() {
	if c.queueDepth != nil {
		QueueDepth.Set(float64(c.queueDepth()))
	}
	if c.nodesOnline != nil {
		NodesOnline.Set(float64(c.nodesOnline()))
	}
}
