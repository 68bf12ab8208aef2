package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeStats is a snapshot of the process's Go runtime
type RuntimeStats struct {
	Goroutines  int64         `json:"goroutines"`
	HeapAlloc   uint64        `json:"heap_alloc_bytes"`
	TotalAlloc  uint64        `json:"total_alloc_bytes"`
	Sys         uint64        `json:"sys_bytes"`
	GCCount     uint32        `json:"gc_count"`
	LastGCPause time.Duration `json:"last_gc_pause_ns"`
	CPUCount    int           `json:"cpu_count"`
	Uptime      time.Duration `json:"uptime_ns"`
	CollectedAt time.Time     `json:"collected_at"`
}

// RuntimeCollector samples runtime statistics and exports them as gauges.
type RuntimeCollector struct {
	startTime time.Time
	interval  time.Duration

	goroutines metric.Int64Gauge
	heapAlloc  metric.Int64Gauge
	sys        metric.Int64Gauge
	uptime     metric.Float64Gauge

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRuntimeCollector registers the runtime gauges on meter.
func NewRuntimeCollector(meter metric.Meter, interval time.Duration) (*RuntimeCollector, error) {
	c := &RuntimeCollector{
		startTime: time.Now(),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
	var err error
	if c.goroutines, err = meter.Int64Gauge("system_goroutines",
		metric.WithDescription("Number of active goroutines")); err != nil {
		return nil, fmt.Errorf("failed to create goroutine gauge: %w", err)
	}
	if c.heapAlloc, err = meter.Int64Gauge("system_memory_usage_bytes",
		metric.WithDescription("Heap bytes in use"), metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create heap gauge: %w", err)
	}
	if c.sys, err = meter.Int64Gauge("system_memory_system_bytes",
		metric.WithDescription("Bytes obtained from the OS"), metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create sys gauge: %w", err)
	}
	if c.uptime, err = meter.Float64Gauge("system_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create uptime gauge: %w", err)
	}
	return c, nil
}

// Collect samples the runtime and records the gauges.
func (c *RuntimeCollector) Collect(ctx context.Context) RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := RuntimeStats{
		Goroutines:  int64(runtime.NumGoroutine()),
		HeapAlloc:   ms.HeapAlloc,
		TotalAlloc:  ms.TotalAlloc,
		Sys:         ms.Sys,
		GCCount:     ms.NumGC,
		LastGCPause: time.Duration(ms.PauseNs[(ms.NumGC+255)%256]),
		CPUCount:    runtime.NumCPU(),
		Uptime:      time.Since(c.startTime),
		CollectedAt: time.Now().UTC(),
	}

	c.goroutines.Record(ctx, stats.Goroutines)
	c.heapAlloc.Record(ctx, int64(stats.HeapAlloc))
	c.sys.Record(ctx, int64(stats.Sys))
	c.uptime.Record(ctx, stats.Uptime.Seconds())
	return stats
}

// Start collects every interval until ctx is done or Stop is called.
func (c *RuntimeCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)
	for {
		select {
		case <-ticker.C:
			c.Collect(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends a running Start loop. It is safe to call more than once.
func (c *RuntimeCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// StartTime is when the collector was created.
func (c *RuntimeCollector) StartTime() time.Time {
	return c.startTime
}
