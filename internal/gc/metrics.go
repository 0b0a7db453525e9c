package gc

// StatsCollector adapts a Collector's counters to
// github.com/sklli/daovm/internal/runtime.Collector, so GC stats surface
// through the same MetricsCollector.AddCustomCollector exposition path as
// the region and arena allocators.
type StatsCollector struct {
	gc *Collector
}

// NewStatsCollector wraps gc for registration with a runtime
// MetricsCollector.
func NewStatsCollector(gc *Collector) *StatsCollector {
	return &StatsCollector{gc: gc}
}

// Name implements runtime.Collector.
func (s *StatsCollector) Name() string { return "gc" }

// Collect implements runtime.Collector.
func (s *StatsCollector) Collect() (map[string]interface{}, error) {
	snap := s.gc.StatsSnapshot()

	return map[string]interface{}{
		"cycles":              snap.Cycles,
		"objects_freed":       snap.ObjectsFreed,
		"cycles_with_garbage": snap.CyclesDetected,
		"negative_cyc_clamps": snap.NegativeCycClamps,
		"leaked_on_free":      snap.LeakedOnFree,
		"idle_queue_depth":    s.gc.idleLen(),
		"registry_size":       s.gc.registry.Len(),
	}, nil
}

// Reset implements runtime.Collector. The collector's own counters are
// cumulative lifetime totals and deliberately not zeroed by a metrics
// scrape; Reset exists only to satisfy the interface.
func (s *StatsCollector) Reset() {}

// idleLen reports the current idle queue depth, taking mutexIdleList since
// it may be read from a scraper goroutine concurrently with mutators.
func (c *Collector) idleLen() int {
	c.mutexIdleList.Lock()
	defer c.mutexIdleList.Unlock()

	if c.idle == nil {
		return 0
	}

	return c.idle.len()
}
