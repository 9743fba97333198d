package cache

func (s *Store) recordOperation(operation, result string) {
	s.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()
}

// updateEntriesGauge must be called with mu held.
func (s *Store) updateEntriesGauge() {
	s.metrics.Gauge("cache_entries", nil).Set(float64(len(s.entries)))
}
