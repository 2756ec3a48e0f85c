package segment

import "fmt"

// CacheStats is a point-in-time snapshot of the segment cache counters.
type CacheStats struct {
	// ElementCount is the number of cached segments.
	ElementCount int64
	// CurrentWeight is the combined weight of the cached segments.
	CurrentWeight int64
	// MaxWeight is the configured weight bound.
	MaxWeight int64
	// HitCount counts reads served from cache, including those served
	// by the 1st-level reference on the segment ID.
	HitCount int64
	// MissCount counts reads that went to the loader.
	MissCount int64
	// LoadSuccessCount counts loads that returned a segment.
	LoadSuccessCount int64
	// LoadExceptionCount counts loads that failed.
	LoadExceptionCount int64
	// LoadTime is the cumulative time spent loading, in nanoseconds.
	LoadTime int64
	// EvictionCount counts evicted entries, including entries dropped
	// by Clear.
	EvictionCount int64
}

// HitRate returns the fraction of reads served from cache.
func (s CacheStats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

func (s CacheStats) String() string {
	return fmt.Sprintf("elements=%d weight=%d/%d hits=%d misses=%d loads=%d/%d evictions=%d",
		s.ElementCount, s.CurrentWeight, s.MaxWeight,
		s.HitCount, s.MissCount,
		s.LoadSuccessCount, s.LoadSuccessCount+s.LoadExceptionCount,
		s.EvictionCount)
}
