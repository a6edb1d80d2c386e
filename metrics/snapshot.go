package metrics

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/dromara/carbon/v2"
)

// Snapshot is the JSON-serialisable structure from spec.md §6.
type Snapshot struct {
	PatternResultCache resultCacheJSON   `json:"pattern_result_cache"`
	PatternCache       patternCacheJSON  `json:"pattern_cache"`
	DeferredCache      deferredCacheJSON `json:"deferred_cache"`
	GeneratedAt        string            `json:"generated_at"`
}

type evictionsJSON struct {
	TTL             uint64 `json:"ttl"`
	LRU             uint64 `json:"lru"`
	LRUBytesFreed   uint64 `json:"lru_bytes_freed"`
	TotalEvictions  uint64 `json:"total_evictions"`
	TotalBytesFreed uint64 `json:"total_bytes_freed"`
}

type patternEvictionsJSON struct {
	evictionsJSON
	TTLMovedToDeferred uint64 `json:"ttl_moved_to_deferred"`
	LRUMovedToDeferred uint64 `json:"lru_moved_to_deferred"`
}

type capacityJSON struct {
	TargetBytes      uint64  `json:"target_bytes"`
	ActualBytes      uint64  `json:"actual_bytes"`
	EntryCount       uint64  `json:"entry_count"`
	UtilizationRatio float64 `json:"utilization_ratio"`
}

type resultCacheJSON struct {
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	HitRate   float64       `json:"hit_rate"`
	GetErrors uint64        `json:"get_errors"`
	PutErrors uint64        `json:"put_errors"`
	Evictions evictionsJSON `json:"evictions"`
	Capacity  capacityJSON  `json:"capacity"`
}

type patternCacheJSON struct {
	Hits              uint64               `json:"hits"`
	Misses            uint64               `json:"misses"`
	HitRate           float64              `json:"hit_rate"`
	CompilationErrors uint64               `json:"compilation_errors"`
	Evictions         patternEvictionsJSON `json:"evictions"`
	Capacity          capacityJSON         `json:"capacity"`
}

type deferredEvictionsJSON struct {
	Immediate           uint64 `json:"immediate"`
	ImmediateBytesFreed uint64 `json:"immediate_bytes_freed"`
	Forced              uint64 `json:"forced"`
	ForcedBytesFreed    uint64 `json:"forced_bytes_freed"`
	TotalEvictions      uint64 `json:"total_evictions"`
	TotalBytesFreed     uint64 `json:"total_bytes_freed"`
}

type deferredCapacityJSON struct {
	ActualBytes uint64 `json:"actual_bytes"`
	EntryCount  uint64 `json:"entry_count"`
}

type deferredCacheJSON struct {
	Evictions deferredEvictionsJSON `json:"evictions"`
	Capacity  deferredCapacityJSON  `json:"capacity"`
}

// Now returns the current wall-clock instant as a UTC carbon.Carbon, for
// stamping metrics.Snapshot.GeneratedAt.
func Now() carbon.Carbon {
	return carbon.Now(carbon.UTC)
}

func utilization(actual, target uint64) float64 {
	if target == 0 {
		return 0
	}
	return float64(actual) / float64(target)
}

// Render builds the JSON snapshot from the current counter values and
// capacity snapshots. generatedAt is converted to a time.Time and formatted
// in UTC with time.RFC3339, which yields the 2006-01-02T15:04:05Z form.
func (a *All) Render(generatedAt carbon.Carbon) Snapshot {
	rcHits, rcMisses := a.ResultCache.Hits.Load(), a.ResultCache.Misses.Load()
	rcTarget, rcActual, rcCount := a.ResultCache.capacity()

	pcHits, pcMisses := a.PatternCache.Hits.Load(), a.PatternCache.Misses.Load()
	pcTarget, pcActual, pcCount := a.PatternCache.capacity()

	dcActual, dcCount := a.DeferredCache.capacity()

	return Snapshot{
		PatternResultCache: resultCacheJSON{
			Hits:      rcHits,
			Misses:    rcMisses,
			HitRate:   hitRate(rcHits, rcMisses),
			GetErrors: a.ResultCache.GetErrors.Load(),
			PutErrors: a.ResultCache.PutErrors.Load(),
			Evictions: evictionsJSON{
				TTL:             a.ResultCache.TTLEvictions.Load(),
				LRU:             a.ResultCache.LRUEvictions.Load(),
				LRUBytesFreed:   a.ResultCache.LRUBytesFreed.Load(),
				TotalEvictions:  a.ResultCache.TotalEvictions.Load(),
				TotalBytesFreed: a.ResultCache.TotalBytesFreed.Load(),
			},
			Capacity: capacityJSON{
				TargetBytes:      rcTarget,
				ActualBytes:      rcActual,
				EntryCount:       rcCount,
				UtilizationRatio: utilization(rcActual, rcTarget),
			},
		},
		PatternCache: patternCacheJSON{
			Hits:              pcHits,
			Misses:            pcMisses,
			HitRate:           hitRate(pcHits, pcMisses),
			CompilationErrors: a.PatternCache.CompilationErrors.Load(),
			Evictions: patternEvictionsJSON{
				evictionsJSON: evictionsJSON{
					TTL:             a.PatternCache.TTLEvictions.Load(),
					LRU:             a.PatternCache.LRUEvictions.Load(),
					LRUBytesFreed:   a.PatternCache.LRUBytesFreed.Load(),
					TotalEvictions:  a.PatternCache.TotalEvictions.Load(),
					TotalBytesFreed: a.PatternCache.TotalBytesFreed.Load(),
				},
				TTLMovedToDeferred: a.PatternCache.TTLMovedToDeferred.Load(),
				LRUMovedToDeferred: a.PatternCache.LRUMovedToDeferred.Load(),
			},
			Capacity: capacityJSON{
				TargetBytes:      pcTarget,
				ActualBytes:      pcActual,
				EntryCount:       pcCount,
				UtilizationRatio: utilization(pcActual, pcTarget),
			},
		},
		DeferredCache: deferredCacheJSON{
			Evictions: deferredEvictionsJSON{
				Immediate:           a.DeferredCache.ImmediateEvictions.Load(),
				ImmediateBytesFreed: a.DeferredCache.ImmediateBytesFreed.Load(),
				Forced:              a.DeferredCache.ForcedEvictions.Load(),
				ForcedBytesFreed:    a.DeferredCache.ForcedBytesFreed.Load(),
				TotalEvictions:      a.DeferredCache.TotalEvictions.Load(),
				TotalBytesFreed:     a.DeferredCache.TotalBytesFreed.Load(),
			},
			Capacity: deferredCapacityJSON{
				ActualBytes: dcActual,
				EntryCount:  dcCount,
			},
		},
		GeneratedAt: generatedAt.StdTime().UTC().Format(time.RFC3339),
	}
}

// JSON pretty-prints the snapshot with two-space indentation, per spec.md §6.
func (s Snapshot) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
