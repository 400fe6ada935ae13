package conflict

import (
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/spatial"
)

type Stats struct {
	Objects           int                       `json:"objects"`
	ObjectsBySystem   map[models.SystemType]int `json:"objects_by_system"`
	Floors            int                       `json:"floors"`
	VolumeIndex       spatial.DebugInfo         `json:"volume_index"`
	PlanIndex         spatial.DebugInfo         `json:"plan_index"`
	ActiveConflicts   int                       `json:"active_conflicts"`
	ResolvedConflicts int                       `json:"resolved_conflicts"`
	Queries           int64                     `json:"queries"`
	AvgQueryLatency   time.Duration             `json:"avg_query_latency"`
	CachedResults     int                       `json:"cached_results"`
	CacheHitRate      float64                   `json:"cache_hit_rate"`
}

// Stats returns a snapshot of the engine statistics.
func (e *Engine) Stats() Stats {
	e.mutex.RLock()
	s := Stats{
		Objects:         e.volume.Len(),
		ObjectsBySystem: make(map[models.SystemType]int, len(e.bySystem)),
		Floors:          len(e.byFloor),
		VolumeIndex:     e.volume.DebugInfo(),
		PlanIndex:       e.plan.DebugInfo(),
		CachedResults:   e.cache.Len(),
	}
	for system, ids := range e.bySystem {
		s.ObjectsBySystem[system] = len(ids)
	}
	e.mutex.RUnlock()

	e.conflictsMutex.Lock()
	s.ActiveConflicts = len(e.active)
	s.ResolvedConflicts = len(e.resolved)
	e.conflictsMutex.Unlock()

	s.Queries = e.queries.Load()
	if s.Queries > 0 {
		s.AvgQueryLatency = time.Duration(e.queryNanos.Load() / s.Queries)
	}

	hits, misses := e.cacheHits.Load(), e.cacheMisses.Load()
	if total := hits + misses; total > 0 {
		s.CacheHitRate = float64(hits) / float64(total)
	}
	return s
}
