package conflict

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/spatial"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// FindInRegion returns copies of the objects whose bounds intersect box.
func (e *Engine) FindInRegion(box models.Box3) []*models.SpatialObject {
	defer e.observe(time.Now())

	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return cloneObjects(e.volume.Query(box))
}

// FindInPlan returns copies of the objects whose plan view footprint
// intersects box.
func (e *Engine) FindInPlan(box models.Box2) []*models.SpatialObject {
	defer e.observe(time.Now())

	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return cloneObjects(e.plan.Search(box))
}

// FindAt returns copies of the objects whose exact shape contains p.
func (e *Engine) FindAt(p models.Vector3) []*models.SpatialObject {
	defer e.observe(time.Now())

	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return cloneObjects(e.volume.QueryPoint(p))
}

// FindWithin returns the objects within radius of p, closest first. A limit
// lower than 1 returns every match.
func (e *Engine) FindWithin(p models.Vector3, radius float64, limit int) []spatial.Neighbor {
	defer e.observe(time.Now())

	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return cloneNeighbors(e.volume.Nearest(p, radius, limit))
}

// FindNearest returns the k objects closest to (x, y) in plan view. A
// maxDistance lower or equal to 0 means no limit.
func (e *Engine) FindNearest(x, y float64, k int, maxDistance float64) []spatial.Neighbor {
	defer e.observe(time.Now())

	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return cloneNeighbors(e.plan.Nearest(x, y, k, maxDistance))
}

// ObjectsBySystem returns the ids of the indexed objects of a system, in
// ascending order.
func (e *Engine) ObjectsBySystem(s models.SystemType) []uuid.UUID {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return sortedIDs(e.bySystem[s])
}

// ObjectsByFloor returns the ids of the indexed objects of a floor, in
// ascending order.
func (e *Engine) ObjectsByFloor(floorID string) []uuid.UUID {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return sortedIDs(e.byFloor[floorID])
}

// ActiveConflicts returns copies of the unresolved conflicts, most severe
// first.
func (e *Engine) ActiveConflicts() []*models.ConflictReport {
	e.conflictsMutex.Lock()
	defer e.conflictsMutex.Unlock()
	return sortedReports(e.active)
}

func (e *Engine) ResolvedConflicts() []*models.ConflictReport {
	e.conflictsMutex.Lock()
	defer e.conflictsMutex.Unlock()
	return sortedReports(e.resolved)
}

// Conflict returns a copy of an active or resolved conflict.
func (e *Engine) Conflict(id uuid.UUID) (*models.ConflictReport, bool) {
	e.conflictsMutex.Lock()
	defer e.conflictsMutex.Unlock()

	if c, ok := e.active[id]; ok {
		return c.Clone(), true
	}
	if c, ok := e.resolved[id]; ok {
		return c.Clone(), true
	}
	return nil, false
}

// ConflictsFor returns copies of the active conflicts involving an object.
func (e *Engine) ConflictsFor(id uuid.UUID) []*models.ConflictReport {
	e.conflictsMutex.Lock()
	defer e.conflictsMutex.Unlock()

	involved := make(map[uuid.UUID]*models.ConflictReport)
	for cid, c := range e.active {
		if c.Involves(id) {
			involved[cid] = c
		}
	}
	return sortedReports(involved)
}

// Optimize rebuilds both indices concurrently and clears the detection
// cache. Recorded conflicts are kept.
func (e *Engine) Optimize(ctx context.Context) error {
	_, span := tracer.Start(ctx, "conflict.Optimize")
	defer span.End()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		e.volume.Optimize()
		return nil
	})
	g.Go(func() error {
		e.plan.Optimize()
		return nil
	})
	err := g.Wait()

	e.cache.Purge()
	e.generation++

	span.SetAttributes(
		attribute.Int("objects", e.volume.Len()),
	)
	endSpan(span, err)
	return err
}

// IndexInfo returns the structure of both indices.
func (e *Engine) IndexInfo() (volume, plan spatial.DebugInfo) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.volume.DebugInfo(), e.plan.DebugInfo()
}

func (e *Engine) observe(start time.Time) {
	e.observeQuery(time.Since(start))
}

func cloneObjects(objects []*models.SpatialObject) []*models.SpatialObject {
	res := make([]*models.SpatialObject, len(objects))
	for i, o := range objects {
		res[i] = o.Clone()
	}
	return res
}

func cloneNeighbors(neighbors []spatial.Neighbor) []spatial.Neighbor {
	res := make([]spatial.Neighbor, len(neighbors))
	for i, n := range neighbors {
		res[i] = spatial.Neighbor{
			Object:   n.Object.Clone(),
			Distance: n.Distance,
		}
	}
	return res
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func sortedReports(m map[uuid.UUID]*models.ConflictReport) []*models.ConflictReport {
	res := make([]*models.ConflictReport, 0, len(m))
	for _, c := range m {
		res = append(res, c.Clone())
	}
	sortReports(res)
	return res
}
