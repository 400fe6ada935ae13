package lifecycle

import (
	"context"

	"github.com/aukilabs/bygg/conflict"
	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/spatial"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FindInRegion returns the objects whose bounds intersect a box.
func (e *Engine) FindInRegion(box models.Box3) []*models.SpatialObject {
	return e.resolveObjects(e.conflicts.FindInRegion(box))
}

// FindInPlan returns the objects whose plan footprint intersects a
// rectangle.
func (e *Engine) FindInPlan(box models.Box2) []*models.SpatialObject {
	return e.resolveObjects(e.conflicts.FindInPlan(box))
}

// FindAt returns the objects containing a point.
func (e *Engine) FindAt(p models.Vector3) []*models.SpatialObject {
	return e.resolveObjects(e.conflicts.FindAt(p))
}

// FindWithin returns up to limit objects within radius of a point, closest
// first.
func (e *Engine) FindWithin(p models.Vector3, radius float64, limit int) []spatial.Neighbor {
	return e.resolveNeighbors(e.conflicts.FindWithin(p, radius, limit))
}

// FindNearest returns the k objects closest to a plan point.
func (e *Engine) FindNearest(x, y float64, k int, maxDistance float64) []spatial.Neighbor {
	return e.resolveNeighbors(e.conflicts.FindNearest(x, y, k, maxDistance))
}

// resolveObjects swaps index snapshots with copies of the stored objects,
// dropping the ones deleted meanwhile.
func (e *Engine) resolveObjects(found []*models.SpatialObject) []*models.SpatialObject {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	res := make([]*models.SpatialObject, 0, len(found))
	for _, f := range found {
		if obj, ok := e.objects[f.ID]; ok {
			res = append(res, obj.Clone())
		}
	}
	return res
}

func (e *Engine) resolveNeighbors(found []spatial.Neighbor) []spatial.Neighbor {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	res := make([]spatial.Neighbor, 0, len(found))
	for _, n := range found {
		if obj, ok := e.objects[n.Object.ID]; ok {
			res = append(res, spatial.Neighbor{
				Object:   obj.Clone(),
				Distance: n.Distance,
			})
		}
	}
	return res
}

// CheckConflicts returns the conflicts of an object. With a nil tolerance,
// the conflicts are recorded as active. A custom tolerance gives a what-if
// report which is not recorded.
func (e *Engine) CheckConflicts(ctx context.Context, id uuid.UUID, tolerance *float64) ([]*models.ConflictReport, error) {
	reports, err := e.conflicts.Detect(ctx, id, tolerance)
	instrumentOperation("check_conflicts", err)
	return reports, err
}

// DetectAll runs the detection of every object, or of the given ones, on
// the conflict engine worker pool.
func (e *Engine) DetectAll(ctx context.Context, ids ...uuid.UUID) ([]*models.ConflictReport, error) {
	reports, err := e.conflicts.BatchDetect(ctx, ids...)
	instrumentOperation("detect_all", err)
	return reports, err
}

func (e *Engine) ActiveConflicts() []*models.ConflictReport {
	return e.conflicts.ActiveConflicts()
}

// ResolveConflicts applies the proposed resolutions of the given active
// conflicts, or of all of them when no id is given. Moved objects are
// validated against their constraints; a move breaking one is rejected and
// its conflict stays active.
func (e *Engine) ResolveConflicts(ctx context.Context, ids ...uuid.UUID) (conflict.ResolveSummary, error) {
	summary, err := e.conflicts.Resolve(ctx, e, ids...)
	instrumentOperation("resolve_conflicts", err)
	if err != nil {
		return summary, err
	}

	logs.WithTag("resolved", len(summary.Resolved)).
		WithTag("unresolved", len(summary.Unresolved)).
		WithTag("total_cost", summary.TotalCost).
		Info("conflicts resolved")
	return summary, nil
}

// ApplyResolution moves the object designated by a conflict resolution to
// its target position. It implements conflict.ResolutionApplier.
func (e *Engine) ApplyResolution(ctx context.Context, c *models.ConflictReport) error {
	if c.Resolution == nil {
		return errors.New("conflict has no resolution").
			WithTag("conflict_id", c.ID)
	}

	ctx, span := tracer.Start(ctx, "lifecycle.ApplyResolution",
		trace.WithAttributes(
			attribute.String("conflict_id", c.ID.String()),
			attribute.String("object_id", c.Resolution.MoveObject.String()),
		),
	)
	defer span.End()

	var evs events
	e.mutex.Lock()
	err := e.applyResolution(ctx, c.Resolution, &evs)
	e.mutex.Unlock()
	e.dispatch(ctx, evs)

	instrumentOperation("apply_resolution", err)
	endSpan(span, err)
	return err
}

func (e *Engine) applyResolution(ctx context.Context, r *models.Resolution, evs *events) error {
	obj, err := e.mutable(r.MoveObject, ResolverActor)
	if err != nil {
		return err
	}

	g := obj.Geometry.Moved(r.Target)
	_, err = e.update(ctx, obj.ID, UpdateRequest{
		Actor:    ResolverActor,
		Geometry: &g,
		Validate: true,
	}, evs)
	return err
}

// Optimize rebuilds the spatial indices.
func (e *Engine) Optimize(ctx context.Context) error {
	err := e.conflicts.Optimize(ctx)
	instrumentOperation("optimize", err)
	return err
}
