package conflict

import (
	"bytes"
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/rules"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Overlaps larger than this share of the smaller object volume raise the
// severity by one level.
const escalationRatio = 0.5

// Detect returns the conflicts of an indexed object. A nil tolerance uses
// the larger precision tolerance of each pair, in which case the active
// conflicts of the object are updated with the result.
func (e *Engine) Detect(ctx context.Context, id uuid.UUID, tolerance *float64) ([]*models.ConflictReport, error) {
	ctx, span := tracer.Start(ctx, "conflict.Detect",
		trace.WithAttributes(
			attribute.String("object_id", id.String()),
		),
	)
	defer span.End()

	if tolerance != nil && (*tolerance < 0 || math.IsNaN(*tolerance)) {
		err := errors.New("tolerance must be a positive number").
			WithType(models.ErrTypeValidationFailed).
			WithTag("tolerance", *tolerance)
		endSpan(span, err)
		return nil, err
	}

	e.mutex.RLock()
	defer e.mutex.RUnlock()

	obj, ok := e.volume.Get(id)
	if !ok {
		err := models.NewNotFoundError("object", id)
		endSpan(span, err)
		return nil, err
	}

	reports := e.detectCached(ctx, obj, tolerance)
	if tolerance == nil {
		e.record(id, reports)
	}

	span.SetAttributes(attribute.Int("conflicts", len(reports)))
	endSpan(span, nil)
	return cloneReports(reports), nil
}

// BatchDetect detects the conflicts of the given objects, or of every
// indexed object when no id is given, on the worker pool. Each conflict is
// returned once.
func (e *Engine) BatchDetect(ctx context.Context, ids ...uuid.UUID) ([]*models.ConflictReport, error) {
	ctx, span := tracer.Start(ctx, "conflict.BatchDetect",
		trace.WithAttributes(
			attribute.Int("requested", len(ids)),
		),
	)
	defer span.End()

	e.mutex.RLock()
	defer e.mutex.RUnlock()

	var objects []*models.SpatialObject
	if len(ids) == 0 {
		objects = e.volume.All()
	} else {
		objects = make([]*models.SpatialObject, 0, len(ids))
		for _, id := range ids {
			obj, ok := e.volume.Get(id)
			if !ok {
				err := models.NewNotFoundError("object", id)
				endSpan(span, err)
				return nil, err
			}
			objects = append(objects, obj)
		}
	}

	results := make([][]*models.ConflictReport, len(objects))
	var wg sync.WaitGroup
	var submitErr error

	for i, obj := range objects {
		wg.Add(1)
		err := e.pool.Submit(ctx, func(ctx context.Context) {
			defer wg.Done()
			results[i] = e.detectCached(ctx, obj, nil)
		})
		if err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}
	wg.Wait()

	if submitErr != nil {
		err := errors.New("batch detection interrupted").Wrap(submitErr)
		endSpan(span, err)
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{})
	var reports []*models.ConflictReport
	for i, obj := range objects {
		e.record(obj.ID, results[i])

		for _, r := range results[i] {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			reports = append(reports, r)
		}
	}
	sortReports(reports)

	span.SetAttributes(
		attribute.Int("objects", len(objects)),
		attribute.Int("conflicts", len(reports)),
	)
	endSpan(span, nil)
	return cloneReports(reports), nil
}

// detectCached must be called with the engine mutex held.
func (e *Engine) detectCached(ctx context.Context, obj *models.SpatialObject, tolerance *float64) []*models.ConflictReport {
	key := cacheKey{
		id:         obj.ID,
		version:    obj.Version,
		tolerance:  -1,
		generation: e.generation,
	}
	if tolerance != nil {
		key.tolerance = *tolerance
	}

	if !e.options.DisableCache {
		if reports, ok := e.cache.Get(key); ok {
			e.cacheHits.Add(1)
			instrumentCacheLookup(true)
			return reports
		}
		e.cacheMisses.Add(1)
		instrumentCacheLookup(false)
	}

	start := time.Now()
	reports := e.detect(obj, tolerance)
	e.observeQuery(time.Since(start))
	instrumentDetection(time.Since(start), reports)

	if !e.options.DisableCache {
		e.cache.Add(key, reports)
	}

	logs.WithTag("object_id", obj.ID).
		WithTag("conflicts", len(reports)).
		WithTag("trace_id", trace.SpanContextFromContext(ctx).TraceID().String()).
		Debug("conflicts detected")
	return reports
}

type candidate struct {
	object *models.SpatialObject
	kinds  []models.IndexKind
}

func (c *candidate) addKind(k models.IndexKind) {
	for _, kind := range c.kinds {
		if kind == k {
			return
		}
	}
	c.kinds = append(c.kinds, k)
}

func (e *Engine) detect(obj *models.SpatialObject, tolerance *float64) []*models.ConflictReport {
	window := e.rules.SearchDistance(obj)
	if tolerance != nil {
		window = max(window, *tolerance)
	} else {
		window = max(window, models.PrecisionCoarse.Tolerance())
	}

	candidates := make(map[uuid.UUID]*candidate)
	var order []uuid.UUID
	add := func(o *models.SpatialObject, kind models.IndexKind) {
		c, ok := candidates[o.ID]
		if !ok {
			c = &candidate{object: o}
			candidates[o.ID] = c
			order = append(order, o.ID)
		}
		c.addKind(kind)
	}

	for _, c := range e.volume.FindConflicts(obj, window) {
		add(c.Object, c.Kind)
	}
	if !e.options.DisablePlanView {
		for _, c := range e.plan.FindConflicts(obj, window) {
			add(c.Object, c.Kind)
		}
	}

	var reports []*models.ConflictReport
	for _, id := range order {
		c := candidates[id]
		if r := e.analyze(obj, c.object, c.kinds, tolerance); r != nil {
			reports = append(reports, r)
		}
	}
	sortReports(reports)
	return reports
}

// analyze builds the report of a pair, or returns nil when the pair does not
// conflict.
func (e *Engine) analyze(a, b *models.SpatialObject, kinds []models.IndexKind, tolerance *float64) *models.ConflictReport {
	if bytes.Compare(a.ID[:], b.ID[:]) > 0 {
		a, b = b, a
		kinds = swapKinds(kinds)
	}

	tol := max(a.Tolerance(), b.Tolerance())
	if tolerance != nil {
		tol = *tolerance
	}

	overlap := a.Bounds.IntersectionVolume(b.Bounds)
	separation := a.Bounds.Distance(b.Bounds)

	var violations []models.RuleViolation
	for _, v := range e.rules.Evaluate(a, b) {
		if v.MaxSpacing && e.bridged(a, b, v.Required) {
			continue
		}
		violations = append(violations, v)
	}

	r := &models.ConflictReport{
		ID:             models.ConflictID(a.ID, b.ID),
		ObjectA:        a.ID,
		ObjectB:        b.ID,
		IndexKinds:     kinds,
		OverlapVolume:  overlap,
		OverlapArea:    a.PlanBounds().IntersectionArea(b.PlanBounds()),
		Distance:       separation,
		CenterDistance: a.Geometry.Center.Distance(b.Geometry.Center),
		Tolerance:      tol,
		Violations:     violations,
		DetectedAt:     e.now(),
	}

	switch {
	case overlap > 0:
		r.Type = models.ConflictOverlap
	case separation < tol:
		r.Type = models.ConflictClearance
	case len(violations) > 0:
		r.Type = violations[0].Type
	default:
		return nil
	}

	for _, v := range violations {
		if v.CodeReference != "" {
			r.CodeReference = v.CodeReference
			break
		}
	}

	r.Severity = models.SeverityForPriority(min(a.Priority(), b.Priority()))
	if smaller := min(a.Geometry.Volume(), b.Geometry.Volume()); overlap > escalationRatio*smaller {
		r.Severity = r.Severity.Escalate()
	}

	required := violations
	if r.Type == models.ConflictOverlap || r.Type == models.ConflictClearance {
		required = append([]models.RuleViolation{{
			Type:     r.Type,
			Rule:     "geometry.separation",
			Required: rules.SeparationDistance(a, b, tol),
			Actual:   r.CenterDistance,
			Severity: models.SeverityError,
		}}, violations...)
	}
	r.Resolution = e.rules.SuggestResolution(a, b, required)

	return r
}

// bridged reports whether a third object of the same type lies within
// spacing of both objects, in which case they are not neighbours.
func (e *Engine) bridged(a, b *models.SpatialObject, spacing float64) bool {
	for _, m := range e.volume.Query(a.Bounds.Expand(spacing)) {
		if m.ID == a.ID || m.ID == b.ID || m.Type != a.Type {
			continue
		}
		if m.Geometry.Center.Distance(a.Geometry.Center) <= spacing &&
			m.Geometry.Center.Distance(b.Geometry.Center) <= spacing {
			return true
		}
	}
	return false
}

// record replaces the active conflicts of an object with the given ones.
// Conflicts no longer detected move to the resolved set.
func (e *Engine) record(id uuid.UUID, reports []*models.ConflictReport) {
	now := e.now()
	detected := make(map[uuid.UUID]struct{}, len(reports))

	e.conflictsMutex.Lock()
	defer e.conflictsMutex.Unlock()

	for _, r := range reports {
		detected[r.ID] = struct{}{}
		if _, ok := e.active[r.ID]; !ok {
			instrumentConflict(r)
		}
		e.active[r.ID] = r.Clone()
		delete(e.resolved, r.ID)
	}

	for cid, c := range e.active {
		if _, ok := detected[cid]; !ok && c.Involves(id) {
			e.resolve(cid, c, now)
		}
	}
}

// resolve must be called with the conflicts mutex held.
func (e *Engine) resolve(id uuid.UUID, c *models.ConflictReport, now time.Time) {
	delete(e.active, id)
	c.ResolvedAt = now
	e.resolved[id] = c
}

func (e *Engine) observeQuery(d time.Duration) {
	e.queries.Add(1)
	e.queryNanos.Add(int64(d))
}

// swapKinds mirrors the priority classification of a pair whose objects
// trade places.
func swapKinds(kinds []models.IndexKind) []models.IndexKind {
	res := make([]models.IndexKind, len(kinds))
	for i, k := range kinds {
		switch k {
		case models.IndexKindHigherPriority:
			res[i] = models.IndexKindLowerPriority
		case models.IndexKindLowerPriority:
			res[i] = models.IndexKindHigherPriority
		default:
			res[i] = k
		}
	}
	return res
}

func sortReports(reports []*models.ConflictReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}
