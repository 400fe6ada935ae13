// Package conflict keeps the 3D and plan view indices of placed objects in
// sync and detects, records and resolves the conflicts between them.
package conflict

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/rules"
	"github.com/aukilabs/bygg/spatial"
	"github.com/aukilabs/bygg/spatial/octree"
	"github.com/aukilabs/bygg/spatial/rtree"
	"github.com/aukilabs/bygg/workers"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultCacheSize = 4096

var tracer = otel.Tracer("bygg.conflict")

// Options configure an engine. Zero values pick defaults.
type Options struct {
	// The rule tables. Defaults to the embedded ones.
	Rules *rules.Engine

	// The pool running batch detections. When nil, the engine starts and
	// owns a pool of workers.DefaultSize workers.
	Pool *workers.Pool

	VolumeIndex spatial.VolumeIndex
	PlanIndex   spatial.PlanIndex

	// The number of detection results kept in cache.
	CacheSize int

	DisableCache       bool
	DisableDetectOnAdd bool
	DisablePlanView    bool

	Now func() time.Time
}

// Engine orchestrates both spatial indices and the rule engine. It is the
// single place where indices are mutated and is safe for concurrent use.
type Engine struct {
	options Options
	rules   *rules.Engine
	pool    *workers.Pool
	ownPool bool
	now     func() time.Time

	// Guards the indices, memberships and generation.
	mutex      sync.RWMutex
	volume     spatial.VolumeIndex
	plan       spatial.PlanIndex
	generation uint64
	bySystem   map[models.SystemType]map[uuid.UUID]struct{}
	byFloor    map[string]map[uuid.UUID]struct{}

	cache *lru.Cache[cacheKey, []*models.ConflictReport]

	// Guards the conflict sets. Acquired after mutex when both are needed.
	conflictsMutex sync.Mutex
	active         map[uuid.UUID]*models.ConflictReport
	resolved       map[uuid.UUID]*models.ConflictReport

	queries     atomic.Int64
	queryNanos  atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

type cacheKey struct {
	id         uuid.UUID
	version    uint64
	tolerance  float64
	generation uint64
}

// New creates an engine. The returned engine must be closed to release the
// pool it owns.
func New(o Options) (*Engine, error) {
	if o.Rules == nil {
		r, err := rules.New(rules.DefaultOptions())
		if err != nil {
			return nil, err
		}
		o.Rules = r
	}
	if o.VolumeIndex == nil {
		o.VolumeIndex = octree.New(octree.DefaultConfig())
	}
	if o.PlanIndex == nil {
		o.PlanIndex = rtree.New(rtree.DefaultMaxEntries)
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	cache, err := lru.New[cacheKey, []*models.ConflictReport](o.CacheSize)
	if err != nil {
		return nil, errors.New("creating conflict cache failed").Wrap(err)
	}

	e := &Engine{
		options:  o,
		rules:    o.Rules,
		pool:     o.Pool,
		now:      o.Now,
		volume:   o.VolumeIndex,
		plan:     o.PlanIndex,
		bySystem: make(map[models.SystemType]map[uuid.UUID]struct{}),
		byFloor:  make(map[string]map[uuid.UUID]struct{}),
		cache:    cache,
		active:   make(map[uuid.UUID]*models.ConflictReport),
		resolved: make(map[uuid.UUID]*models.ConflictReport),
	}
	if e.pool == nil {
		e.pool = workers.NewPool(workers.DefaultSize, workers.DefaultSize*4)
		e.ownPool = true
	}
	return e, nil
}

// Close releases the worker pool when the engine owns it.
func (e *Engine) Close() {
	if e.ownPool {
		e.pool.Close()
	}
}

func (e *Engine) Rules() *rules.Engine {
	return e.rules
}

// Add indexes an object and, unless disabled, records and returns its
// conflicts. The object is copied: later changes to it have no effect on
// the engine.
func (e *Engine) Add(ctx context.Context, obj *models.SpatialObject) ([]*models.ConflictReport, error) {
	ctx, span := tracer.Start(ctx, "conflict.Add",
		trace.WithAttributes(
			attribute.String("object_id", obj.ID.String()),
			attribute.String("object_type", string(obj.Type)),
		),
	)
	defer span.End()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	snapshot := obj.Clone()
	if err := e.insert(snapshot); err != nil {
		endSpan(span, err)
		return nil, err
	}
	e.addMembership(snapshot)
	e.generation++

	if e.options.DisableDetectOnAdd {
		endSpan(span, nil)
		return nil, nil
	}

	reports := e.detectCached(ctx, snapshot, nil)
	e.record(snapshot.ID, reports)
	span.SetAttributes(attribute.Int("conflicts", len(reports)))
	endSpan(span, nil)
	return cloneReports(reports), nil
}

// Replace swaps the indexed version of an object with a new one and, unless
// disabled, redetects its conflicts. When the new version cannot be indexed,
// the previous one is restored.
func (e *Engine) Replace(ctx context.Context, obj *models.SpatialObject) ([]*models.ConflictReport, error) {
	ctx, span := tracer.Start(ctx, "conflict.Replace",
		trace.WithAttributes(
			attribute.String("object_id", obj.ID.String()),
		),
	)
	defer span.End()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	previous, ok := e.volume.Get(obj.ID)
	if !ok {
		err := models.NewNotFoundError("object", obj.ID)
		endSpan(span, err)
		return nil, err
	}

	if err := e.delete(obj.ID); err != nil {
		endSpan(span, err)
		return nil, err
	}
	e.removeMembership(previous)

	snapshot := obj.Clone()
	if err := e.insert(snapshot); err != nil {
		if restoreErr := e.insert(previous); restoreErr != nil {
			// Both indices refused the previous version they were holding.
			instrumentIndexDesync("replace")
			err = errors.New("restoring previous object version failed").
				WithType(models.ErrTypeIndexDesync).
				WithTag("object_id", obj.ID).
				Wrap(restoreErr)
		} else {
			e.addMembership(previous)
		}
		e.generation++
		endSpan(span, err)
		return nil, err
	}
	e.addMembership(snapshot)
	e.generation++

	if e.options.DisableDetectOnAdd {
		endSpan(span, nil)
		return nil, nil
	}

	reports := e.detectCached(ctx, snapshot, nil)
	e.record(snapshot.ID, reports)
	endSpan(span, nil)
	return cloneReports(reports), nil
}

// Remove unindexes an object and moves the conflicts involving it to the
// resolved set.
func (e *Engine) Remove(ctx context.Context, id uuid.UUID) error {
	_, span := tracer.Start(ctx, "conflict.Remove",
		trace.WithAttributes(
			attribute.String("object_id", id.String()),
		),
	)
	defer span.End()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	obj, ok := e.volume.Get(id)
	if !ok {
		obj, ok = e.plan.Get(id)
	}
	if !ok {
		err := models.NewNotFoundError("object", id)
		endSpan(span, err)
		return err
	}

	if err := e.delete(id); err != nil {
		endSpan(span, err)
		return err
	}
	e.removeMembership(obj)
	e.generation++

	now := e.now()
	e.conflictsMutex.Lock()
	for cid, c := range e.active {
		if c.Involves(id) {
			e.resolve(cid, c, now)
		}
	}
	e.conflictsMutex.Unlock()

	endSpan(span, nil)
	return nil
}

// Contains reports whether an object is indexed.
func (e *Engine) Contains(id uuid.UUID) bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.volume.Contains(id)
}

// Get returns a copy of the indexed version of an object.
func (e *Engine) Get(id uuid.UUID) (*models.SpatialObject, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	obj, ok := e.volume.Get(id)
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

func (e *Engine) Len() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.volume.Len()
}

// insert adds an object to both indices, undoing the first insert when the
// second fails.
func (e *Engine) insert(obj *models.SpatialObject) error {
	if e.volume.Contains(obj.ID) || e.plan.Contains(obj.ID) {
		return errors.New("object already indexed").
			WithType(models.ErrTypeAlreadyExists).
			WithTag("object_id", obj.ID)
	}

	if err := e.volume.Insert(obj); err != nil {
		return err
	}

	if err := e.plan.Insert(obj); err != nil {
		e.volume.Remove(obj.ID)
		instrumentIndexDesync("insert")
		return errors.New("plan view index insert failed").
			WithType(models.ErrTypeIndexDesync).
			WithTag("object_id", obj.ID).
			Wrap(err)
	}
	return nil
}

// delete removes an object from both indices, restoring it when only one of
// them held it.
func (e *Engine) delete(id uuid.UUID) error {
	volumeObj, inVolume := e.volume.Get(id)
	planObj, inPlan := e.plan.Get(id)

	switch {
	case inVolume && inPlan:
		e.volume.Remove(id)
		e.plan.Remove(id)
		return nil

	case !inVolume && !inPlan:
		return models.NewNotFoundError("object", id)
	}

	instrumentIndexDesync("remove")
	desync := func(cause error) error {
		err := errors.New("object is held by a single index").
			WithType(models.ErrTypeIndexDesync).
			WithTag("object_id", id).
			WithTag("in_volume_index", inVolume).
			WithTag("in_plan_index", inPlan)
		if cause != nil {
			return err.Wrap(cause)
		}
		return err
	}

	// Bring the missing index back in line instead of dropping the object.
	var err error
	if inVolume {
		err = e.plan.Insert(volumeObj)
	} else {
		err = e.volume.Insert(planObj)
	}
	return desync(err)
}

func (e *Engine) addMembership(obj *models.SpatialObject) {
	addToSet(e.bySystem, obj.SystemType(), obj.ID)
	addToSet(e.byFloor, obj.FloorID, obj.ID)
}

func (e *Engine) removeMembership(obj *models.SpatialObject) {
	removeFromSet(e.bySystem, obj.SystemType(), obj.ID)
	removeFromSet(e.byFloor, obj.FloorID, obj.ID)
}

func addToSet[K comparable](sets map[K]map[uuid.UUID]struct{}, key K, id uuid.UUID) {
	set, ok := sets[key]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		sets[key] = set
	}
	set[id] = struct{}{}
}

func removeFromSet[K comparable](sets map[K]map[uuid.UUID]struct{}, key K, id uuid.UUID) {
	set, ok := sets[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(sets, key)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func cloneReports(reports []*models.ConflictReport) []*models.ConflictReport {
	res := make([]*models.ConflictReport, len(reports))
	for i, r := range reports {
		res[i] = r.Clone()
	}
	return res
}
