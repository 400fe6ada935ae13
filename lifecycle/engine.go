// Package lifecycle is the authoritative store of placed objects, their
// relationships and constraints. Every mutation goes through an Engine,
// which keeps the spatial indices of the conflict engine in sync.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/bygg/conflict"
	"github.com/aukilabs/bygg/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLockDuration = time.Minute * 15

	// The actor moving objects when conflict resolutions are applied.
	ResolverActor = "conflict-resolver"
)

var tracer = otel.Tracer("bygg.lifecycle")

type Options struct {
	// The conflict engine indexing the objects. When nil, the engine creates
	// and owns one with default options.
	Conflicts *conflict.Engine

	Supplier  ObjectSupplier
	Evaluator ConstraintEvaluator

	// Values given to the evaluator with every evaluation.
	Environment map[string]any

	// The duration of locks acquired without an explicit one.
	LockDuration time.Duration

	Now func() time.Time
}

// Engine manages the lifecycle of objects. It is safe for concurrent use.
type Engine struct {
	conflicts    *conflict.Engine
	ownConflicts bool
	supplier     ObjectSupplier
	evaluator    ConstraintEvaluator
	environment  map[string]any
	lockDuration time.Duration
	now          func() time.Time

	mutex         sync.Mutex
	objects       map[uuid.UUID]*models.SpatialObject
	relationships map[uuid.UUID]*models.Relationship
	constraints   map[uuid.UUID]*models.Constraint
	byObject      map[uuid.UUID][]uuid.UUID
	transactions  []*transaction
	created       int64
	updated       int64
	deleted       int64

	listenersMutex sync.RWMutex
	listeners      []Listener
}

// New creates an engine. Close must be called to release the conflict engine
// it may own.
func New(o Options) (*Engine, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Supplier == nil {
		o.Supplier = DefaultSupplier{Now: o.Now}
	}
	if o.Evaluator == nil {
		o.Evaluator = NopEvaluator{}
	}
	if o.LockDuration <= 0 {
		o.LockDuration = DefaultLockDuration
	}

	e := &Engine{
		conflicts:     o.Conflicts,
		supplier:      o.Supplier,
		evaluator:     o.Evaluator,
		environment:   o.Environment,
		lockDuration:  o.LockDuration,
		now:           o.Now,
		objects:       make(map[uuid.UUID]*models.SpatialObject),
		relationships: make(map[uuid.UUID]*models.Relationship),
		constraints:   make(map[uuid.UUID]*models.Constraint),
		byObject:      make(map[uuid.UUID][]uuid.UUID),
	}

	if e.conflicts == nil {
		c, err := conflict.New(conflict.Options{Now: o.Now})
		if err != nil {
			return nil, err
		}
		e.conflicts = c
		e.ownConflicts = true
	}
	return e, nil
}

// Close releases the conflict engine when the engine owns it.
func (e *Engine) Close() {
	if e.ownConflicts {
		e.conflicts.Close()
	}
}

// Conflicts returns the conflict engine indexing the objects. Its mutating
// methods must not be called directly.
func (e *Engine) Conflicts() *conflict.Engine {
	return e.conflicts
}

type Stats struct {
	Objects       int            `json:"objects"`
	Relationships int            `json:"relationships"`
	Constraints   int            `json:"constraints"`
	Created       int64          `json:"created"`
	Updated       int64          `json:"updated"`
	Deleted       int64          `json:"deleted"`
	Transactions  int            `json:"open_transactions"`
	Conflicts     conflict.Stats `json:"conflicts"`
}

// Stats returns a snapshot of the engine statistics.
func (e *Engine) Stats() Stats {
	e.mutex.Lock()
	s := Stats{
		Objects:       len(e.objects),
		Relationships: len(e.relationships),
		Constraints:   len(e.constraints),
		Created:       e.created,
		Updated:       e.updated,
		Deleted:       e.deleted,
		Transactions:  len(e.transactions),
	}
	e.mutex.Unlock()

	s.Conflicts = e.conflicts.Stats()
	return s
}

// evaluate runs the evaluator over the active constraints of an object. It
// must be called with the engine mutex held.
func (e *Engine) evaluate(ctx context.Context, obj *models.SpatialObject, constraints []*models.Constraint) (models.ValidationResult, error) {
	active := make([]*models.Constraint, 0, len(constraints))
	for _, c := range constraints {
		if c.Active {
			active = append(active, c.Clone())
		}
	}

	res, err := e.evaluator.Evaluate(ctx, obj.Clone(), active, e.environment)
	instrumentValidation(err == nil && !res.HasErrors())
	return res, err
}

// check evaluates an object and turns error severity violations into a
// validation error.
func (e *Engine) check(ctx context.Context, obj *models.SpatialObject, constraints []*models.Constraint) error {
	res, err := e.evaluate(ctx, obj, constraints)
	if err != nil {
		return models.NewValidationError(obj.ID, []models.Violation{{
			Type:     "evaluator",
			Message:  err.Error(),
			Severity: models.SeverityError,
		}})
	}
	if res.HasErrors() {
		return models.NewValidationError(obj.ID, res.Errors())
	}
	return nil
}

func (e *Engine) objectConstraints(id uuid.UUID) []*models.Constraint {
	ids := e.byObject[id]
	res := make([]*models.Constraint, 0, len(ids))
	for _, cid := range ids {
		if c, ok := e.constraints[cid]; ok {
			res = append(res, c)
		}
	}
	return res
}

// object returns the stored object, releasing its lock when expired. It
// must be called with the engine mutex held.
func (e *Engine) object(id uuid.UUID) (*models.SpatialObject, error) {
	obj, ok := e.objects[id]
	if !ok {
		return nil, models.NewNotFoundError("object", id)
	}
	if obj.Lock != nil && obj.Lock.Expired(e.now()) {
		obj.Lock = nil
		instrumentExpiredLock()
	}
	return obj, nil
}

// mutable returns the stored object when actor is allowed to change it.
func (e *Engine) mutable(id uuid.UUID, actor string) (*models.SpatialObject, error) {
	obj, err := e.object(id)
	if err != nil {
		return nil, err
	}
	if obj.LockedFor(actor, e.now()) {
		return nil, models.NewLockConflictError(id, obj.Lock.Holder, actor)
	}
	return obj, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
