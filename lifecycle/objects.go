package lifecycle

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Create builds, validates and indexes an object, then creates its initial
// relationships and constraints. Nothing is stored when any step fails.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.SpatialObject, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Create",
		trace.WithAttributes(
			attribute.String("object_type", string(req.Type)),
		),
	)
	defer span.End()

	obj, err := e.supplier.Build(ctx, req)
	if err != nil {
		instrumentOperation("create", err)
		endSpan(span, err)
		return nil, err
	}

	var evs events
	e.mutex.Lock()
	obj, err = e.create(ctx, obj, req, &evs)
	e.mutex.Unlock()
	e.dispatch(ctx, evs)

	instrumentOperation("create", err)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}

	logs.WithTag("object_id", obj.ID).
		WithTag("object_type", obj.Type).
		Debug("object created")
	return obj, nil
}

func (e *Engine) create(ctx context.Context, obj *models.SpatialObject, req CreateRequest, evs *events) (*models.SpatialObject, error) {
	if _, ok := e.objects[obj.ID]; ok {
		return nil, errors.New("object already exists").
			WithType(models.ErrTypeAlreadyExists).
			WithTag("object_id", obj.ID)
	}
	if err := validateGeometry(obj.ID, obj.Geometry); err != nil {
		return nil, err
	}

	obj = obj.Clone()
	obj.SetGeometry(obj.Geometry)
	obj.Lock = nil
	obj.RelationshipIDs = nil
	if obj.Version == 0 {
		obj.Version = 1
	}

	now := e.now()
	relationships := make([]*models.Relationship, 0, len(req.Relationships))
	for _, spec := range req.Relationships {
		if _, err := e.mutable(spec.Target, req.Actor); err != nil {
			return nil, err
		}
		r := &models.Relationship{
			ID:         models.NewID(),
			From:       obj.ID,
			To:         spec.Target,
			Type:       spec.Type,
			Properties: spec.Properties,
			CreatedAt:  now,
		}
		if spec.Incoming {
			r.From, r.To = r.To, r.From
		}
		relationships = append(relationships, r.Clone())
	}

	constraints := make([]*models.Constraint, len(req.Constraints))
	for i, spec := range req.Constraints {
		constraints[i] = spec.constraint(obj.ID).Clone()
	}

	if err := e.check(ctx, obj, constraints); err != nil {
		return nil, err
	}

	if _, err := e.conflicts.Add(ctx, obj); err != nil {
		return nil, err
	}

	e.objects[obj.ID] = obj
	e.created++
	instrumentObjects(len(e.objects))
	e.log(operation{kind: opCreate, object: obj.Clone()})
	evs.objectCreated(obj)

	for _, r := range relationships {
		e.link(r, evs)
		e.log(operation{kind: opCreateRelationship, relationship: r.Clone()})
	}
	for _, c := range constraints {
		e.attach(c)
		e.log(operation{kind: opAddConstraint, constraint: c.Clone()})
	}

	return obj.Clone(), nil
}

// Get returns a copy of an object.
func (e *Engine) Get(id uuid.UUID) (*models.SpatialObject, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	obj, err := e.object(id)
	if err != nil {
		return nil, err
	}
	return obj.Clone(), nil
}

// ListFilter selects objects. Zero fields match every object.
type ListFilter struct {
	Type       models.ObjectType
	System     models.SystemType
	BuildingID string
	FloorID    string
	RoomID     string
}

func (f ListFilter) match(obj *models.SpatialObject) bool {
	return (f.Type == "" || obj.Type == f.Type) &&
		(f.System == "" || obj.SystemType() == f.System) &&
		(f.BuildingID == "" || obj.BuildingID == f.BuildingID) &&
		(f.FloorID == "" || obj.FloorID == f.FloorID) &&
		(f.RoomID == "" || obj.RoomID == f.RoomID)
}

// List returns copies of the objects matching the filter, oldest first.
func (e *Engine) List(f ListFilter) []*models.SpatialObject {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var res []*models.SpatialObject
	for _, obj := range e.objects {
		if f.match(obj) {
			res = append(res, obj.Clone())
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return bytes.Compare(res[i].ID[:], res[j].ID[:]) < 0
	})
	return res
}

// UpdateRequest describes the changes to apply to an object. Nil fields are
// left untouched.
type UpdateRequest struct {
	Actor string

	Name        *string
	Geometry    *models.Geometry
	Precision   *models.PrecisionLevel
	BuildingID  *string
	FloorID     *string
	RoomID      *string
	InstallCost *float64

	// Merged into the object properties. A nil value removes the property.
	Properties map[string]any

	// Evaluates the object constraints before applying the changes.
	Validate bool
}

// Update applies changes to an object and reindexes it. The version of the
// object is incremented. When validation fails, the object is left as it
// was.
func (e *Engine) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.SpatialObject, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Update",
		trace.WithAttributes(
			attribute.String("object_id", id.String()),
			attribute.String("actor", req.Actor),
		),
	)
	defer span.End()

	var evs events
	e.mutex.Lock()
	obj, err := e.update(ctx, id, req, &evs)
	e.mutex.Unlock()
	e.dispatch(ctx, evs)

	instrumentOperation("update", err)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}

	logs.WithTag("object_id", id).
		WithTag("version", obj.Version).
		Debug("object updated")
	return obj, nil
}

func (e *Engine) update(ctx context.Context, id uuid.UUID, req UpdateRequest, evs *events) (*models.SpatialObject, error) {
	obj, err := e.mutable(id, req.Actor)
	if err != nil {
		return nil, err
	}

	next := obj.Clone()
	if err := req.apply(next); err != nil {
		return nil, err
	}
	next.Version = obj.Version + 1
	next.UpdatedAt = e.now()

	if req.Validate {
		if err := e.check(ctx, next, e.objectConstraints(id)); err != nil {
			return nil, err
		}
	}

	if _, err := e.conflicts.Replace(ctx, next); err != nil {
		return nil, err
	}

	e.log(operation{kind: opUpdate, object: obj.Clone()})
	e.objects[id] = next
	e.updated++
	evs.objectUpdated(next)
	return next.Clone(), nil
}

func (r UpdateRequest) apply(obj *models.SpatialObject) error {
	if r.Name != nil {
		obj.Name = *r.Name
	}

	if r.Geometry != nil {
		if err := validateGeometry(obj.ID, *r.Geometry); err != nil {
			return err
		}
		obj.SetGeometry(*r.Geometry)
	}

	if r.Precision != nil {
		if !r.Precision.Valid() {
			return models.NewValidationError(obj.ID, []models.Violation{{
				Type:     "request",
				Message:  "unknown precision level " + string(*r.Precision),
				Severity: models.SeverityError,
			}})
		}
		obj.Precision = *r.Precision
	}

	if r.InstallCost != nil {
		if *r.InstallCost < 0 {
			return models.NewValidationError(obj.ID, []models.Violation{{
				Type:     "request",
				Message:  "install cost must not be negative",
				Severity: models.SeverityError,
			}})
		}
		obj.InstallCost = *r.InstallCost
	}

	if r.BuildingID != nil {
		obj.BuildingID = *r.BuildingID
	}
	if r.FloorID != nil {
		obj.FloorID = *r.FloorID
	}
	if r.RoomID != nil {
		obj.RoomID = *r.RoomID
	}

	if len(r.Properties) != 0 && obj.Properties == nil {
		obj.Properties = make(map[string]any, len(r.Properties))
	}
	for k, v := range r.Properties {
		if v == nil {
			delete(obj.Properties, k)
			continue
		}
		obj.Properties[k] = v
	}
	return nil
}

type DeleteOptions struct {
	Actor string

	// Deletes the object even when other objects depend on it.
	Force bool

	// Also deletes the objects depending on the object.
	Cascade bool
}

// Delete unindexes an object, deletes its relationships and constraints,
// and removes it. Objects depending on it block the deletion unless forced
// or cascaded.
func (e *Engine) Delete(ctx context.Context, id uuid.UUID, o DeleteOptions) error {
	ctx, span := tracer.Start(ctx, "lifecycle.Delete",
		trace.WithAttributes(
			attribute.String("object_id", id.String()),
			attribute.Bool("cascade", o.Cascade),
			attribute.Bool("force", o.Force),
		),
	)
	defer span.End()

	var evs events
	e.mutex.Lock()
	err := e.delete(ctx, id, o, &evs)
	e.mutex.Unlock()
	e.dispatch(ctx, evs)

	instrumentOperation("delete", err)
	endSpan(span, err)
	if err != nil {
		return err
	}

	logs.WithTag("object_id", id).
		WithTag("cascade", o.Cascade).
		Debug("object deleted")
	return nil
}

func (e *Engine) delete(ctx context.Context, id uuid.UUID, o DeleteOptions, evs *events) error {
	if _, err := e.mutable(id, o.Actor); err != nil {
		return err
	}

	dependents := e.dependents(id)
	if len(dependents) != 0 && !o.Force && !o.Cascade {
		return models.NewDependencyError(id, dependents)
	}

	targets := []uuid.UUID{id}
	if o.Cascade {
		targets = e.cascade(id)
		for _, tid := range targets[1:] {
			if _, err := e.mutable(tid, o.Actor); err != nil {
				return err
			}
		}
	}

	// Removals are logged in a frame of their own, undone when the cascade
	// fails halfway.
	tx := &transaction{name: "delete", startedAt: e.now()}
	e.transactions = append(e.transactions, tx)

	var removals events
	deleted := e.deleted
	removed := make(map[uuid.UUID]struct{}, len(targets))
	err := e.remove(ctx, id, o.Cascade, removed, &removals)
	e.transactions = e.transactions[:len(e.transactions)-1]

	if err != nil {
		var discarded events
		if undoErr := e.undo(ctx, tx, &discarded); undoErr != nil {
			logs.Warn(undoErr)
		}
		e.deleted = deleted
		return err
	}

	if len(e.transactions) != 0 {
		parent := e.transactions[len(e.transactions)-1]
		parent.ops = append(parent.ops, tx.ops...)
	}
	*evs = append(*evs, removals...)
	return nil
}

// remove deletes an object in order: index entries, relationships,
// constraints, dependents when cascading, then the record itself.
func (e *Engine) remove(ctx context.Context, id uuid.UUID, cascade bool, removed map[uuid.UUID]struct{}, evs *events) error {
	removed[id] = struct{}{}
	obj := e.objects[id]
	dependents := e.dependents(id)

	if err := e.conflicts.Remove(ctx, id); err != nil {
		return err
	}

	op := operation{kind: opDelete, object: obj.Clone()}
	for _, rid := range append([]uuid.UUID(nil), obj.RelationshipIDs...) {
		if r, ok := e.relationships[rid]; ok {
			op.relationships = append(op.relationships, r.Clone())
			e.unlink(r, evs)
		}
	}
	for _, c := range e.objectConstraints(id) {
		op.constraints = append(op.constraints, c.Clone())
		e.detach(c)
	}
	e.log(op)

	if cascade {
		for _, dep := range dependents {
			if _, ok := removed[dep]; ok {
				continue
			}
			if _, ok := e.objects[dep]; !ok {
				continue
			}
			if err := e.remove(ctx, dep, cascade, removed, evs); err != nil {
				return err
			}
		}
	}

	delete(e.objects, id)
	e.deleted++
	instrumentObjects(len(e.objects))
	evs.objectDeleted(id)
	return nil
}

// dependents returns the objects depending on id, in relationship order.
func (e *Engine) dependents(id uuid.UUID) []uuid.UUID {
	obj, ok := e.objects[id]
	if !ok {
		return nil
	}

	var res []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, rid := range obj.RelationshipIDs {
		r, ok := e.relationships[rid]
		if !ok {
			continue
		}
		dep, ok := r.Dependent(id)
		if !ok {
			continue
		}
		if _, ok := seen[dep]; !ok {
			seen[dep] = struct{}{}
			res = append(res, dep)
		}
	}
	return res
}

// cascade returns id followed by every object transitively depending on it.
func (e *Engine) cascade(id uuid.UUID) []uuid.UUID {
	res := []uuid.UUID{id}
	seen := map[uuid.UUID]struct{}{id: {}}
	for i := 0; i < len(res); i++ {
		for _, dep := range e.dependents(res[i]) {
			if _, ok := seen[dep]; !ok {
				seen[dep] = struct{}{}
				res = append(res, dep)
			}
		}
	}
	return res
}

// LockObject gives holder the exclusive right to mutate an object. A zero
// duration uses the engine default. Locking an object already locked by
// holder renews the lock.
func (e *Engine) LockObject(ctx context.Context, id uuid.UUID, holder string, d time.Duration) (*models.SpatialObject, error) {
	if holder == "" {
		return nil, models.NewValidationError(id, []models.Violation{{
			Type:     "request",
			Message:  "lock holder is required",
			Severity: models.SeverityError,
		}})
	}
	if d <= 0 {
		d = e.lockDuration
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	obj, err := e.mutable(id, holder)
	if err != nil {
		instrumentOperation("lock", err)
		return nil, err
	}

	obj.Lock = &models.Lock{
		Holder:     holder,
		AcquiredAt: e.now(),
		Duration:   d,
	}
	instrumentOperation("lock", nil)

	logs.WithTag("object_id", id).
		WithTag("holder", holder).
		WithTag("duration", d).
		Debug("object locked")
	return obj.Clone(), nil
}

// UnlockObject releases the lock held by holder. Unlocking an object that is
// not locked is a no-op.
func (e *Engine) UnlockObject(ctx context.Context, id uuid.UUID, holder string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	obj, err := e.mutable(id, holder)
	if err != nil {
		instrumentOperation("unlock", err)
		return err
	}

	obj.Lock = nil
	instrumentOperation("unlock", nil)
	return nil
}
