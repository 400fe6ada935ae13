package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
	opCreateRelationship
	opDeleteRelationship
	opAddConstraint
	opRemoveConstraint
)

// operation is an entry of a transaction log, holding what is needed to undo
// a change.
type operation struct {
	kind opKind

	// The created object, or the object as it was before an update or a
	// deletion.
	object        *models.SpatialObject
	relationships []*models.Relationship
	constraints   []*models.Constraint

	relationship *models.Relationship
	constraint   *models.Constraint
}

type transaction struct {
	name      string
	startedAt time.Time
	ops       []operation
}

// log appends an operation to the innermost transaction, if any. It must be
// called with the engine mutex held.
func (e *Engine) log(op operation) {
	if len(e.transactions) == 0 {
		return
	}
	tx := e.transactions[len(e.transactions)-1]
	tx.ops = append(tx.ops, op)
}

// BeginTransaction opens a transaction nested in the current one, if any.
// Until committed or rolled back, every change made through the engine
// belongs to it.
func (e *Engine) BeginTransaction(ctx context.Context, name string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if name == "" {
		name = fmt.Sprintf("transaction-%d", len(e.transactions)+1)
	}
	e.transactions = append(e.transactions, &transaction{
		name:      name,
		startedAt: e.now(),
	})
	instrumentTransaction("begin")

	logs.WithTag("transaction", name).
		WithTag("depth", len(e.transactions)).
		Debug("transaction started")
}

// TransactionDepth returns the number of open transactions.
func (e *Engine) TransactionDepth() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.transactions)
}

// CommitTransaction validates the objects created or updated in the
// innermost transaction and closes it. When an object fails validation, the
// transaction is rolled back and an error is returned. The changes of a
// nested transaction become part of its parent.
func (e *Engine) CommitTransaction(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "lifecycle.CommitTransaction")
	defer span.End()

	var evs events
	e.mutex.Lock()
	err := e.commit(ctx, &evs)
	e.mutex.Unlock()
	e.dispatch(ctx, evs)

	endSpan(span, err)
	return err
}

func (e *Engine) commit(ctx context.Context, evs *events) error {
	tx, err := e.pop()
	if err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("transaction", tx.name),
		attribute.Int("operations", len(tx.ops)),
	)

	if err := e.validateTransaction(ctx, tx); err != nil {
		if undoErr := e.undo(ctx, tx, evs); undoErr != nil {
			logs.Warn(undoErr)
		}
		instrumentTransaction("failed")
		return errors.New("transaction commit failed").
			WithType(models.ErrTypeTransactionFailed).
			WithTag("transaction", tx.name).
			Wrap(err)
	}

	if len(e.transactions) != 0 {
		parent := e.transactions[len(e.transactions)-1]
		parent.ops = append(parent.ops, tx.ops...)
	}
	instrumentTransaction("commit")

	logs.WithTag("transaction", tx.name).
		WithTag("operations", len(tx.ops)).
		WithTag("duration", e.now().Sub(tx.startedAt)).
		Debug("transaction committed")
	return nil
}

func (e *Engine) validateTransaction(ctx context.Context, tx *transaction) error {
	seen := make(map[uuid.UUID]struct{})
	for _, op := range tx.ops {
		if op.kind != opCreate && op.kind != opUpdate {
			continue
		}

		id := op.object.ID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		obj, ok := e.objects[id]
		if !ok {
			continue
		}
		if err := e.check(ctx, obj, e.objectConstraints(id)); err != nil {
			return err
		}
	}
	return nil
}

// RollbackTransaction undoes the changes of the innermost transaction, most
// recent first, and closes it.
func (e *Engine) RollbackTransaction(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "lifecycle.RollbackTransaction")
	defer span.End()

	var evs events
	e.mutex.Lock()
	tx, err := e.pop()
	if err == nil {
		err = e.undo(ctx, tx, &evs)
		instrumentTransaction("rollback")
	}
	e.mutex.Unlock()
	e.dispatch(ctx, evs)

	endSpan(span, err)
	return err
}

func (e *Engine) pop() (*transaction, error) {
	if len(e.transactions) == 0 {
		return nil, errors.New("no transaction in progress").
			WithType(models.ErrTypeNoTransaction)
	}

	tx := e.transactions[len(e.transactions)-1]
	e.transactions = e.transactions[:len(e.transactions)-1]
	return tx, nil
}

// undo reverts the operations of a transaction. It goes on after a failing
// operation and returns the first failure.
func (e *Engine) undo(ctx context.Context, tx *transaction, evs *events) error {
	var first error
	for i := len(tx.ops) - 1; i >= 0; i-- {
		if err := e.undoOperation(ctx, tx.ops[i], evs); err != nil {
			logs.Warn(errors.New("undoing transaction operation failed").
				WithTag("transaction", tx.name).
				WithTag("operation", tx.ops[i].kind).
				Wrap(err))
			if first == nil {
				first = err
			}
		}
	}

	if first != nil {
		return errors.New("transaction rollback incomplete").
			WithType(models.ErrTypeTransactionFailed).
			WithTag("transaction", tx.name).
			Wrap(first)
	}

	logs.WithTag("transaction", tx.name).
		WithTag("operations", len(tx.ops)).
		Debug("transaction rolled back")
	return nil
}

func (e *Engine) undoOperation(ctx context.Context, op operation, evs *events) error {
	switch op.kind {
	case opCreate:
		return e.undoCreate(ctx, op.object.ID, evs)

	case opUpdate:
		current, ok := e.objects[op.object.ID]
		if !ok {
			return models.NewNotFoundError("object", op.object.ID)
		}

		restored := op.object.Clone()
		restored.Version = current.Version + 1
		restored.UpdatedAt = e.now()
		restored.Lock = current.Lock
		restored.RelationshipIDs = append([]uuid.UUID(nil), current.RelationshipIDs...)
		if _, err := e.conflicts.Replace(ctx, restored); err != nil {
			return err
		}
		e.objects[restored.ID] = restored
		evs.objectUpdated(restored)
		return nil

	case opDelete:
		restored := op.object.Clone()
		restored.Version++
		restored.UpdatedAt = e.now()
		restored.RelationshipIDs = nil
		if _, err := e.conflicts.Add(ctx, restored); err != nil {
			return err
		}
		e.objects[restored.ID] = restored
		instrumentObjects(len(e.objects))
		evs.objectCreated(restored)

		for _, c := range op.constraints {
			e.attach(c.Clone())
		}
		var first error
		for _, r := range op.relationships {
			if err := e.relink(r, evs); err != nil && first == nil {
				first = err
			}
		}
		return first

	case opCreateRelationship:
		if r, ok := e.relationships[op.relationship.ID]; ok {
			e.unlink(r, evs)
		}
		return nil

	case opDeleteRelationship:
		return e.relink(op.relationship, evs)

	case opAddConstraint:
		if c, ok := e.constraints[op.constraint.ID]; ok {
			e.detach(c)
		}
		return nil

	case opRemoveConstraint:
		e.attach(op.constraint.Clone())
		return nil

	default:
		return errors.New("unknown transaction operation").
			WithTag("operation", op.kind)
	}
}

func (e *Engine) undoCreate(ctx context.Context, id uuid.UUID, evs *events) error {
	obj, ok := e.objects[id]
	if !ok {
		return nil
	}

	if err := e.conflicts.Remove(ctx, id); err != nil {
		return err
	}
	for _, rid := range append([]uuid.UUID(nil), obj.RelationshipIDs...) {
		if r, ok := e.relationships[rid]; ok {
			e.unlink(r, evs)
		}
	}
	for _, c := range e.objectConstraints(id) {
		e.detach(c)
	}

	delete(e.objects, id)
	instrumentObjects(len(e.objects))
	evs.objectDeleted(id)
	return nil
}
