package lifecycle

import (
	"context"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AddConstraint attaches a constraint to an object. The constraint is not
// evaluated until the object is validated.
func (e *Engine) AddConstraint(ctx context.Context, objectID uuid.UUID, spec ConstraintSpec) (*models.Constraint, error) {
	if err := validateRequest(objectID, spec); err != nil {
		instrumentOperation("add_constraint", err)
		return nil, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, err := e.object(objectID); err != nil {
		instrumentOperation("add_constraint", err)
		return nil, err
	}

	c := spec.constraint(objectID).Clone()
	e.attach(c)
	e.log(operation{kind: opAddConstraint, constraint: c.Clone()})
	instrumentOperation("add_constraint", nil)

	logs.WithTag("constraint_id", c.ID).
		WithTag("object_id", objectID).
		WithTag("type", c.Type).
		Debug("constraint added")
	return c.Clone(), nil
}

func (e *Engine) RemoveConstraint(ctx context.Context, id uuid.UUID) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	c, ok := e.constraints[id]
	if !ok {
		err := models.NewNotFoundError("constraint", id)
		instrumentOperation("remove_constraint", err)
		return err
	}

	e.log(operation{kind: opRemoveConstraint, constraint: c.Clone()})
	e.detach(c)
	instrumentOperation("remove_constraint", nil)
	return nil
}

// Constraints returns the constraints attached to an object.
func (e *Engine) Constraints(objectID uuid.UUID) ([]*models.Constraint, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, ok := e.objects[objectID]; !ok {
		return nil, models.NewNotFoundError("object", objectID)
	}

	constraints := e.objectConstraints(objectID)
	res := make([]*models.Constraint, len(constraints))
	for i, c := range constraints {
		res[i] = c.Clone()
	}
	return res, nil
}

// ValidateConstraints evaluates the active constraints of an object. A
// failing validation is reported in the result, not as an error.
func (e *Engine) ValidateConstraints(ctx context.Context, objectID uuid.UUID) (models.ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.ValidateConstraints",
		trace.WithAttributes(
			attribute.String("object_id", objectID.String()),
		),
	)
	defer span.End()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	obj, err := e.object(objectID)
	if err != nil {
		endSpan(span, err)
		return models.ValidationResult{}, err
	}

	res, err := e.evaluate(ctx, obj, e.objectConstraints(objectID))
	if err != nil {
		res = models.ValidationResult{
			Violations: []models.Violation{{
				Type:     "evaluator",
				Message:  err.Error(),
				Severity: models.SeverityError,
			}},
		}
	}

	span.SetAttributes(
		attribute.Bool("valid", res.Valid),
		attribute.Int("violations", len(res.Violations)),
	)
	endSpan(span, nil)
	return res, nil
}

func (e *Engine) attach(c *models.Constraint) {
	if _, ok := e.constraints[c.ID]; ok {
		return
	}
	e.constraints[c.ID] = c
	e.byObject[c.ObjectID] = append(e.byObject[c.ObjectID], c.ID)
}

func (e *Engine) detach(c *models.Constraint) {
	delete(e.constraints, c.ID)

	ids := e.byObject[c.ObjectID]
	for i, id := range ids {
		if id == c.ID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(e.byObject, c.ObjectID)
		return
	}
	e.byObject[c.ObjectID] = ids
}
