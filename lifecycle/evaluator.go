package lifecycle

import (
	"context"

	"github.com/aukilabs/bygg/models"
)

// ConstraintEvaluator checks an object against its active constraints. The
// engine never interprets constraint expressions itself.
type ConstraintEvaluator interface {
	Evaluate(ctx context.Context, obj *models.SpatialObject, constraints []*models.Constraint, env map[string]any) (models.ValidationResult, error)
}

// EvaluatorFunc adapts a function to a ConstraintEvaluator.
type EvaluatorFunc func(ctx context.Context, obj *models.SpatialObject, constraints []*models.Constraint, env map[string]any) (models.ValidationResult, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, obj *models.SpatialObject, constraints []*models.Constraint, env map[string]any) (models.ValidationResult, error) {
	return f(ctx, obj, constraints, env)
}

// NopEvaluator accepts every object.
type NopEvaluator struct{}

func (NopEvaluator) Evaluate(ctx context.Context, obj *models.SpatialObject, constraints []*models.Constraint, env map[string]any) (models.ValidationResult, error) {
	return models.ValidationResult{Valid: true}, nil
}
