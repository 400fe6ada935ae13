package lifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate *validator.Validate

func init() {
	v, err := newValidator()
	if err != nil {
		panic(err)
	}
	validate = v
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()

	validations := map[string]validator.Func{
		"object_type": func(fl validator.FieldLevel) bool {
			return models.ObjectType(fl.Field().String()).Valid()
		},
		"precision": func(fl validator.FieldLevel) bool {
			p := fl.Field().String()
			return p == "" || models.PrecisionLevel(p).Valid()
		},
		"relationship_type": func(fl validator.FieldLevel) bool {
			return models.RelationshipType(fl.Field().String()).Valid()
		},
	}
	for tag, fn := range validations {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, errors.New("registering validation failed").
				WithTag("tag", tag).
				Wrap(err)
		}
	}
	return v, nil
}

// CreateRequest describes an object to create.
type CreateRequest struct {
	// Optional. A random id is assigned when zero.
	ID        uuid.UUID             `json:"id,omitempty"`
	Name      string                `json:"name,omitempty" validate:"max=256"`
	Type      models.ObjectType     `json:"type" validate:"required,object_type"`
	Geometry  models.Geometry       `json:"geometry"`
	Precision models.PrecisionLevel `json:"precision,omitempty" validate:"precision"`

	BuildingID string `json:"building_id,omitempty" validate:"max=128"`
	FloorID    string `json:"floor_id,omitempty" validate:"max=128"`
	RoomID     string `json:"room_id,omitempty" validate:"max=128"`

	InstallCost float64        `json:"install_cost,omitempty" validate:"gte=0"`
	Properties  map[string]any `json:"properties,omitempty"`

	Relationships []RelationshipSpec `json:"relationships,omitempty" validate:"dive"`
	Constraints   []ConstraintSpec   `json:"constraints,omitempty" validate:"dive"`

	// The actor creating the object. Initial relationships are checked
	// against the locks of their targets with it.
	Actor string `json:"actor,omitempty"`
}

// RelationshipSpec is a relationship created together with an object.
type RelationshipSpec struct {
	Target uuid.UUID               `json:"target" validate:"required"`
	Type   models.RelationshipType `json:"type" validate:"required,relationship_type"`

	// When set, the relationship goes from the target to the new object.
	Incoming   bool           `json:"incoming,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ConstraintSpec is a constraint to attach to an object.
type ConstraintSpec struct {
	Type       string          `json:"type" validate:"required,max=64"`
	Expression string          `json:"expression" validate:"required"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Severity   models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=error warning info"`
	Inactive   bool            `json:"inactive,omitempty"`
}

func (s ConstraintSpec) constraint(objectID uuid.UUID) *models.Constraint {
	severity := s.Severity
	if severity == "" {
		severity = models.SeverityError
	}
	return &models.Constraint{
		ID:         models.NewID(),
		ObjectID:   objectID,
		Type:       s.Type,
		Expression: s.Expression,
		Parameters: s.Parameters,
		Severity:   severity,
		Active:     !s.Inactive,
	}
}

// ObjectSupplier turns creation requests into fully formed objects.
type ObjectSupplier interface {
	Build(ctx context.Context, req CreateRequest) (*models.SpatialObject, error)
}

// DefaultSupplier validates requests and builds in memory objects.
type DefaultSupplier struct {
	Now func() time.Time
}

func (s DefaultSupplier) Build(ctx context.Context, req CreateRequest) (*models.SpatialObject, error) {
	id := req.ID
	if id == uuid.Nil {
		id = models.NewID()
	}

	if err := validateRequest(id, req); err != nil {
		return nil, err
	}
	if err := validateGeometry(id, req.Geometry); err != nil {
		return nil, err
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	precision := req.Precision
	if precision == "" {
		precision = models.PrecisionStandard
	}

	obj := &models.SpatialObject{
		ID:          id,
		Name:        req.Name,
		Type:        req.Type,
		Precision:   precision,
		Version:     1,
		BuildingID:  req.BuildingID,
		FloorID:     req.FloorID,
		RoomID:      req.RoomID,
		InstallCost: req.InstallCost,
		Properties:  req.Properties,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	obj.SetGeometry(req.Geometry)
	return obj.Clone(), nil
}

func validateRequest(id uuid.UUID, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return models.NewValidationError(id, []models.Violation{{
			Type:     "request",
			Message:  err.Error(),
			Severity: models.SeverityError,
		}})
	}

	violations := make([]models.Violation, len(fieldErrs))
	for i, fe := range fieldErrs {
		msg := fmt.Sprintf("%s fails the %s rule", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += " " + fe.Param()
		}
		violations[i] = models.Violation{
			Type:     "request",
			Message:  msg,
			Severity: models.SeverityError,
		}
	}
	return models.NewValidationError(id, violations)
}

func validateGeometry(id uuid.UUID, g models.Geometry) error {
	if err := g.Validate(); err != nil {
		return models.NewValidationError(id, []models.Violation{{
			Type:     "geometry",
			Message:  err.Error(),
			Severity: models.SeverityError,
		}})
	}
	return nil
}
