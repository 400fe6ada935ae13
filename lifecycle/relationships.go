package lifecycle

import (
	"context"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
)

type RelationshipRequest struct {
	From       uuid.UUID               `json:"from" validate:"required"`
	To         uuid.UUID               `json:"to" validate:"required"`
	Type       models.RelationshipType `json:"type" validate:"required,relationship_type"`
	Properties map[string]any          `json:"properties,omitempty"`

	// Checked against the locks of both ends.
	Actor string `json:"actor,omitempty"`
}

// CreateRelationship links two objects. The relationship is referenced by
// both of them.
func (e *Engine) CreateRelationship(ctx context.Context, req RelationshipRequest) (*models.Relationship, error) {
	if err := validateRequest(req.From, req); err != nil {
		instrumentOperation("create_relationship", err)
		return nil, err
	}
	if req.From == req.To {
		err := models.NewValidationError(req.From, []models.Violation{{
			Type:     "request",
			Message:  "an object cannot be related to itself",
			Severity: models.SeverityError,
		}})
		instrumentOperation("create_relationship", err)
		return nil, err
	}

	var evs events
	e.mutex.Lock()
	r, err := e.createRelationship(req, &evs)
	e.mutex.Unlock()
	e.dispatch(ctx, evs)

	instrumentOperation("create_relationship", err)
	if err != nil {
		return nil, err
	}

	logs.WithTag("relationship_id", r.ID).
		WithTag("from", r.From).
		WithTag("to", r.To).
		WithTag("type", r.Type).
		Debug("relationship created")
	return r, nil
}

func (e *Engine) createRelationship(req RelationshipRequest, evs *events) (*models.Relationship, error) {
	for _, id := range []uuid.UUID{req.From, req.To} {
		if _, err := e.mutable(id, req.Actor); err != nil {
			return nil, err
		}
	}

	r := &models.Relationship{
		ID:         models.NewID(),
		From:       req.From,
		To:         req.To,
		Type:       req.Type,
		Properties: req.Properties,
		CreatedAt:  e.now(),
	}

	e.link(r.Clone(), evs)
	e.log(operation{kind: opCreateRelationship, relationship: r.Clone()})
	return r.Clone(), nil
}

// GetRelationships returns the relationships of an object, in creation
// order.
func (e *Engine) GetRelationships(id uuid.UUID) ([]*models.Relationship, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	obj, ok := e.objects[id]
	if !ok {
		return nil, models.NewNotFoundError("object", id)
	}

	res := make([]*models.Relationship, 0, len(obj.RelationshipIDs))
	for _, rid := range obj.RelationshipIDs {
		if r, ok := e.relationships[rid]; ok {
			res = append(res, r.Clone())
		}
	}
	return res, nil
}

// GetRelationship returns a copy of a relationship.
func (e *Engine) GetRelationship(id uuid.UUID) (*models.Relationship, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	r, ok := e.relationships[id]
	if !ok {
		return nil, models.NewNotFoundError("relationship", id)
	}
	return r.Clone(), nil
}

// DeleteRelationship unlinks two objects.
func (e *Engine) DeleteRelationship(ctx context.Context, id uuid.UUID, actor string) error {
	var evs events
	e.mutex.Lock()
	err := e.deleteRelationship(id, actor, &evs)
	e.mutex.Unlock()
	e.dispatch(ctx, evs)

	instrumentOperation("delete_relationship", err)
	return err
}

func (e *Engine) deleteRelationship(id uuid.UUID, actor string, evs *events) error {
	r, ok := e.relationships[id]
	if !ok {
		return models.NewNotFoundError("relationship", id)
	}

	for _, oid := range []uuid.UUID{r.From, r.To} {
		if _, ok := e.objects[oid]; !ok {
			continue
		}
		if _, err := e.mutable(oid, actor); err != nil {
			return err
		}
	}

	e.log(operation{kind: opDeleteRelationship, relationship: r.Clone()})
	e.unlink(r, evs)
	return nil
}

// link stores a relationship and references it from both ends.
func (e *Engine) link(r *models.Relationship, evs *events) {
	e.relationships[r.ID] = r
	for _, id := range []uuid.UUID{r.From, r.To} {
		if obj, ok := e.objects[id]; ok && !obj.HasRelationship(r.ID) {
			obj.RelationshipIDs = append(obj.RelationshipIDs, r.ID)
		}
	}
	evs.relationshipCreated(r)
}

// unlink removes a relationship and its references.
func (e *Engine) unlink(r *models.Relationship, evs *events) {
	delete(e.relationships, r.ID)
	for _, id := range []uuid.UUID{r.From, r.To} {
		if obj, ok := e.objects[id]; ok {
			obj.RemoveRelationship(r.ID)
		}
	}
	evs.relationshipDeleted(r)
}

// relink restores a relationship when both of its ends exist.
func (e *Engine) relink(r *models.Relationship, evs *events) error {
	if _, ok := e.relationships[r.ID]; ok {
		return nil
	}
	for _, id := range []uuid.UUID{r.From, r.To} {
		if _, ok := e.objects[id]; !ok {
			return errors.New("relationship end is missing").
				WithType(models.ErrTypeNotFound).
				WithTag("relationship_id", r.ID).
				WithTag("object_id", id)
		}
	}
	e.link(r.Clone(), evs)
	return nil
}
