package lifecycle

import (
	"context"
	"fmt"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
)

// Listener is notified of the changes made through an engine. Notifications
// are delivered after the engine releases its lock, in the order the changes
// were made. The given values are copies.
type Listener interface {
	OnObjectCreated(ctx context.Context, obj *models.SpatialObject)
	OnObjectUpdated(ctx context.Context, obj *models.SpatialObject)
	OnObjectDeleted(ctx context.Context, id uuid.UUID)
	OnRelationshipCreated(ctx context.Context, r *models.Relationship)
	OnRelationshipDeleted(ctx context.Context, r *models.Relationship)
}

// NopListener ignores every notification. Embed it to implement only the
// notifications of interest.
type NopListener struct{}

func (NopListener) OnObjectCreated(ctx context.Context, obj *models.SpatialObject)    {}
func (NopListener) OnObjectUpdated(ctx context.Context, obj *models.SpatialObject)    {}
func (NopListener) OnObjectDeleted(ctx context.Context, id uuid.UUID)                 {}
func (NopListener) OnRelationshipCreated(ctx context.Context, r *models.Relationship) {}
func (NopListener) OnRelationshipDeleted(ctx context.Context, r *models.Relationship) {}

type eventKind string

const (
	eventObjectCreated       eventKind = "object_created"
	eventObjectUpdated       eventKind = "object_updated"
	eventObjectDeleted       eventKind = "object_deleted"
	eventRelationshipCreated eventKind = "relationship_created"
	eventRelationshipDeleted eventKind = "relationship_deleted"
)

type event struct {
	kind         eventKind
	object       *models.SpatialObject
	id           uuid.UUID
	relationship *models.Relationship
}

// events accumulates the notifications of an operation while the engine
// lock is held.
type events []event

func (evs *events) objectCreated(obj *models.SpatialObject) {
	*evs = append(*evs, event{kind: eventObjectCreated, object: obj.Clone(), id: obj.ID})
}

func (evs *events) objectUpdated(obj *models.SpatialObject) {
	*evs = append(*evs, event{kind: eventObjectUpdated, object: obj.Clone(), id: obj.ID})
}

func (evs *events) objectDeleted(id uuid.UUID) {
	*evs = append(*evs, event{kind: eventObjectDeleted, id: id})
}

func (evs *events) relationshipCreated(r *models.Relationship) {
	*evs = append(*evs, event{kind: eventRelationshipCreated, relationship: r.Clone(), id: r.ID})
}

func (evs *events) relationshipDeleted(r *models.Relationship) {
	*evs = append(*evs, event{kind: eventRelationshipDeleted, relationship: r.Clone(), id: r.ID})
}

// AddListener registers a listener. Listeners cannot be removed.
func (e *Engine) AddListener(l Listener) {
	e.listenersMutex.Lock()
	defer e.listenersMutex.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) dispatch(ctx context.Context, evs events) {
	if len(evs) == 0 {
		return
	}

	e.listenersMutex.RLock()
	listeners := append([]Listener(nil), e.listeners...)
	e.listenersMutex.RUnlock()

	for _, ev := range evs {
		instrumentEvent(ev.kind)
		for _, l := range listeners {
			notify(ctx, l, ev)
		}
	}
}

func notify(ctx context.Context, l Listener, ev event) {
	defer func() {
		if r := recover(); r != nil {
			logs.Warn(errors.New("listener panicked").
				WithTag("event", ev.kind).
				WithTag("id", ev.id).
				Wrap(fmt.Errorf("%v", r)))
		}
	}()

	switch ev.kind {
	case eventObjectCreated:
		l.OnObjectCreated(ctx, ev.object.Clone())
	case eventObjectUpdated:
		l.OnObjectUpdated(ctx, ev.object.Clone())
	case eventObjectDeleted:
		l.OnObjectDeleted(ctx, ev.id)
	case eventRelationshipCreated:
		l.OnRelationshipCreated(ctx, ev.relationship.Clone())
	case eventRelationshipDeleted:
		l.OnRelationshipDeleted(ctx, ev.relationship.Clone())
	}
}
