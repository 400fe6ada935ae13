package models

import (
	"time"

	"github.com/google/uuid"
)

// Lock is an exclusive edit lock held on an object.
type Lock struct {
	Holder     string        `json:"holder"`
	AcquiredAt time.Time     `json:"acquired_at"`
	Duration   time.Duration `json:"duration"`
}

// Expired reports whether the lock is older than its duration. A lock without
// duration never expires.
func (l *Lock) Expired(now time.Time) bool {
	if l == nil {
		return true
	}
	return l.Duration > 0 && now.Sub(l.AcquiredAt) > l.Duration
}

// SpatialObject is a placed building component. Objects held by the engines
// are never mutated in place by callers: the lifecycle engine hands out
// clones.
type SpatialObject struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name,omitempty"`
	Type      ObjectType     `json:"type"`
	Geometry  Geometry       `json:"geometry"`
	Bounds    Box3           `json:"bounds"`
	Precision PrecisionLevel `json:"precision"`
	Version   uint64         `json:"version"`

	BuildingID string `json:"building_id,omitempty"`
	FloorID    string `json:"floor_id,omitempty"`
	RoomID     string `json:"room_id,omitempty"`

	// Installation cost override. Zero means the type base cost.
	InstallCost float64 `json:"install_cost,omitempty"`

	Properties      map[string]any `json:"properties,omitempty"`
	Lock            *Lock          `json:"lock,omitempty"`
	RelationshipIDs []uuid.UUID    `json:"relationship_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *SpatialObject) SystemType() SystemType {
	return o.Type.SystemType()
}

func (o *SpatialObject) Priority() int {
	return o.Type.Priority()
}

func (o *SpatialObject) Tolerance() float64 {
	return o.Precision.Tolerance()
}

func (o *SpatialObject) PlanBounds() Box2 {
	return o.Bounds.Plan()
}

func (o *SpatialObject) Cost() float64 {
	if o.InstallCost > 0 {
		return o.InstallCost
	}
	return o.Type.BaseCost()
}

// SetGeometry replaces the geometry and recomputes the bounding box.
func (o *SpatialObject) SetGeometry(g Geometry) {
	o.Geometry = g
	o.Bounds = g.BoundingBox()
}

// LockedFor reports whether a mutation by actor must be rejected.
func (o *SpatialObject) LockedFor(actor string, now time.Time) bool {
	if o.Lock == nil || o.Lock.Expired(now) {
		return false
	}
	return o.Lock.Holder != actor
}

func (o *SpatialObject) HasRelationship(id uuid.UUID) bool {
	for _, rid := range o.RelationshipIDs {
		if rid == id {
			return true
		}
	}
	return false
}

func (o *SpatialObject) RemoveRelationship(id uuid.UUID) {
	for i, rid := range o.RelationshipIDs {
		if rid == id {
			o.RelationshipIDs = append(o.RelationshipIDs[:i], o.RelationshipIDs[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy of the object.
func (o *SpatialObject) Clone() *SpatialObject {
	c := *o

	if o.Properties != nil {
		c.Properties = make(map[string]any, len(o.Properties))
		for k, v := range o.Properties {
			c.Properties[k] = v
		}
	}

	if o.Lock != nil {
		l := *o.Lock
		c.Lock = &l
	}

	if o.RelationshipIDs != nil {
		c.RelationshipIDs = append([]uuid.UUID(nil), o.RelationshipIDs...)
	}
	return &c
}
