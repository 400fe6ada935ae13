package models

import (
	"time"

	"github.com/google/uuid"
)

type RelationshipType string

const (
	RelationshipConnectedTo RelationshipType = "connected_to"
	RelationshipMountedOn   RelationshipType = "mounted_on"
	RelationshipContainedIn RelationshipType = "contained_in"
	RelationshipAdjacentTo  RelationshipType = "adjacent_to"
	RelationshipSupports    RelationshipType = "supports"
	RelationshipDependsOn   RelationshipType = "depends_on"
	RelationshipFeeds       RelationshipType = "feeds"
	RelationshipControls    RelationshipType = "controls"
	RelationshipPartOf      RelationshipType = "part_of"
	RelationshipIntersects  RelationshipType = "intersects"
)

func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipConnectedTo,
		RelationshipMountedOn,
		RelationshipContainedIn,
		RelationshipAdjacentTo,
		RelationshipSupports,
		RelationshipDependsOn,
		RelationshipFeeds,
		RelationshipControls,
		RelationshipPartOf,
		RelationshipIntersects:
		return true
	default:
		return false
	}
}

// Relationship is a directed typed edge between two objects.
type Relationship struct {
	ID         uuid.UUID        `json:"id"`
	From       uuid.UUID        `json:"from"`
	To         uuid.UUID        `json:"to"`
	Type       RelationshipType `json:"type"`
	Properties map[string]any   `json:"properties,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Dependent returns the object that depends on id through this relationship,
// if any. A depends_on or mounted_on edge makes From depend on To, a supports
// edge makes To depend on From.
func (r *Relationship) Dependent(id uuid.UUID) (uuid.UUID, bool) {
	switch r.Type {
	case RelationshipDependsOn, RelationshipMountedOn:
		if r.To == id && r.From != id {
			return r.From, true
		}
	case RelationshipSupports:
		if r.From == id && r.To != id {
			return r.To, true
		}
	}
	return uuid.Nil, false
}

// Other returns the endpoint opposite to id.
func (r *Relationship) Other(id uuid.UUID) uuid.UUID {
	if r.From == id {
		return r.To
	}
	return r.From
}

func (r *Relationship) Clone() *Relationship {
	c := *r
	if r.Properties != nil {
		c.Properties = make(map[string]any, len(r.Properties))
		for k, v := range r.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}
