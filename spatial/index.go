// Package spatial defines the contracts shared by the spatial indices.
package spatial

import (
	"github.com/aukilabs/bygg/models"
	"github.com/google/uuid"
)

// Index is a spatial partition holding read-only object snapshots. Callers
// must not mutate an object after inserting it.
type Index interface {
	// Inserts an object. Inserting an already indexed id returns an error.
	Insert(obj *models.SpatialObject) error

	// Removes an object by id and reports whether it was indexed.
	Remove(id uuid.UUID) bool

	Contains(id uuid.UUID) bool
	Get(id uuid.UUID) (*models.SpatialObject, bool)
	Len() int
	All() []*models.SpatialObject

	// Rebuilds the partition from scratch to improve locality.
	Optimize()

	DebugInfo() DebugInfo
}

// VolumeIndex answers 3D queries.
type VolumeIndex interface {
	Index
	Query(box models.Box3) []*models.SpatialObject
	QueryPoint(p models.Vector3) []*models.SpatialObject
	Nearest(p models.Vector3, radius float64, limit int) []Neighbor
	FindConflicts(obj *models.SpatialObject, tolerance float64) []Candidate
}

// PlanIndex answers plan view (x, y) queries.
type PlanIndex interface {
	Index
	Search(box models.Box2) []*models.SpatialObject
	SearchPoint(x, y float64) []*models.SpatialObject
	Nearest(x, y float64, k int, maxDistance float64) []Neighbor
	FindConflicts(obj *models.SpatialObject, tolerance float64) []Candidate
}

type DebugInfo struct {
	Kind    string `json:"kind"`
	Objects int    `json:"objects"`
	Entries int    `json:"entries"`
	Nodes   int    `json:"nodes"`
	Leaves  int    `json:"leaves"`
	Depth   int    `json:"depth"`
}

// Candidate is an object an index flags as potentially conflicting.
type Candidate struct {
	Object *models.SpatialObject
	Kind   models.IndexKind
}

type Neighbor struct {
	Object   *models.SpatialObject
	Distance float64
}

// ClassifyByPriority compares the system priorities of a subject and a
// candidate.
func ClassifyByPriority(subject, candidate *models.SpatialObject) models.IndexKind {
	sp, cp := subject.Priority(), candidate.Priority()
	switch {
	case sp == cp:
		return models.IndexKindSameSystem
	case cp < sp:
		return models.IndexKindHigherPriority
	default:
		return models.IndexKindLowerPriority
	}
}
