package models

import (
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestObjectClassification(t *testing.T) {
	require.Equal(t, SystemStructural, ObjectStructuralColumn.SystemType())
	require.Equal(t, 1, ObjectStructuralColumn.Priority())
	require.Equal(t, 2, ObjectFireSprinkler.Priority())
	require.Equal(t, 3, ObjectElectricalOutlet.Priority())
	require.Equal(t, 4, ObjectSecurityCamera.Priority())
	require.Equal(t, 5, ObjectCeilingTile.Priority())

	require.False(t, ObjectType("teapot").Valid())
	require.Equal(t, SystemFinishes, ObjectType("teapot").SystemType())
	require.Equal(t, 5, SystemType("unknown").Priority())
}

func TestPrecisionTolerance(t *testing.T) {
	require.Equal(t, float64(1), PrecisionCoarse.Tolerance())
	require.Equal(t, 1.0/12, PrecisionStandard.Tolerance())
	require.Equal(t, 1.0/192, PrecisionFine.Tolerance())
	require.Equal(t, 1.0/768, PrecisionUltraFine.Tolerance())
	require.Equal(t, 1.0/12000, PrecisionMicro.Tolerance())
	require.Equal(t, 1.0/12000000, PrecisionNano.Tolerance())
	require.Equal(t, 1.0/12, PrecisionLevel("").Tolerance())
}

func TestLock(t *testing.T) {
	now := time.Now()

	t.Run("active lock blocks other actors", func(t *testing.T) {
		o := SpatialObject{Lock: &Lock{Holder: "userX", AcquiredAt: now, Duration: time.Minute}}
		require.True(t, o.LockedFor("userY", now))
		require.False(t, o.LockedFor("userX", now))
	})

	t.Run("expired lock does not block", func(t *testing.T) {
		o := SpatialObject{Lock: &Lock{Holder: "userX", AcquiredAt: now.Add(-time.Hour), Duration: time.Minute}}
		require.True(t, o.Lock.Expired(now))
		require.False(t, o.LockedFor("userY", now))
	})

	t.Run("lock without duration never expires", func(t *testing.T) {
		l := &Lock{Holder: "userX", AcquiredAt: now.Add(-time.Hour * 24 * 365)}
		require.False(t, l.Expired(now))
	})

	t.Run("nil lock is expired", func(t *testing.T) {
		var l *Lock
		require.True(t, l.Expired(now))
	})
}

func TestSpatialObjectClone(t *testing.T) {
	rel := NewID()
	o := &SpatialObject{
		ID:              NewID(),
		Type:            ObjectHVACDuct,
		Properties:      map[string]any{"material": "steel"},
		Lock:            &Lock{Holder: "userX"},
		RelationshipIDs: []uuid.UUID{rel},
	}
	o.SetGeometry(Geometry{Length: 2, Width: 2, Height: 2})

	c := o.Clone()
	require.Equal(t, o, c)

	c.Properties["material"] = "aluminium"
	c.Lock.Holder = "userY"
	c.RelationshipIDs[0] = NewID()

	require.Equal(t, "steel", o.Properties["material"])
	require.Equal(t, "userX", o.Lock.Holder)
	require.Equal(t, rel, o.RelationshipIDs[0])
}

func TestSpatialObjectRelationships(t *testing.T) {
	a, b := NewID(), NewID()
	o := SpatialObject{RelationshipIDs: []uuid.UUID{a, b}}

	require.True(t, o.HasRelationship(a))
	o.RemoveRelationship(a)
	require.False(t, o.HasRelationship(a))
	require.Equal(t, []uuid.UUID{b}, o.RelationshipIDs)
}

func TestSpatialObjectCost(t *testing.T) {
	o := SpatialObject{Type: ObjectElectricalOutlet}
	require.Equal(t, ObjectElectricalOutlet.BaseCost(), o.Cost())

	o.InstallCost = 42
	require.Equal(t, float64(42), o.Cost())
}

func TestRelationshipDependent(t *testing.T) {
	a, b := NewID(), NewID()

	r := Relationship{From: a, To: b, Type: RelationshipMountedOn}
	dep, ok := r.Dependent(b)
	require.True(t, ok)
	require.Equal(t, a, dep)
	_, ok = r.Dependent(a)
	require.False(t, ok)

	r = Relationship{From: a, To: b, Type: RelationshipSupports}
	dep, ok = r.Dependent(a)
	require.True(t, ok)
	require.Equal(t, b, dep)

	r = Relationship{From: a, To: b, Type: RelationshipAdjacentTo}
	_, ok = r.Dependent(b)
	require.False(t, ok)
	require.Equal(t, b, r.Other(a))
	require.Equal(t, a, r.Other(b))
}

func TestConflictSeverity(t *testing.T) {
	require.Equal(t, ConflictSeverityCritical, SeverityForPriority(1))
	require.Equal(t, ConflictSeverityCritical, SeverityForPriority(2))
	require.Equal(t, ConflictSeverityHigh, SeverityForPriority(3))
	require.Equal(t, ConflictSeverityMedium, SeverityForPriority(4))
	require.Equal(t, ConflictSeverityLow, SeverityForPriority(5))

	require.Equal(t, ConflictSeverityMedium, ConflictSeverityLow.Escalate())
	require.Equal(t, ConflictSeverityHigh, ConflictSeverityMedium.Escalate())
	require.Equal(t, ConflictSeverityCritical, ConflictSeverityHigh.Escalate())
	require.Equal(t, ConflictSeverityCritical, ConflictSeverityCritical.Escalate())

	require.Less(t, ConflictSeverityCritical.Rank(), ConflictSeverityLow.Rank())
}

func TestValidationResult(t *testing.T) {
	r := ValidationResult{Valid: true, Violations: []Violation{{Severity: SeverityWarning}}}
	require.False(t, r.HasErrors())
	require.Empty(t, r.Errors())

	r.Violations = append(r.Violations, Violation{Severity: SeverityError, Message: "too close"})
	require.True(t, r.HasErrors())
	require.Len(t, r.Errors(), 1)

	r = ValidationResult{Valid: false}
	require.True(t, r.HasErrors())
	require.Len(t, r.Errors(), 1)
}

func TestErrorPayloads(t *testing.T) {
	id := NewID()

	t.Run("validation error carries violations", func(t *testing.T) {
		violations := []Violation{{Message: "too close", Severity: SeverityError}}
		err := NewValidationError(id, violations)
		require.True(t, errors.IsType(err, ErrTypeValidationFailed))
		require.Equal(t, violations, ViolationsOf(err))
	})

	t.Run("dependency error carries dependents", func(t *testing.T) {
		dep := NewID()
		err := NewDependencyError(id, []uuid.UUID{dep})
		require.True(t, errors.IsType(err, ErrTypeDependencyConflict))
		require.Equal(t, []uuid.UUID{dep}, DependentsOf(err))
	})

	t.Run("other errors carry nothing", func(t *testing.T) {
		err := NewNotFoundError("object", id)
		require.True(t, errors.IsType(err, ErrTypeNotFound))
		require.Nil(t, ViolationsOf(err))
		require.Nil(t, DependentsOf(err))
	})
}
