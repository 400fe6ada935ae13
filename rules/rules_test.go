package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	e, err := New(DefaultOptions())
	require.NoError(t, err)
	return e
}

func newObject(typ models.ObjectType, x, y, z float64) *models.SpatialObject {
	obj := &models.SpatialObject{
		ID:   models.NewID(),
		Type: typ,
	}
	obj.SetGeometry(models.Geometry{
		Center: models.Vector3{X: x, Y: y, Z: z},
		Length: 0.2,
		Width:  0.2,
		Height: 0.2,
	})
	return obj
}

func TestEmbeddedRules(t *testing.T) {
	e := newEngine(t)

	for _, s := range models.SystemTypes {
		r, ok := e.System(s)
		require.True(t, ok, "missing rule for %s", s)
		require.Equal(t, s.Priority(), r.Priority)
		require.Positive(t, r.CostMultiplier)
		require.Positive(t, r.BaseHours)
	}

	structural, _ := e.System(models.SystemStructural)
	require.True(t, structural.Immovable)
	require.Equal(t, float64(5), structural.CostMultiplier)

	hvac, _ := e.System(models.SystemHVAC)
	require.Equal(t, 2.5, hvac.CostMultiplier)
	require.NotEmpty(t, e.Codes())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "malformed yaml",
			yaml: "systems: [",
		},
		{
			name: "unknown system",
			yaml: "systems:\n  - system: aerospace\n    priority: 1\n",
		},
		{
			name: "priority out of range",
			yaml: "systems:\n  - system: hvac\n    priority: 9\n",
		},
		{
			name: "duplicated system",
			yaml: "systems:\n  - system: hvac\n    priority: 3\n  - system: hvac\n    priority: 3\n",
		},
		{
			name: "code without object types",
			yaml: "codes:\n  - code: X 1\n    min_clearance: 1\n",
		},
		{
			name: "code with unknown object type",
			yaml: "codes:\n  - code: X 1\n    min_clearance: 1\n    applies_to: [teapot]\n",
		},
		{
			name: "code without distance",
			yaml: "codes:\n  - code: X 1\n    applies_to: [door]\n",
		},
		{
			name: "code with unknown severity",
			yaml: "codes:\n  - code: X 1\n    min_clearance: 1\n    applies_to: [door]\n    severity: fatal\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.yaml), Options{})
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeInvalidRules))
		})
	}
}

func TestLoadFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "rules.yaml")
	err := os.WriteFile(filename, []byte(`
systems:
  - system: hvac
    priority: 3
    min_clearance: 2
codes:
  - code: LOCAL 1
    max_spacing: 4
    applies_to: [hvac_diffuser]
`), 0o600)
	require.NoError(t, err)

	e, err := LoadFile(filename, Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultOptions(), e.options)

	hvac, ok := e.System(models.SystemHVAC)
	require.True(t, ok)
	require.Equal(t, float64(1), hvac.CostMultiplier)
	require.Equal(t, models.SeverityError, e.Codes()[0].Severity)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Options{})
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeInvalidRules))
}

func TestSearchDistance(t *testing.T) {
	e := newEngine(t)
	require.Equal(t, float64(30), e.SearchDistance(newObject(models.ObjectFireSprinkler, 0, 0, 0)))
	require.Equal(t, float64(60), e.SearchDistance(newObject(models.ObjectSmokeDetector, 0, 0, 0)))
	require.Equal(t, float64(6), e.SearchDistance(newObject(models.ObjectHVACDuct, 0, 0, 0)))
}

func TestEvaluate(t *testing.T) {
	e := newEngine(t)

	t.Run("sprinklers too far apart break the max spacing", func(t *testing.T) {
		a := newObject(models.ObjectFireSprinkler, 0, 0, 10)
		b := newObject(models.ObjectFireSprinkler, 20, 0, 10)

		violations := e.Evaluate(a, b)
		require.Len(t, violations, 1)
		require.Equal(t, models.ConflictCodeViolation, violations[0].Type)
		require.Equal(t, "NFPA 13 10.2.4.2.1", violations[0].CodeReference)
		require.True(t, violations[0].MaxSpacing)
		require.Equal(t, float64(15), violations[0].Required)
		require.Equal(t, float64(20), violations[0].Actual)
	})

	t.Run("sprinklers on different floors are ignored", func(t *testing.T) {
		a := newObject(models.ObjectFireSprinkler, 0, 0, 10)
		a.FloorID = "L1"
		b := newObject(models.ObjectFireSprinkler, 20, 0, 10)
		b.FloorID = "L2"
		require.Empty(t, e.Evaluate(a, b))

		c := newObject(models.ObjectFireSprinkler, 4, 0, 10)
		c.FloorID = "L2"
		require.Empty(t, e.Evaluate(a, c))

		b.FloorID = "L1"
		require.Len(t, e.Evaluate(a, b), 1)
	})

	t.Run("sprinklers beyond neighbour range are ignored", func(t *testing.T) {
		a := newObject(models.ObjectFireSprinkler, 0, 0, 10)
		b := newObject(models.ObjectFireSprinkler, 40, 0, 10)
		require.Empty(t, e.Evaluate(a, b))
	})

	t.Run("sprinklers too close break the min separation", func(t *testing.T) {
		a := newObject(models.ObjectFireSprinkler, 0, 0, 10)
		b := newObject(models.ObjectFireSprinkler, 4, 0, 10)

		violations := e.Evaluate(a, b)
		require.Len(t, violations, 1)
		require.Equal(t, "code.separation", violations[0].Rule)
		require.Equal(t, float64(6), violations[0].Required)
	})

	t.Run("structural clearance", func(t *testing.T) {
		column := newObject(models.ObjectStructuralColumn, 0, 0, 0)
		outlet := newObject(models.ObjectElectricalOutlet, 0.5, 0, 0)

		violations := e.Evaluate(column, outlet)
		require.Len(t, violations, 1)
		require.Equal(t, models.ConflictStructural, violations[0].Type)
		require.Equal(t, models.SeverityError, violations[0].Severity)
		require.Equal(t, float64(1), violations[0].Required)
	})

	t.Run("plumbing separation from power", func(t *testing.T) {
		pipe := newObject(models.ObjectPlumbingPipe, 0, 0, 0)
		conduit := newObject(models.ObjectElectricalConduit, 0.3, 0, 0)

		violations := e.Evaluate(pipe, conduit)
		require.Len(t, violations, 1)
		require.Equal(t, models.ConflictCrossSystem, violations[0].Type)
		require.Equal(t, "system.plumbing.separation_from_power", violations[0].Rule)
		require.Equal(t, violations, e.Evaluate(conduit, pipe))
	})

	t.Run("panel working space applies to the other object", func(t *testing.T) {
		panel := newObject(models.ObjectElectricalPanel, 0, 0, 0)
		door := newObject(models.ObjectDoor, 2, 0, 0)

		violations := e.Evaluate(door, panel)
		require.Len(t, violations, 1)
		require.Equal(t, "NEC 110.26(A)(1)", violations[0].CodeReference)
		require.Equal(t, "code.clearance", violations[0].Rule)
	})
}

func TestSuggestResolution(t *testing.T) {
	e := newEngine(t)

	t.Run("outlet moves away from the column", func(t *testing.T) {
		column := newObject(models.ObjectStructuralColumn, 0, 0, 0)
		outlet := newObject(models.ObjectElectricalOutlet, 0.5, 0, 0)

		r := e.SuggestResolution(column, outlet, e.Evaluate(column, outlet))
		require.NotNil(t, r)
		require.Equal(t, outlet.ID, r.MoveObject)
		require.Equal(t, column.ID, r.FixedObject)
		require.True(t, r.Target.EqualWithEpsilon(models.Vector3{X: 1}, 1e-9))
		require.InDelta(t, 0.5, r.Displacement, 1e-9)
		require.InDelta(t, 120*2*1.5, r.EstimatedCost, 1e-9)
		require.InDelta(t, 4*1.05, r.EstimatedHours, 1e-9)
		require.InDelta(t, 0.925, r.Confidence, 1e-9)

		// Argument order does not matter.
		require.Equal(t, r, e.SuggestResolution(outlet, column, e.Evaluate(outlet, column)))
	})

	t.Run("immovable pair has no resolution", func(t *testing.T) {
		a := newObject(models.ObjectStructuralColumn, 0, 0, 0)
		b := newObject(models.ObjectStructuralBeam, 0.5, 0, 0)
		require.Nil(t, e.SuggestResolution(a, b, e.Evaluate(a, b)))
	})

	t.Run("cheaper object moves on a priority tie", func(t *testing.T) {
		duct := newObject(models.ObjectHVACDuct, 0, 0, 0)
		pipe := newObject(models.ObjectPlumbingPipe, 0, 0.1, 0)

		r := e.SuggestResolution(duct, pipe, e.Evaluate(duct, pipe))
		require.NotNil(t, r)
		require.Equal(t, pipe.ID, r.MoveObject)
	})

	t.Run("coincident centers move along x", func(t *testing.T) {
		column := newObject(models.ObjectStructuralColumn, 3, 3, 0)
		outlet := newObject(models.ObjectElectricalOutlet, 3, 3, 0)

		r := e.SuggestResolution(column, outlet, e.Evaluate(column, outlet))
		require.NotNil(t, r)
		require.True(t, r.Target.EqualWithEpsilon(models.Vector3{X: 4, Y: 3}, 1e-9))
	})

	t.Run("max spacing pulls objects together", func(t *testing.T) {
		a := newObject(models.ObjectFireSprinkler, 0, 0, 10)
		b := newObject(models.ObjectFireSprinkler, 20, 0, 10)

		r := e.SuggestResolution(a, b, e.Evaluate(a, b))
		require.NotNil(t, r)
		require.Equal(t, b.ID, r.MoveObject)
		require.True(t, r.Target.EqualWithEpsilon(models.Vector3{X: 15, Z: 10}, 1e-9))
		require.InDelta(t, 5, r.Displacement, 1e-9)
		require.InDelta(t, 0.7*0.8, r.Confidence, 1e-9)
	})

	t.Run("cost and duration are capped", func(t *testing.T) {
		column := newObject(models.ObjectStructuralColumn, 0, 0, 0)
		outlet := newObject(models.ObjectElectricalOutlet, 0, 0, 0)
		violations := []models.RuleViolation{{Required: 100}}

		r := e.SuggestResolution(column, outlet, violations)
		require.NotNil(t, r)
		require.InDelta(t, 120*2*10, r.EstimatedCost, 1e-9)
		require.InDelta(t, 4*4, r.EstimatedHours, 1e-9)
		require.InDelta(t, 0.3, r.Confidence, 1e-9)
	})

	t.Run("nothing to satisfy", func(t *testing.T) {
		a := newObject(models.ObjectDoor, 0, 0, 0)
		b := newObject(models.ObjectDoor, 10, 0, 0)
		require.Nil(t, e.SuggestResolution(a, b, nil))
		require.Nil(t, e.SuggestResolution(a, b, []models.RuleViolation{{Required: 5}}))
	})
}

func TestSeparationDistance(t *testing.T) {
	a := newObject(models.ObjectDoor, 0, 0, 0)
	b := newObject(models.ObjectDoor, 0.1, 0, 0)
	require.InDelta(t, 0.2+0.5, SeparationDistance(a, b, 0.5), 1e-9)
}
