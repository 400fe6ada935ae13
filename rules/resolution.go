package rules

import (
	"math"

	"github.com/aukilabs/bygg/models"
)

// SuggestResolution proposes to move one object of a pair so that the given
// violations no longer hold. It returns nil when there is nothing to satisfy
// or when neither object can be moved.
//
// The object with the higher system priority stays fixed. On a tie, the
// cheaper object to install is moved. The moving object slides along the
// line from the fixed center through its own center until it sits at the
// largest required distance, or at the smallest allowed spacing when only
// max spacing rules are broken.
func (e *Engine) SuggestResolution(a, b *models.SpatialObject, violations []models.RuleViolation) *models.Resolution {
	if len(violations) == 0 {
		return nil
	}

	fixed, moving, ok := e.pickMoving(a, b)
	if !ok {
		return nil
	}

	var (
		minDistance = math.Inf(-1)
		maxDistance = math.Inf(1)
		minByCode   bool
		maxByCode   bool
	)
	for _, v := range violations {
		if v.MaxSpacing {
			if v.Required < maxDistance {
				maxDistance = v.Required
				maxByCode = v.CodeReference != ""
			}
			continue
		}
		if v.Required > minDistance {
			minDistance = v.Required
			minByCode = v.CodeReference != ""
		}
	}

	current := fixed.Geometry.Center.Distance(moving.Geometry.Center)

	var distance float64
	var codeDriven bool
	switch {
	case !math.IsInf(minDistance, -1):
		if current >= minDistance {
			return nil
		}
		distance = minDistance
		codeDriven = minByCode
	case !math.IsInf(maxDistance, 1):
		if current <= maxDistance {
			return nil
		}
		distance = maxDistance
		codeDriven = maxByCode
	default:
		return nil
	}

	dir := direction(fixed.Geometry.Center, moving.Geometry.Center)
	target := fixed.Geometry.Center.Add(dir.Mul(distance))
	displacement := target.Distance(moving.Geometry.Center)

	system := moving.SystemType()
	confidence := math.Max(0.3, 0.95-0.05*displacement)
	if codeDriven {
		confidence *= 0.8
	}

	return &models.Resolution{
		MoveObject:     moving.ID,
		FixedObject:    fixed.ID,
		Target:         target,
		Displacement:   displacement,
		EstimatedCost:  moving.Cost() * e.costMultiplier(system) * math.Min(1+displacement, e.options.CostCap),
		EstimatedHours: e.baseHours(system) * math.Min(1+displacement/10, e.options.TimeCap),
		Confidence:     confidence,
	}
}

func (e *Engine) pickMoving(a, b *models.SpatialObject) (fixed, moving *models.SpatialObject, ok bool) {
	ia, ib := e.Immovable(a.SystemType()), e.Immovable(b.SystemType())
	switch {
	case ia && ib:
		return nil, nil, false
	case ia:
		return a, b, true
	case ib:
		return b, a, true
	}

	pa, pb := a.Priority(), b.Priority()
	switch {
	case pa < pb:
		return a, b, true
	case pb < pa:
		return b, a, true
	case a.Cost() < b.Cost():
		return b, a, true
	default:
		return a, b, true
	}
}

// SeparationDistance returns the center distance at which the bounding boxes
// of two objects are gap apart along the line joining their centers.
func SeparationDistance(a, b *models.SpatialObject, gap float64) float64 {
	dir := direction(a.Geometry.Center, b.Geometry.Center)
	halfSpan := func(size models.Vector3) float64 {
		return (math.Abs(dir.X)*size.X + math.Abs(dir.Y)*size.Y + math.Abs(dir.Z)*size.Z) / 2
	}
	return halfSpan(a.Bounds.Size()) + halfSpan(b.Bounds.Size()) + gap
}

// direction returns the unit vector from one point to another, +x when they
// coincide.
func direction(from, to models.Vector3) models.Vector3 {
	d := to.Sub(from)
	if d.Length() < 1e-12 {
		return models.Vector3{X: 1}
	}
	return d.Normalized()
}
