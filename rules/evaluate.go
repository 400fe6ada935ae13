package rules

import (
	"github.com/aukilabs/bygg/models"
)

// Evaluate returns every rule broken by a pair of objects, comparing the
// distance between their centers against each applicable system and code
// rule.
func (e *Engine) Evaluate(a, b *models.SpatialObject) []models.RuleViolation {
	d := a.Geometry.Center.Distance(b.Geometry.Center)

	var res []models.RuleViolation
	res = e.evaluateSystems(res, a, b, d)
	res = e.evaluateCodes(res, a, b, d)
	return res
}

func (e *Engine) evaluateSystems(res []models.RuleViolation, a, b *models.SpatialObject, d float64) []models.RuleViolation {
	systems := []models.SystemType{a.SystemType()}
	if b.SystemType() != a.SystemType() {
		systems = append(systems, b.SystemType())
	}

	for _, s := range systems {
		r, ok := e.systems[s]
		if !ok || r.MinClearance <= 0 || d >= r.MinClearance {
			continue
		}
		res = append(res, models.RuleViolation{
			Type:     clearanceType(s, r),
			Rule:     "system." + string(s) + ".clearance",
			Required: r.MinClearance,
			Actual:   d,
			Severity: systemSeverity(r),
		})
	}

	for _, pair := range [][2]*models.SpatialObject{{a, b}, {b, a}} {
		r, ok := e.systems[pair[0].SystemType()]
		if !ok || !r.SeparationFromPower || pair[1].SystemType() != models.SystemElectrical {
			continue
		}
		if d >= r.MinSeparation {
			continue
		}
		res = append(res, models.RuleViolation{
			Type:     models.ConflictCrossSystem,
			Rule:     "system." + string(r.System) + ".separation_from_power",
			Required: r.MinSeparation,
			Actual:   d,
			Severity: systemSeverity(r),
		})
	}

	return res
}

func (e *Engine) evaluateCodes(res []models.RuleViolation, a, b *models.SpatialObject, d float64) []models.RuleViolation {
	for _, r := range e.codes {
		ma, mb := r.appliesTo(a.Type), r.appliesTo(b.Type)
		if !ma && !mb {
			continue
		}

		violation := models.RuleViolation{
			Type:          models.ConflictCodeViolation,
			CodeReference: r.Code,
			Actual:        d,
			Severity:      r.Severity,
		}

		if r.MinClearance > 0 && d < r.MinClearance {
			v := violation
			v.Rule = "code.clearance"
			v.Required = r.MinClearance
			res = append(res, v)
		}

		if !ma || !mb || !sameFloor(a, b) {
			continue
		}

		if r.MinSeparation > 0 && d < r.MinSeparation {
			v := violation
			v.Rule = "code.separation"
			v.Required = r.MinSeparation
			res = append(res, v)
		}

		// Only neighbours are expected to be within spacing of each other.
		if r.MaxSpacing > 0 && d > r.MaxSpacing && d <= 2*r.MaxSpacing {
			v := violation
			v.Rule = "code.max_spacing"
			v.Required = r.MaxSpacing
			v.MaxSpacing = true
			res = append(res, v)
		}
	}
	return res
}

// sameFloor reports whether two objects may be on the same floor. Objects
// without a floor match every floor.
func sameFloor(a, b *models.SpatialObject) bool {
	return a.FloorID == "" || b.FloorID == "" || a.FloorID == b.FloorID
}

func clearanceType(s models.SystemType, r SystemRule) models.ConflictType {
	switch {
	case s == models.SystemStructural:
		return models.ConflictStructural
	case s == models.SystemLifeSafety:
		return models.ConflictFireSafety
	case r.MaintenanceAccess:
		return models.ConflictToolClearance
	case r.AccessRequired:
		return models.ConflictAccessRequired
	default:
		return models.ConflictClearance
	}
}

func systemSeverity(r SystemRule) models.Severity {
	if r.Priority <= 2 {
		return models.SeverityError
	}
	return models.SeverityWarning
}
