package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

type ConflictType string

const (
	ConflictOverlap           ConflictType = "overlap"
	ConflictCollision         ConflictType = "collision"
	ConflictProximity         ConflictType = "proximity"
	ConflictClearance         ConflictType = "clearance"
	ConflictSameSystem        ConflictType = "same_system"
	ConflictCrossSystem       ConflictType = "cross_system"
	ConflictPriorityViolation ConflictType = "priority_violation"
	ConflictCodeViolation     ConflictType = "code_violation"
	ConflictAccessibility     ConflictType = "accessibility"
	ConflictFireSafety        ConflictType = "fire_safety"
	ConflictStructural        ConflictType = "structural"
	ConflictInstallOrder      ConflictType = "install_order"
	ConflictAccessRequired    ConflictType = "access_required"
	ConflictToolClearance     ConflictType = "tool_clearance"
)

// IndexKind is the classification a single spatial index gives to a
// candidate pair before the detailed analysis.
type IndexKind string

const (
	IndexKindSameSystem     IndexKind = "same_system"
	IndexKindHigherPriority IndexKind = "higher_priority"
	IndexKindLowerPriority  IndexKind = "lower_priority"
	IndexKindPlanOverlap    IndexKind = "same_system_overlap"
	IndexKindCrossSystem    IndexKind = "cross_system"
	IndexKindProximity      IndexKind = "proximity"
)

type ConflictSeverity string

const (
	ConflictSeverityCritical ConflictSeverity = "critical"
	ConflictSeverityHigh     ConflictSeverity = "high"
	ConflictSeverityMedium   ConflictSeverity = "medium"
	ConflictSeverityLow      ConflictSeverity = "low"
)

// Rank orders severities, critical being 0.
func (s ConflictSeverity) Rank() int {
	switch s {
	case ConflictSeverityCritical:
		return 0
	case ConflictSeverityHigh:
		return 1
	case ConflictSeverityMedium:
		return 2
	default:
		return 3
	}
}

// Escalate returns the next severity level. Critical stays critical.
func (s ConflictSeverity) Escalate() ConflictSeverity {
	switch s {
	case ConflictSeverityLow:
		return ConflictSeverityMedium
	case ConflictSeverityMedium:
		return ConflictSeverityHigh
	default:
		return ConflictSeverityCritical
	}
}

// SeverityForPriority maps the highest system priority of a pair to a
// conflict severity.
func SeverityForPriority(priority int) ConflictSeverity {
	switch {
	case priority <= 2:
		return ConflictSeverityCritical
	case priority == 3:
		return ConflictSeverityHigh
	case priority == 4:
		return ConflictSeverityMedium
	default:
		return ConflictSeverityLow
	}
}

// RuleViolation is a system or code rule broken by a pair of objects.
type RuleViolation struct {
	Type          ConflictType `json:"type"`
	Rule          string       `json:"rule"`
	CodeReference string       `json:"code_reference,omitempty"`
	Required      float64      `json:"required"`
	Actual        float64      `json:"actual"`
	Severity      Severity     `json:"severity"`
	MaxSpacing    bool         `json:"max_spacing,omitempty"`
}

// Resolution proposes to move one object of a conflicting pair.
type Resolution struct {
	MoveObject     uuid.UUID `json:"move_object"`
	FixedObject    uuid.UUID `json:"fixed_object"`
	Target         Vector3   `json:"target"`
	Displacement   float64   `json:"displacement"`
	EstimatedCost  float64   `json:"estimated_cost"`
	EstimatedHours float64   `json:"estimated_hours"`
	Confidence     float64   `json:"confidence"`
}

type ConflictReport struct {
	ID             uuid.UUID        `json:"id"`
	ObjectA        uuid.UUID        `json:"object_a"`
	ObjectB        uuid.UUID        `json:"object_b"`
	Type           ConflictType     `json:"type"`
	IndexKinds     []IndexKind      `json:"index_kinds,omitempty"`
	Severity       ConflictSeverity `json:"severity"`
	OverlapVolume  float64          `json:"overlap_volume"`
	OverlapArea    float64          `json:"overlap_area"`
	Distance       float64          `json:"distance"`
	CenterDistance float64          `json:"center_distance"`
	Tolerance      float64          `json:"tolerance"`
	CodeReference  string           `json:"code_reference,omitempty"`
	Violations     []RuleViolation  `json:"violations,omitempty"`
	Resolution     *Resolution      `json:"resolution,omitempty"`
	DetectedAt     time.Time        `json:"detected_at"`
	ResolvedAt     time.Time        `json:"resolved_at,omitempty"`
}

// Involves reports whether the conflict references the object.
func (r *ConflictReport) Involves(id uuid.UUID) bool {
	return r.ObjectA == id || r.ObjectB == id
}

func (r *ConflictReport) Clone() *ConflictReport {
	c := *r
	c.IndexKinds = append([]IndexKind(nil), r.IndexKinds...)
	c.Violations = append([]RuleViolation(nil), r.Violations...)
	if r.Resolution != nil {
		res := *r.Resolution
		c.Resolution = &res
	}
	return &c
}

var conflictNamespace = uuid.MustParse("6f1c9a2e-7a47-4e0b-9c55-3c0d4b1de5a1")

// ConflictID returns the identifier of the conflict between two objects. It
// does not depend on the argument order.
func ConflictID(a, b uuid.UUID) uuid.UUID {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return uuid.NewSHA1(conflictNamespace, append(a[:], b[:]...))
}
