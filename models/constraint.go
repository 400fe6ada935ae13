package models

import (
	"github.com/google/uuid"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Constraint is a rule attached to one object. The expression is opaque to
// the engines and only interpreted by the injected evaluator.
type Constraint struct {
	ID         uuid.UUID      `json:"id"`
	ObjectID   uuid.UUID      `json:"object_id"`
	Type       string         `json:"type"`
	Expression string         `json:"expression"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Severity   Severity       `json:"severity"`
	Active     bool           `json:"active"`
}

func (c *Constraint) Clone() *Constraint {
	cc := *c
	if c.Parameters != nil {
		cc.Parameters = make(map[string]any, len(c.Parameters))
		for k, v := range c.Parameters {
			cc.Parameters[k] = v
		}
	}
	return &cc
}

type Violation struct {
	ConstraintID uuid.UUID `json:"constraint_id,omitempty"`
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	Severity     Severity  `json:"severity"`
	Required     float64   `json:"required,omitempty"`
	Actual       float64   `json:"actual,omitempty"`
}

type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// HasErrors reports whether the result contains an error severity violation.
// An invalid result without any violation counts as an error.
func (r ValidationResult) HasErrors() bool {
	if !r.Valid && len(r.Violations) == 0 {
		return true
	}
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the error severity violations.
func (r ValidationResult) Errors() []Violation {
	var errs []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			errs = append(errs, v)
		}
	}
	if len(errs) == 0 && !r.Valid {
		errs = append(errs, Violation{
			Type:     "invalid",
			Message:  "evaluator reported an invalid object",
			Severity: SeverityError,
		})
	}
	return errs
}
