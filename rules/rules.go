// Package rules holds the clearance and separation rules checked between
// pairs of objects, and proposes how to relocate one object of a pair that
// breaks them.
package rules

import (
	"os"
	"slices"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"gopkg.in/yaml.v3"
)

const ErrTypeInvalidRules = "invalid-rules"

// SystemRule applies to every object of a system.
type SystemRule struct {
	System         models.SystemType `yaml:"system"`
	Priority       int               `yaml:"priority"`
	MinClearance   float64           `yaml:"min_clearance"`
	MinSeparation  float64           `yaml:"min_separation"`
	CostMultiplier float64           `yaml:"cost_multiplier"`
	BaseHours      float64           `yaml:"base_hours"`

	Immovable           bool `yaml:"immovable"`
	AccessRequired      bool `yaml:"access_required"`
	CodeSpacing         bool `yaml:"code_spacing"`
	MaintenanceAccess   bool `yaml:"maintenance_access"`
	SlopeRequired       bool `yaml:"slope_required"`
	SeparationFromPower bool `yaml:"separation_from_power"`
	Cosmetic            bool `yaml:"cosmetic"`
}

// CodeRule is a building code requirement applying to object types.
//
// MinClearance applies when either object has a listed type. MinSeparation
// and MaxSpacing apply when both have.
type CodeRule struct {
	Code          string              `yaml:"code"`
	Description   string              `yaml:"description"`
	MinClearance  float64             `yaml:"min_clearance"`
	MinSeparation float64             `yaml:"min_separation"`
	MaxSpacing    float64             `yaml:"max_spacing"`
	AppliesTo     []models.ObjectType `yaml:"applies_to"`
	Severity      models.Severity     `yaml:"severity"`
}

func (r CodeRule) appliesTo(t models.ObjectType) bool {
	for _, a := range r.AppliesTo {
		if a == t {
			return true
		}
	}
	return false
}

type ruleFile struct {
	Systems []SystemRule `yaml:"systems"`
	Codes   []CodeRule   `yaml:"codes"`
}

// Options bound the resolution estimates.
type Options struct {
	// The cost distance factor never exceeds this value.
	CostCap float64

	// The duration distance factor never exceeds this value.
	TimeCap float64
}

func DefaultOptions() Options {
	return Options{
		CostCap: 10,
		TimeCap: 4,
	}
}

// Engine is a stateless rule table. It is safe for concurrent use.
type Engine struct {
	options Options
	systems map[models.SystemType]SystemRule
	codes   []CodeRule

	// Largest clearance or separation any rule requires.
	reach float64
}

// New returns an engine using the embedded rule tables.
func New(o Options) (*Engine, error) {
	return Parse(DefaultRules, o)
}

// LoadFile returns an engine using the rule tables of a YAML file.
func LoadFile(filename string, o Options) (*Engine, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.New("reading rules file failed").
			WithType(ErrTypeInvalidRules).
			WithTag("filename", filename).
			Wrap(err)
	}
	return Parse(data, o)
}

// Parse returns an engine using the given YAML rule tables.
func Parse(data []byte, o Options) (*Engine, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.New("unmarshaling rules failed").
			WithType(ErrTypeInvalidRules).
			Wrap(err)
	}

	defaults := DefaultOptions()
	if o.CostCap <= 0 {
		o.CostCap = defaults.CostCap
	}
	if o.TimeCap <= 0 {
		o.TimeCap = defaults.TimeCap
	}

	e := &Engine{
		options: o,
		systems: make(map[models.SystemType]SystemRule, len(f.Systems)),
	}

	for _, r := range f.Systems {
		if err := validateSystemRule(r); err != nil {
			return nil, err
		}
		if _, ok := e.systems[r.System]; ok {
			return nil, errors.New("duplicated system rule").
				WithType(ErrTypeInvalidRules).
				WithTag("system", r.System)
		}
		if r.CostMultiplier == 0 {
			r.CostMultiplier = 1
		}
		if r.BaseHours == 0 {
			r.BaseHours = 1
		}
		e.systems[r.System] = r
		e.reach = max(e.reach, r.MinClearance, r.MinSeparation)
	}

	for _, r := range f.Codes {
		if r.Severity == "" {
			r.Severity = models.SeverityError
		}
		if err := validateCodeRule(r); err != nil {
			return nil, err
		}
		e.codes = append(e.codes, r)
		e.reach = max(e.reach, r.MinClearance, r.MinSeparation)
	}

	return e, nil
}

func validateSystemRule(r SystemRule) error {
	newErr := func(msg string) error {
		return errors.New(msg).
			WithType(ErrTypeInvalidRules).
			WithTag("system", r.System)
	}

	switch {
	case !slices.Contains(models.SystemTypes, r.System):
		return newErr("unknown system")
	case r.Priority < 1 || r.Priority > 5:
		return newErr("priority must be between 1 and 5")
	case r.MinClearance < 0 || r.MinSeparation < 0:
		return newErr("distances must not be negative")
	case r.CostMultiplier < 0 || r.BaseHours < 0:
		return newErr("cost multiplier and base hours must not be negative")
	case r.SeparationFromPower && r.MinSeparation == 0:
		return newErr("separation from power requires a min separation")
	}
	return nil
}

func validateCodeRule(r CodeRule) error {
	newErr := func(msg string) error {
		return errors.New(msg).
			WithType(ErrTypeInvalidRules).
			WithTag("code", r.Code)
	}

	switch {
	case r.Code == "":
		return newErr("code rule without code reference")
	case len(r.AppliesTo) == 0:
		return newErr("code rule without object types")
	case r.MinClearance < 0 || r.MinSeparation < 0 || r.MaxSpacing < 0:
		return newErr("distances must not be negative")
	case r.MinClearance == 0 && r.MinSeparation == 0 && r.MaxSpacing == 0:
		return newErr("code rule without distance")
	}

	for _, t := range r.AppliesTo {
		if !t.Valid() {
			return errors.New("unknown object type").
				WithType(ErrTypeInvalidRules).
				WithTag("code", r.Code).
				WithTag("object_type", t)
		}
	}

	switch r.Severity {
	case models.SeverityError, models.SeverityWarning, models.SeverityInfo:
		return nil
	default:
		return newErr("unknown severity")
	}
}

// System returns the rule of a system.
func (e *Engine) System(s models.SystemType) (SystemRule, bool) {
	r, ok := e.systems[s]
	return r, ok
}

func (e *Engine) Codes() []CodeRule {
	return append([]CodeRule(nil), e.codes...)
}

// SearchDistance returns how far from an object another object can be while
// still breaking a rule with it.
func (e *Engine) SearchDistance(obj *models.SpatialObject) float64 {
	d := e.reach
	for _, r := range e.codes {
		if r.MaxSpacing > 0 && r.appliesTo(obj.Type) {
			d = max(d, 2*r.MaxSpacing)
		}
	}
	return d
}

// Immovable reports whether objects of the system are never relocated.
func (e *Engine) Immovable(s models.SystemType) bool {
	return e.systems[s].Immovable
}

func (e *Engine) costMultiplier(s models.SystemType) float64 {
	if r, ok := e.systems[s]; ok {
		return r.CostMultiplier
	}
	return 1
}

func (e *Engine) baseHours(s models.SystemType) float64 {
	if r, ok := e.systems[s]; ok {
		return r.BaseHours
	}
	return 1
}
