package funnel

import (
	"time"

	"github.com/google/uuid"
)

type Lifecycle string

const (
	StateDraft     Lifecycle = "draft"
	StatePublished Lifecycle = "published"
	StateArchived  Lifecycle = "archived"
)

type StepKind string

const (
	StepStart      StepKind = "start"
	StepPage       StepKind = "page"
	StepEvent      StepKind = "event"
	StepDecision   StepKind = "decision"
	StepConversion StepKind = "conversion"
)

type RuleKind string

const (
	RulePage  RuleKind = "page"
	RuleEvent RuleKind = "event"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
)

// PageField names the page-context attribute a page rule compares.
type PageField string

const (
	FieldURL      PageField = "url"
	FieldPath     PageField = "path"
	FieldReferrer PageField = "referrer"
)

// PropertyFilter is one predicate against a record's property bag.
// Filters inside a rule are combined with AND.
type PropertyFilter struct {
	Property string   `json:"property" yaml:"property"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
}

// Rule is a closed, tagged matching predicate. Page rules compare a page
// field under the operator; event rules require an exact event name match
// plus every property filter. Rules inside a step are combined with OR.
type Rule struct {
	Kind       RuleKind         `json:"kind" yaml:"kind"`
	Field      PageField        `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   Operator         `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      string           `json:"value" yaml:"value"`
	Filters    []PropertyFilter `json:"filters,omitempty" yaml:"filters,omitempty"`
	Disqualify bool             `json:"disqualify,omitempty" yaml:"disqualify,omitempty"`
}

type Step struct {
	Order int      `json:"order" yaml:"order"`
	Kind  StepKind `json:"kind" yaml:"kind"`
	Label string   `json:"label" yaml:"label"`
	Rules []Rule   `json:"rules" yaml:"rules"`
}

// Definition is a funnel as configured. Drafts are mutable; publishing
// freezes an immutable Version.
type Definition struct {
	ID     string        `json:"id" yaml:"id,omitempty"`
	Name   string        `json:"name" yaml:"name"`
	Window time.Duration `json:"window" yaml:"window"`
	Steps  []Step        `json:"steps" yaml:"steps"`
	State  Lifecycle     `json:"state" yaml:"-"`
}

// Version is an immutable snapshot of a published definition. Historical
// progressions retain the version they were matched under.
type Version struct {
	ID         string     `json:"id"`
	FunnelID   string     `json:"funnelId"`
	Definition Definition `json:"definition"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Publish validates the definition and freezes it into a new version.
// Invalid definitions are rejected here, never at match time.
func Publish(def Definition, now time.Time) (*Version, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}
	def.State = StatePublished
	return &Version{
		ID:         uuid.NewString(),
		FunnelID:   def.ID,
		Definition: def,
		CreatedAt:  now,
	}, nil
}

// StartStep returns the single start step. Only valid on a published
// version, where Validate has guaranteed exactly one exists.
func (v *Version) StartStep() Step {
	for _, s := range v.Definition.Steps {
		if s.Kind == StepStart {
			return s
		}
	}
	return v.Definition.Steps[0]
}
