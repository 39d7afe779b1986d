package funnel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/funnelscope/internal/funnel"
)

func validDefinition() funnel.Definition {
	return funnel.Definition{
		ID:     "f-1",
		Name:   "checkout",
		Window: 7 * 24 * time.Hour,
		Steps: []funnel.Step{
			{Order: 0, Kind: funnel.StepStart, Label: "landing", Rules: []funnel.Rule{
				{Kind: funnel.RulePage, Field: funnel.FieldPath, Operator: funnel.OpEquals, Value: "/"},
			}},
			{Order: 1, Kind: funnel.StepEvent, Label: "add to cart", Rules: []funnel.Rule{
				{Kind: funnel.RuleEvent, Value: "add_to_cart"},
			}},
			{Order: 2, Kind: funnel.StepConversion, Label: "purchase", Rules: []funnel.Rule{
				{Kind: funnel.RuleEvent, Value: "purchase"},
			}},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, funnel.Validate(validDefinition()))
}

func TestValidate_NoStartStep(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Kind = funnel.StepPage

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one start step")
}

func TestValidate_TwoStartSteps(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Kind = funnel.StepStart

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one start step")
}

func TestValidate_NoConversionStep(t *testing.T) {
	def := validDefinition()
	def.Steps[2].Kind = funnel.StepEvent

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one conversion step")
}

func TestValidate_NonIncreasingOrder(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Order = 0

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestValidate_StepWithoutRules(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Rules = nil

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rules")
}

func TestValidate_BadRegex(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Rules[0].Operator = funnel.OpRegex
	def.Steps[0].Rules[0].Value = "([unclosed"

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid regex")
}

func TestValidate_NonNumericComparison(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Rules[0].Filters = []funnel.PropertyFilter{
		{Property: "total", Operator: funnel.OpGreaterThan, Value: "lots"},
	}

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "numeric value")
}

func TestValidate_DisqualifyOutsideDecision(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Rules[0].Disqualify = true

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only valid on decision steps")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	def := validDefinition()
	def.Name = ""
	def.Window = 0
	def.Steps[1].Rules = nil

	err := funnel.Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "window must be positive")
	assert.Contains(t, err.Error(), "no rules")
}

func TestPublish(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v, err := funnel.Publish(validDefinition(), now)
	require.NoError(t, err)

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "f-1", v.FunnelID)
	assert.Equal(t, funnel.StatePublished, v.Definition.State)
	assert.Equal(t, now, v.CreatedAt)
	assert.Equal(t, funnel.StepStart, v.StartStep().Kind)
}

func TestPublish_RejectsInvalid(t *testing.T) {
	def := validDefinition()
	def.Steps = def.Steps[:1]

	_, err := funnel.Publish(def, time.Now())
	assert.Error(t, err)
}
