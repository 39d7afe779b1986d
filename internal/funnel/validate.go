package funnel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Validate checks a definition against the publish-time invariants:
// exactly one start step, at least one conversion step, strictly
// increasing step orders, every step carries at least one rule, and
// every rule is well formed (regexes compile, gt/lt values are numeric).
// All violations are reported together.
func Validate(def Definition) error {
	var problems []string

	if strings.TrimSpace(def.Name) == "" {
		problems = append(problems, "funnel name is required")
	}
	if def.Window <= 0 {
		problems = append(problems, "time window must be positive")
	}
	if len(def.Steps) < 2 {
		problems = append(problems, "funnel needs at least a start and a conversion step")
	}

	starts, conversions := 0, 0
	lastOrder := -1
	for i, step := range def.Steps {
		switch step.Kind {
		case StepStart:
			starts++
		case StepConversion:
			conversions++
		case StepPage, StepEvent, StepDecision:
		default:
			problems = append(problems, fmt.Sprintf("step %d: unknown kind %q", i, step.Kind))
		}

		if step.Order <= lastOrder {
			problems = append(problems, fmt.Sprintf("step %d: order %d is not strictly increasing", i, step.Order))
		}
		lastOrder = step.Order

		if len(step.Rules) == 0 {
			problems = append(problems, fmt.Sprintf("step %d (%s): has no rules and can never match", i, step.Label))
		}
		for j, rule := range step.Rules {
			if err := validateRule(rule); err != nil {
				problems = append(problems, fmt.Sprintf("step %d rule %d: %v", i, j, err))
			}
			if rule.Disqualify && step.Kind != StepDecision {
				problems = append(problems, fmt.Sprintf("step %d rule %d: disqualify is only valid on decision steps", i, j))
			}
		}
	}

	if starts != 1 {
		problems = append(problems, fmt.Sprintf("funnel must have exactly one start step, found %d", starts))
	}
	if conversions < 1 {
		problems = append(problems, "funnel must have at least one conversion step")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid funnel definition: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validateRule(rule Rule) error {
	switch rule.Kind {
	case RulePage:
		switch rule.Field {
		case FieldURL, FieldPath, FieldReferrer:
		default:
			return fmt.Errorf("page rule field %q must be url, path or referrer", rule.Field)
		}
		if err := validateOperator(rule.Operator, rule.Value); err != nil {
			return err
		}
	case RuleEvent:
		if strings.TrimSpace(rule.Value) == "" {
			return fmt.Errorf("event rule needs an event name")
		}
		for _, f := range rule.Filters {
			if strings.TrimSpace(f.Property) == "" {
				return fmt.Errorf("property filter needs a property name")
			}
			if err := validateOperator(f.Operator, f.Value); err != nil {
				return fmt.Errorf("filter on %q: %w", f.Property, err)
			}
			if f.Operator == OpRegex {
				return fmt.Errorf("filter on %q: regex is not supported on property filters", f.Property)
			}
		}
	default:
		return fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
	return nil
}

func validateOperator(op Operator, value string) error {
	switch op {
	case OpEquals, OpContains:
		return nil
	case OpRegex:
		if _, err := regexp.Compile(value); err != nil {
			return fmt.Errorf("invalid regex %q: %w", value, err)
		}
		return nil
	case OpGreaterThan, OpLessThan:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("operator %s needs a numeric value, got %q", op, value)
		}
		return nil
	default:
		return fmt.Errorf("unknown operator %q", op)
	}
}
