package funnel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/funnelscope/funnelscope/internal/activity"
)

// RuleMatches reports whether one activity record satisfies one rule.
// It never fails at runtime: definitions are validated at publish time,
// and anything unexpected here simply does not match.
func RuleMatches(rule Rule, rec activity.Record) bool {
	switch rule.Kind {
	case RulePage:
		if rec.Kind != activity.KindPageView {
			return false
		}
		return compareString(pageField(rule.Field, rec), rule.Operator, rule.Value)
	case RuleEvent:
		if rec.Kind != activity.KindEvent || rec.Name != rule.Value {
			return false
		}
		for _, f := range rule.Filters {
			if !filterMatches(f, rec.Props) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// StepMatches reports whether any of the step's rules match the record
// (logical OR across rules). A step with zero rules never matches.
func StepMatches(step Step, rec activity.Record) bool {
	for _, rule := range step.Rules {
		if RuleMatches(rule, rec) {
			return true
		}
	}
	return false
}

// StepDisqualifies reports whether the record matches a disqualifying
// rule on the step. Decision steps use these to signal explicit
// abandonment.
func StepDisqualifies(step Step, rec activity.Record) bool {
	for _, rule := range step.Rules {
		if rule.Disqualify && RuleMatches(rule, rec) {
			return true
		}
	}
	return false
}

func pageField(field PageField, rec activity.Record) string {
	switch field {
	case FieldURL:
		return rec.URL
	case FieldPath:
		return rec.Path
	case FieldReferrer:
		return rec.Referrer
	default:
		return ""
	}
}

func compareString(actual string, op Operator, expected string) bool {
	switch op {
	case OpEquals:
		return actual == expected
	case OpContains:
		return strings.Contains(actual, expected)
	case OpRegex:
		// Pattern validity was checked at publish time.
		matched, err := regexp.MatchString(expected, actual)
		return err == nil && matched
	case OpGreaterThan, OpLessThan:
		return compareNumeric(actual, op, expected)
	default:
		return false
	}
}

// filterMatches evaluates one property filter against the record's bag.
// A missing property never matches.
func filterMatches(f PropertyFilter, props map[string]any) bool {
	raw, ok := props[f.Property]
	if !ok {
		return false
	}
	actual := propString(raw)
	switch f.Operator {
	case OpEquals:
		return actual == f.Value
	case OpContains:
		return strings.Contains(actual, f.Value)
	case OpGreaterThan, OpLessThan:
		return compareNumeric(actual, f.Operator, f.Value)
	default:
		return false
	}
}

func compareNumeric(actual string, op Operator, expected string) bool {
	a, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if err != nil {
		return false
	}
	e, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false
	}
	if op == OpGreaterThan {
		return a > e
	}
	return a < e
}

func propString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
