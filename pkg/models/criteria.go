package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MatchType combines entry criteria conditions.
type MatchType string

const (
	MatchAll MatchType = "all" // AND
	MatchAny MatchType = "any" // OR
)

// Operator is a comparison operator applied to a record field.
type Operator string

const (
	OperatorEquals             Operator = "equals"
	OperatorNotEquals          Operator = "not_equals"
	OperatorContains           Operator = "contains"
	OperatorGreaterThan        Operator = "greater_than"
	OperatorGreaterThanOrEqual Operator = "greater_than_or_equal"
	OperatorLessThan           Operator = "less_than"
	OperatorLessThanOrEqual    Operator = "less_than_or_equal"
	OperatorIsNull             Operator = "is_null"
	OperatorIsNotNull          Operator = "is_not_null"
	OperatorIn                 Operator = "in"
	OperatorNotIn              Operator = "not_in"
	OperatorBetween            Operator = "between"
)

// Condition is a single (field, operator, value) check against a record.
type Condition struct {
	Field    string   `json:"field"    validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value,omitempty"`
}

// EntryCriteria gates whether a record may start a new execution.
// Empty criteria always match.
type EntryCriteria struct {
	Conditions []Condition `json:"conditions,omitempty"`
	MatchType  MatchType   `json:"match_type,omitempty"`
}

// IsEmpty reports whether no conditions are configured.
func (c EntryCriteria) IsEmpty() bool {
	return len(c.Conditions) == 0
}

// Matches evaluates the criteria against a record snapshot. A malformed
// condition returns an error so the caller can fail closed.
func (c EntryCriteria) Matches(record map[string]any) (bool, error) {
	if c.IsEmpty() {
		return true, nil
	}

	matchType := c.MatchType
	if matchType == "" {
		matchType = MatchAll
	}

	for _, condition := range c.Conditions {
		ok, err := condition.Evaluate(record)
		if err != nil {
			return false, fmt.Errorf("condition on field %q: %w", condition.Field, err)
		}

		if matchType == MatchAll && !ok {
			return false, nil
		}

		if matchType == MatchAny && ok {
			return true, nil
		}
	}

	return matchType == MatchAll, nil
}

// Evaluate applies the condition to a record snapshot.
func (c Condition) Evaluate(record map[string]any) (bool, error) {
	if c.Field == "" {
		return false, ErrConditionFieldRequired
	}

	actual, exists := record[c.Field]

	switch c.Operator {
	case OperatorIsNull:
		return !exists || actual == nil, nil
	case OperatorIsNotNull:
		return exists && actual != nil, nil
	case OperatorEquals:
		return valuesEqual(actual, c.Value), nil
	case OperatorNotEquals:
		return !valuesEqual(actual, c.Value), nil
	case OperatorContains:
		return strings.Contains(stringify(actual), stringify(c.Value)), nil
	case OperatorGreaterThan, OperatorGreaterThanOrEqual, OperatorLessThan, OperatorLessThanOrEqual:
		return c.evaluateOrdering(actual)
	case OperatorIn:
		return c.evaluateMembership(actual, true)
	case OperatorNotIn:
		return c.evaluateMembership(actual, false)
	case OperatorBetween:
		return c.evaluateBetween(actual)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
}

func (c Condition) evaluateOrdering(actual any) (bool, error) {
	left, err := toFloat(actual)
	if err != nil {
		return false, fmt.Errorf("left operand: %w", err)
	}

	right, err := toFloat(c.Value)
	if err != nil {
		return false, fmt.Errorf("right operand: %w", err)
	}

	switch c.Operator {
	case OperatorGreaterThan:
		return left > right, nil
	case OperatorGreaterThanOrEqual:
		return left >= right, nil
	case OperatorLessThan:
		return left < right, nil
	default:
		return left <= right, nil
	}
}

func (c Condition) evaluateMembership(actual any, wantMember bool) (bool, error) {
	values, err := toSlice(c.Value)
	if err != nil {
		return false, err
	}

	for _, candidate := range values {
		if valuesEqual(actual, candidate) {
			return wantMember, nil
		}
	}

	return !wantMember, nil
}

func (c Condition) evaluateBetween(actual any) (bool, error) {
	bounds, err := toSlice(c.Value)
	if err != nil {
		return false, err
	}

	if len(bounds) != 2 {
		return false, fmt.Errorf("%w: between requires exactly two bounds, got %d", ErrMalformedCondition, len(bounds))
	}

	value, err := toFloat(actual)
	if err != nil {
		return false, err
	}

	low, err := toFloat(bounds[0])
	if err != nil {
		return false, err
	}

	high, err := toFloat(bounds[1])
	if err != nil {
		return false, err
	}

	return value >= low && value <= high, nil
}

// valuesEqual compares loosely: numbers compare numerically, everything else
// by string form. Entry criteria values arrive as JSON so numeric types vary.
func valuesEqual(a, b any) bool {
	aNum, aErr := toFloat(a)
	bNum, bErr := toFloat(b)

	if aErr == nil && bErr == nil {
		return aNum == bNum
	}

	return stringify(a) == stringify(b)
}

func stringify(v any) string {
	if v == nil {
		return ""
	}

	return fmt.Sprintf("%v", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrMalformedCondition, n)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: %T is not numeric", ErrMalformedCondition, v)
	}
}

func toSlice(v any) ([]any, error) {
	switch values := v.(type) {
	case []any:
		return values, nil
	case []string:
		result := make([]any, len(values))
		for i, s := range values {
			result[i] = s
		}

		return result, nil
	default:
		return nil, fmt.Errorf("%w: expected a list value, got %T", ErrMalformedCondition, v)
	}
}
