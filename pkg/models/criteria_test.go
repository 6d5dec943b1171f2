package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryCriteria_EmptyAlwaysMatches(t *testing.T) {
	criteria := EntryCriteria{}

	ok, err := criteria.Matches(map[string]any{"status": "new"})

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntryCriteria_MatchAll(t *testing.T) {
	criteria := EntryCriteria{
		MatchType: MatchAll,
		Conditions: []Condition{
			{Field: "status", Operator: OperatorEquals, Value: "new"},
			{Field: "source", Operator: OperatorEquals, Value: "web"},
		},
	}

	ok, err := criteria.Matches(map[string]any{"status": "new", "source": "web"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = criteria.Matches(map[string]any{"status": "new", "source": "referral"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntryCriteria_MatchAny(t *testing.T) {
	criteria := EntryCriteria{
		MatchType: MatchAny,
		Conditions: []Condition{
			{Field: "status", Operator: OperatorEquals, Value: "new"},
			{Field: "source", Operator: OperatorEquals, Value: "web"},
		},
	}

	ok, err := criteria.Matches(map[string]any{"status": "lost", "source": "web"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = criteria.Matches(map[string]any{"status": "lost", "source": "referral"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntryCriteria_DefaultsToMatchAll(t *testing.T) {
	criteria := EntryCriteria{
		Conditions: []Condition{
			{Field: "status", Operator: OperatorEquals, Value: "new"},
			{Field: "source", Operator: OperatorEquals, Value: "web"},
		},
	}

	ok, err := criteria.Matches(map[string]any{"status": "new", "source": "referral"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCondition_Operators(t *testing.T) {
	record := map[string]any{
		"status":       "active",
		"amount":       float64(150),
		"city":         "Portland, OR",
		"tags":         nil,
		"visits":       3,
		"email":        "family@example.com",
		"service_type": "postpartum",
	}

	tests := []struct {
		name      string
		condition Condition
		want      bool
	}{
		{"equals true", Condition{Field: "status", Operator: OperatorEquals, Value: "active"}, true},
		{"equals false", Condition{Field: "status", Operator: OperatorEquals, Value: "archived"}, false},
		{"equals numeric coercion", Condition{Field: "amount", Operator: OperatorEquals, Value: "150"}, true},
		{"not_equals", Condition{Field: "status", Operator: OperatorNotEquals, Value: "archived"}, true},
		{"contains", Condition{Field: "city", Operator: OperatorContains, Value: "Portland"}, true},
		{"contains false", Condition{Field: "city", Operator: OperatorContains, Value: "Seattle"}, false},
		{"greater_than", Condition{Field: "amount", Operator: OperatorGreaterThan, Value: 100}, true},
		{"greater_than_or_equal boundary", Condition{Field: "amount", Operator: OperatorGreaterThanOrEqual, Value: 150}, true},
		{"less_than", Condition{Field: "visits", Operator: OperatorLessThan, Value: 5}, true},
		{"less_than_or_equal", Condition{Field: "visits", Operator: OperatorLessThanOrEqual, Value: 3}, true},
		{"is_null on nil", Condition{Field: "tags", Operator: OperatorIsNull}, true},
		{"is_null on missing field", Condition{Field: "missing", Operator: OperatorIsNull}, true},
		{"is_not_null", Condition{Field: "email", Operator: OperatorIsNotNull}, true},
		{"in", Condition{Field: "service_type", Operator: OperatorIn, Value: []any{"birth", "postpartum"}}, true},
		{"in false", Condition{Field: "service_type", Operator: OperatorIn, Value: []any{"birth", "sibling"}}, false},
		{"not_in", Condition{Field: "service_type", Operator: OperatorNotIn, Value: []any{"birth"}}, true},
		{"between inside", Condition{Field: "amount", Operator: OperatorBetween, Value: []any{100, 200}}, true},
		{"between outside", Condition{Field: "amount", Operator: OperatorBetween, Value: []any{200, 300}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.condition.Evaluate(record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCondition_MalformedReturnsError(t *testing.T) {
	record := map[string]any{"status": "active"}

	_, err := Condition{Field: "status", Operator: "matches_regex", Value: ".*"}.Evaluate(record)
	require.ErrorIs(t, err, ErrUnknownOperator)

	_, err = Condition{Field: "status", Operator: OperatorGreaterThan, Value: "ten"}.Evaluate(record)
	require.ErrorIs(t, err, ErrMalformedCondition)

	_, err = Condition{Field: "status", Operator: OperatorIn, Value: "not-a-list"}.Evaluate(record)
	require.ErrorIs(t, err, ErrMalformedCondition)

	_, err = Condition{Field: "status", Operator: OperatorBetween, Value: []any{1}}.Evaluate(record)
	require.ErrorIs(t, err, ErrMalformedCondition)

	_, err = Condition{Operator: OperatorEquals, Value: "x"}.Evaluate(record)
	require.ErrorIs(t, err, ErrConditionFieldRequired)
}

func TestEntryCriteria_MalformedConditionPropagates(t *testing.T) {
	criteria := EntryCriteria{
		MatchType: MatchAll,
		Conditions: []Condition{
			{Field: "amount", Operator: OperatorBetween, Value: "broken"},
		},
	}

	_, err := criteria.Matches(map[string]any{"amount": 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount")
}
