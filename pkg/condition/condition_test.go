package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/flowlane/pkg/contact"
	"github.com/flowlane/flowlane/pkg/protocol"
)

type fakeEventIndex struct {
	seen map[string]bool
}

func (f *fakeEventIndex) Seen(_ context.Context, contactID, stepID string, kind protocol.EmailEventKind) (bool, error) {
	return f.seen[contactID+"/"+stepID+"/"+string(kind)], nil
}

func testSnapshot() *contact.Snapshot {
	return &contact.Snapshot{
		ID:    "c1",
		Email: "jordan@example.com",
		Attributes: map[string]string{
			"company": "Acme",
			"score":   "42",
		},
		CustomFields: map[string]string{
			"plan": "pro",
		},
		Tags:    []string{"vip", "beta"},
		ListIDs: []int64{7, 12},
	}
}

func TestEvaluate_HasTag(t *testing.T) {
	snapshot := testSnapshot()

	result, err := Evaluate(t.Context(), map[string]any{"kind": KindHasTag, "tag": "vip"}, snapshot, nil)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(t.Context(), map[string]any{"kind": KindHasTag, "tag": "missing"}, snapshot, nil)
	require.NoError(t, err)
	assert.False(t, result)

	_, err = Evaluate(t.Context(), map[string]any{"kind": KindHasTag}, snapshot, nil)
	assert.Error(t, err)
}

func TestEvaluate_InList(t *testing.T) {
	snapshot := testSnapshot()

	result, err := Evaluate(t.Context(), map[string]any{"kind": KindInList, "list_id": float64(7)}, snapshot, nil)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(t.Context(), map[string]any{"kind": KindInList, "list_id": 99}, snapshot, nil)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_FieldValue(t *testing.T) {
	snapshot := testSnapshot()

	tests := []struct {
		name     string
		config   map[string]any
		expected bool
	}{
		{
			name:     "equals_standard_attribute",
			config:   map[string]any{"kind": KindFieldValue, "field": "company", "operator": OpEquals, "value": "Acme"},
			expected: true,
		},
		{
			name:     "equals_custom_field",
			config:   map[string]any{"kind": KindFieldValue, "field": "plan", "operator": OpEquals, "value": "pro"},
			expected: true,
		},
		{
			name:     "not_equals",
			config:   map[string]any{"kind": KindFieldValue, "field": "company", "operator": OpNotEquals, "value": "Globex"},
			expected: true,
		},
		{
			name:     "contains",
			config:   map[string]any{"kind": KindFieldValue, "field": "email", "operator": OpContains, "value": "@example"},
			expected: true,
		},
		{
			name:     "not_contains",
			config:   map[string]any{"kind": KindFieldValue, "field": "email", "operator": OpNotContains, "value": "@corp"},
			expected: true,
		},
		{
			name:     "starts_with",
			config:   map[string]any{"kind": KindFieldValue, "field": "company", "operator": OpStartsWith, "value": "Ac"},
			expected: true,
		},
		{
			name:     "ends_with",
			config:   map[string]any{"kind": KindFieldValue, "field": "company", "operator": OpEndsWith, "value": "me"},
			expected: true,
		},
		{
			name:     "is_empty_on_missing_field",
			config:   map[string]any{"kind": KindFieldValue, "field": "nickname", "operator": OpIsEmpty},
			expected: true,
		},
		{
			name:     "is_not_empty",
			config:   map[string]any{"kind": KindFieldValue, "field": "company", "operator": OpIsNotEmpty},
			expected: true,
		},
		{
			name:     "greater_than_numeric",
			config:   map[string]any{"kind": KindFieldValue, "field": "score", "operator": OpGreaterThan, "value": 40},
			expected: true,
		},
		{
			name:     "less_than_numeric",
			config:   map[string]any{"kind": KindFieldValue, "field": "score", "operator": OpLessThan, "value": 40},
			expected: false,
		},
		{
			name:     "greater_than_non_numeric_actual",
			config:   map[string]any{"kind": KindFieldValue, "field": "company", "operator": OpGreaterThan, "value": 1},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Evaluate(t.Context(), tt.config, snapshot, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluate_FieldValue_NonNumericExpected(t *testing.T) {
	_, err := Evaluate(t.Context(), map[string]any{
		"kind": KindFieldValue, "field": "score", "operator": OpGreaterThan, "value": "abc",
	}, testSnapshot(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not numeric")
}

func TestEvaluate_EmailEvents_NilIndex(t *testing.T) {
	// Without an events index email engagement conditions evaluate false.
	result, err := Evaluate(t.Context(), map[string]any{
		"kind": KindEmailOpened, "step_id": "s1",
	}, testSnapshot(), nil)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_EmailEvents_WithIndex(t *testing.T) {
	index := &fakeEventIndex{seen: map[string]bool{
		"c1/s1/opened":  true,
		"c1/s1/clicked": false,
	}}

	result, err := Evaluate(t.Context(), map[string]any{
		"kind": KindEmailOpened, "step_id": "s1",
	}, testSnapshot(), index)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(t.Context(), map[string]any{
		"kind": KindLinkClicked, "step_id": "s1",
	}, testSnapshot(), index)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	snapshot := testSnapshot()
	config := map[string]any{"kind": KindFieldValue, "field": "company", "operator": OpEquals, "value": "Acme"}

	first, err := Evaluate(t.Context(), config, snapshot, nil)
	require.NoError(t, err)

	for range 10 {
		again, err := Evaluate(t.Context(), config, snapshot, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluate_UnknownKind(t *testing.T) {
	_, err := Evaluate(t.Context(), map[string]any{"kind": "magic"}, testSnapshot(), nil)
	assert.Error(t, err)
}
