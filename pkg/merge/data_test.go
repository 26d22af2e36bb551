package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestData_SmartListUnion(t *testing.T) {
	got := Data([]map[string]any{
		{"x": []any{1, 2}},
		{"x": []any{2, 3}},
	}, ModeSmart)

	assert.Equal(t, map[string]any{"x": []any{1, 2, 3}}, got)
}

func TestData_SmartRecursiveMapping(t *testing.T) {
	got := Data([]map[string]any{
		{"a": map[string]any{"b": 1}},
		{"a": map[string]any{"c": 2}},
	}, ModeSmart)

	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1, "c": 2}}, got)
}

func TestData_SmartScalarLastWins(t *testing.T) {
	got := Data([]map[string]any{
		{"status": "working", "count": 1},
		{"status": "completed"},
	}, ModeSmart)

	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, 1, got["count"])
}

func TestData_SmartStructuredDedupe(t *testing.T) {
	got := Data([]map[string]any{
		{"records": []any{map[string]any{"id": 1, "name": "a"}}},
		{"records": []any{map[string]any{"name": "a", "id": 1}, map[string]any{"id": 2}}},
	}, ModeSmart)

	records, ok := got["records"].([]any)
	require.True(t, ok)
	assert.Len(t, records, 2)
}

func TestData_SmartTypeMismatchOverwrites(t *testing.T) {
	got := Data([]map[string]any{
		{"v": []any{1}},
		{"v": "scalar"},
	}, ModeSmart)

	assert.Equal(t, "scalar", got["v"])
}

func TestData_DoesNotMutateInput(t *testing.T) {
	first := map[string]any{"a": map[string]any{"b": 1}}
	second := map[string]any{"a": map[string]any{"c": 2}}

	_ = Data([]map[string]any{first, second}, ModeSmart)

	assert.Equal(t, map[string]any{"b": 1}, first["a"])
}

func TestData_Last(t *testing.T) {
	got := Data([]map[string]any{{"x": 1}, {"x": 2}}, ModeLast)
	assert.Equal(t, map[string]any{"x": 2}, got)

	got = Data([]map[string]any{{"x": 1}, {}}, ModeLast)
	assert.Equal(t, map[string]any{"x": 1}, got)
}

func TestData_Empty(t *testing.T) {
	assert.Equal(t, map[string]any{}, Data(nil, ModeSmart))
	assert.Equal(t, map[string]any{}, Data(nil, ModeLast))
	assert.Nil(t, Data([]map[string]any{{"x": 1}}, ModeNone))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeLast, ParseMode("last"))
	assert.Equal(t, ModeNone, ParseMode(" NONE "))
	assert.Equal(t, ModeSmart, ParseMode("smart"))
	assert.Equal(t, ModeSmart, ParseMode("whatever"))
}
