package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeCalls_Empty(t *testing.T) {
	order, cycles := AnalyzeCalls(nil)
	assert.Empty(t, order)
	assert.Empty(t, cycles)
}

func TestAnalyzeCalls_CalleesFirst(t *testing.T) {
	order, cycles := AnalyzeCalls(map[string][]string{
		"a": {"b", "c"},
		"b": {"c"},
		"c": nil,
	})
	assert.Empty(t, cycles)
	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestAnalyzeCalls_IgnoresUnknownCallees(t *testing.T) {
	order, cycles := AnalyzeCalls(map[string][]string{
		"a": {"not_a_function"},
	})
	assert.Empty(t, cycles)
	assert.Equal(t, []string{"a"}, order)
}

func TestAnalyzeCalls_SelfCall(t *testing.T) {
	_, cycles := AnalyzeCalls(map[string][]string{
		"f": {"f"},
	})
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"f", "f"}, cycles[0].Path)
	assert.Equal(t, "function f calls itself", cycles[0].Message)
}

func TestAnalyzeCalls_MutualRecursion(t *testing.T) {
	order, cycles := AnalyzeCalls(map[string][]string{
		"even": {"odd"},
		"odd":  {"even"},
		"main": {"even"},
	})
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"even", "odd", "even"}, cycles[0].Path)
	assert.Equal(t, "recursive calls: even -> odd -> even", cycles[0].Message)
	assert.Equal(t, []string{"even", "odd", "main"}, order)
}

func TestAnalyzeCalls_Deterministic(t *testing.T) {
	calls := map[string][]string{
		"a": {"x"}, "b": {"x"}, "c": {"x"}, "x": nil,
	}
	first, _ := AnalyzeCalls(calls)
	for range 20 {
		again, _ := AnalyzeCalls(calls)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"x", "a", "b", "c"}, first)
}
