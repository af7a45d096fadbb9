package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesFilter_NilNeverMatches(t *testing.T) {
	for _, op := range []Operator{OpEquals, OpNotEquals, OpContains, OpGT, OpIn, OpRegex} {
		assert.False(t, MatchesFilter(nil, op, "x"), "operator %s must not match nil", op)
	}
}

func TestMatchesFilter_Equals(t *testing.T) {
	assert.True(t, MatchesFilter("ABC", OpEquals, "abc"), "equals is case-insensitive")
	assert.True(t, MatchesFilter("abc", OpEquals, "ABC"))
	assert.False(t, MatchesFilter("abc", OpEquals, "abd"))
	assert.True(t, MatchesFilter(42, OpEquals, "42"))
}

func TestMatchesFilter_NotEquals(t *testing.T) {
	assert.False(t, MatchesFilter("ABC", OpNotEquals, "abc"))
	assert.True(t, MatchesFilter("abc", OpNotEquals, "xyz"))
}

func TestMatchesFilter_Contains(t *testing.T) {
	assert.True(t, MatchesFilter("failed login from admin", OpContains, "Admin"))
	assert.False(t, MatchesFilter("failed login", OpContains, "success"))
}

func TestMatchesFilter_NumericOrdering(t *testing.T) {
	assert.True(t, MatchesFilter(10, OpGT, "5"))
	assert.False(t, MatchesFilter(10, OpGT, "10"))
	assert.True(t, MatchesFilter(10, OpGTE, "10"))
	assert.True(t, MatchesFilter(float64(3.5), OpLT, "4"))
	assert.True(t, MatchesFilter("7", OpLTE, "7"))
	// Non-numeric operands never satisfy ordering operators
	assert.False(t, MatchesFilter("abc", OpGT, "5"))
	assert.False(t, MatchesFilter(5, OpGT, "abc"))
}

func TestMatchesFilter_In(t *testing.T) {
	assert.True(t, MatchesFilter("medium", OpIn, "low, medium, high"))
	assert.True(t, MatchesFilter("HIGH", OpIn, "low,medium,high"))
	assert.False(t, MatchesFilter("critical", OpIn, "low,medium,high"))
}

func TestMatchesFilter_Regex(t *testing.T) {
	assert.True(t, MatchesFilter("brute_force_ssh", OpRegex, `^brute_force`))
	assert.False(t, MatchesFilter("normal_login", OpRegex, `^brute_force`))
	// Invalid pattern is a non-match, never a panic or error
	assert.False(t, MatchesFilter("x", OpRegex, "("))
}

func TestMatchesFilter_UnknownOperator(t *testing.T) {
	assert.False(t, MatchesFilter("x", Operator("between"), "a,b"))
}
