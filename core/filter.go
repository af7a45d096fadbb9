package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is a comparison operator usable in hunt filters and playbook
// step conditions
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpContains  Operator = "contains"
	OpGT        Operator = "gt"
	OpLT        Operator = "lt"
	OpGTE       Operator = "gte"
	OpLTE       Operator = "lte"
	OpIn        Operator = "in"
	OpRegex     Operator = "regex"
)

// IsValid checks if the operator is valid
func (o Operator) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpGT, OpLT, OpGTE, OpLTE, OpIn, OpRegex:
		return true
	}
	return false
}

// FieldFilter is one (field, operator, value) condition evaluated against
// a record field
type FieldFilter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// MatchesFilter evaluates a single comparison. Nil values never match
// (closed-world). String comparisons are case-insensitive. An invalid
// regex pattern is treated as a non-match, never an error: filters are
// user-authored and a bad pattern must not take down evaluation.
func MatchesFilter(value interface{}, operator Operator, comparand string) bool {
	if value == nil {
		return false
	}

	str := stringify(value)
	lower := strings.ToLower(str)
	cmpLower := strings.ToLower(comparand)

	switch operator {
	case OpEquals:
		return lower == cmpLower
	case OpNotEquals:
		return lower != cmpLower
	case OpContains:
		return strings.Contains(lower, cmpLower)
	case OpGT, OpLT, OpGTE, OpLTE:
		left, lok := toFloat(value)
		right, rok := toFloat(comparand)
		if !lok || !rok {
			return false
		}
		switch operator {
		case OpGT:
			return left > right
		case OpLT:
			return left < right
		case OpGTE:
			return left >= right
		default:
			return left <= right
		}
	case OpIn:
		for _, part := range strings.Split(comparand, ",") {
			if strings.TrimSpace(strings.ToLower(part)) == lower {
				return true
			}
		}
		return false
	case OpRegex:
		re, err := regexp.Compile(comparand)
		if err != nil {
			return false
		}
		return re.MatchString(str)
	}

	return false
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		f, err := strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
		return f, err == nil
	}
}
