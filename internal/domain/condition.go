// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"strconv"
	"strings"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
)

// Condition gates a step on one instance attribute. Attributes missing from
// the instance compare as the empty string.
type Condition struct {
	Field    string   `json:"field" yaml:"field" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required,oneof=equals not_equals greater_than less_than contains in"`
	Value    string   `json:"value" yaml:"value"`
}

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpIn:
		return true
	}
	return false
}

// Holds evaluates the condition against attrs. Numeric operators are false
// when either side does not parse as a number.
func (c Condition) Holds(attrs map[string]string) bool {
	actual := strings.TrimSpace(attrs[c.Field])
	want := strings.TrimSpace(c.Value)

	switch c.Operator {
	case OpEquals:
		return strings.EqualFold(actual, want)
	case OpNotEquals:
		return !strings.EqualFold(actual, want)
	case OpGreaterThan, OpLessThan:
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(want, 64)
		if errA != nil || errB != nil {
			return false
		}
		if c.Operator == OpGreaterThan {
			return a > b
		}
		return a < b
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(want))
	case OpIn:
		for _, candidate := range strings.Split(want, ",") {
			if strings.EqualFold(actual, strings.TrimSpace(candidate)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Applies reports whether a step gated by conds applies. An empty list is
// unconditional.
func Applies(conds []Condition, attrs map[string]string) bool {
	for _, c := range conds {
		if !c.Holds(attrs) {
			return false
		}
	}
	return true
}
