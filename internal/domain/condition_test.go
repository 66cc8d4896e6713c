// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionHolds(t *testing.T) {
	attrs := map[string]string{
		"amount":     "12500.50",
		"department": "Procurement",
		"vendor":     "Acme Industrial Supply",
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals ignores case", Condition{Field: "department", Operator: OpEquals, Value: "procurement"}, true},
		{"equals mismatch", Condition{Field: "department", Operator: OpEquals, Value: "finance"}, false},
		{"not equals", Condition{Field: "department", Operator: OpNotEquals, Value: "finance"}, true},
		{"greater than", Condition{Field: "amount", Operator: OpGreaterThan, Value: "10000"}, true},
		{"less than", Condition{Field: "amount", Operator: OpLessThan, Value: "10000"}, false},
		{"numeric on text is false", Condition{Field: "vendor", Operator: OpGreaterThan, Value: "1"}, false},
		{"contains", Condition{Field: "vendor", Operator: OpContains, Value: "industrial"}, true},
		{"in list", Condition{Field: "department", Operator: OpIn, Value: "Finance, Procurement"}, true},
		{"not in list", Condition{Field: "department", Operator: OpIn, Value: "Finance,HR"}, false},
		{"missing field equals empty", Condition{Field: "region", Operator: OpEquals, Value: ""}, true},
		{"unknown operator", Condition{Field: "amount", Operator: Operator("between"), Value: "1"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cond.Holds(attrs))
		})
	}
}

func TestApplies(t *testing.T) {
	attrs := map[string]string{"amount": "500"}

	assert.True(t, Applies(nil, attrs), "no conditions is unconditional")
	assert.True(t, Applies(nil, nil))
	assert.False(t, Applies([]Condition{
		{Field: "amount", Operator: OpGreaterThan, Value: "100"},
		{Field: "amount", Operator: OpGreaterThan, Value: "1000"},
	}, attrs), "every condition must hold")
}

func TestInstanceCloneIsDeep(t *testing.T) {
	inst := WorkflowInstance{
		Steps:      []WorkflowStep{{Name: "Manager Review", Comments: []string{"Approved: ok"}}},
		Attributes: map[string]string{"amount": "10"},
	}

	cp := inst.Clone()
	cp.Steps[0].Comments[0] = "changed"
	cp.Steps[0].Status = StepRejected
	cp.Attributes["amount"] = "99"

	assert.Equal(t, "Approved: ok", inst.Steps[0].Comments[0])
	assert.Equal(t, StepStatus(""), inst.Steps[0].Status)
	assert.Equal(t, "10", inst.Attributes["amount"])
}
