// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	Init()

	before := testutil.ToFloat64(instanceStatusCounter.WithLabelValues(string(domain.InstanceCompleted)))
	IncInstanceStatus(domain.InstanceCompleted)
	after := testutil.ToFloat64(instanceStatusCounter.WithLabelValues(string(domain.InstanceCompleted)))
	if after != before+1 {
		t.Fatalf("expected completed counter to grow by 1, got %v -> %v", before, after)
	}

	before = testutil.ToFloat64(stepActionsCounter.WithLabelValues(string(domain.ActionReject)))
	IncStepAction(domain.ActionReject)
	after = testutil.ToFloat64(stepActionsCounter.WithLabelValues(string(domain.ActionReject)))
	if after != before+1 {
		t.Fatalf("expected reject counter to grow by 1, got %v -> %v", before, after)
	}

	before = testutil.ToFloat64(overdueStepsCounter)
	IncOverdueSteps()
	if got := testutil.ToFloat64(overdueStepsCounter); got != before+1 {
		t.Fatalf("expected overdue counter to grow by 1, got %v -> %v", before, got)
	}
}

func TestObserveStepDecision(t *testing.T) {
	ObserveStepDecision(90 * time.Second)
	if n := testutil.CollectAndCount(stepDecisionLatency); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}
