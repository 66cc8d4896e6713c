// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	workflowsStartedCounter  *prometheus.CounterVec
	instanceStatusCounter    *prometheus.CounterVec
	stepActionsCounter       *prometheus.CounterVec
	stepDecisionLatency      prometheus.Histogram
	overdueStepsCounter      prometheus.Counter
	lifecyclePublishFailures prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		workflowsStartedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflows_started_total",
				Help: "Total number of workflow instances started by template category.",
			},
			[]string{"category"},
		)

		instanceStatusCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_instances_total",
				Help: "Total number of workflow instance status transitions by status.",
			},
			[]string{"status"},
		)

		stepActionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_step_actions_total",
				Help: "Total number of approve/reject decisions on workflow steps.",
			},
			[]string{"action"},
		)

		stepDecisionLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "workflow_step_decision_seconds",
				Help:    "Time between a step becoming in-progress and its decision.",
				Buckets: []float64{60, 600, 3600, 4 * 3600, 24 * 3600, 3 * 24 * 3600, 7 * 24 * 3600},
			},
		)

		overdueStepsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_overdue_steps_total",
				Help: "Total number of steps flagged as past their due date.",
			},
		)

		lifecyclePublishFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_lifecycle_publish_failures_total",
				Help: "Total number of lifecycle messages that could not be published.",
			},
		)

		prometheus.MustRegister(
			workflowsStartedCounter,
			instanceStatusCounter,
			stepActionsCounter,
			stepDecisionLatency,
			overdueStepsCounter,
			lifecyclePublishFailures,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.InstanceStatus{
			domain.InstanceActive,
			domain.InstanceCompleted,
			domain.InstanceCancelled,
			domain.InstanceOnHold,
		} {
			instanceStatusCounter.WithLabelValues(string(status))
		}
		for _, action := range []domain.Action{
			domain.ActionApprove,
			domain.ActionReject,
		} {
			stepActionsCounter.WithLabelValues(string(action))
		}
	})
}

// Handler serves the default registry after making sure the workflow
// metrics are registered.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

func IncWorkflowStarted(category string) {
	Init()
	workflowsStartedCounter.WithLabelValues(category).Inc()
}

func IncInstanceStatus(status domain.InstanceStatus) {
	Init()
	instanceStatusCounter.WithLabelValues(string(status)).Inc()
}

func IncStepAction(action domain.Action) {
	Init()
	stepActionsCounter.WithLabelValues(string(action)).Inc()
}

func ObserveStepDecision(d time.Duration) {
	Init()
	stepDecisionLatency.Observe(d.Seconds())
}

func IncOverdueSteps() {
	Init()
	overdueStepsCounter.Inc()
}

func IncPublishFailures() {
	Init()
	lifecyclePublishFailures.Inc()
}
