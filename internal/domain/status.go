// SPDX-License-Identifier: Apache-2.0

package domain

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepRejected   StepStatus = "rejected"
	StepSkipped    StepStatus = "skipped"
)

type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
	InstanceCancelled InstanceStatus = "cancelled"
	// InstanceOnHold is accepted by the store but no transition produces it.
	InstanceOnHold InstanceStatus = "on-hold"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// stepTransitions lists the forward moves a step may make.
var stepTransitions = map[StepStatus][]StepStatus{
	StepPending:    {StepInProgress, StepSkipped},
	StepInProgress: {StepCompleted, StepRejected},
}

// CanTransition reports whether a step may move from one status to another.
func CanTransition(from, to StepStatus) bool {
	for _, next := range stepTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepRejected, StepSkipped:
		return true
	}
	return false
}

func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepRejected || s == StepSkipped
}

func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceActive, InstanceCompleted, InstanceCancelled, InstanceOnHold:
		return true
	}
	return false
}

func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted || s == InstanceCancelled
}

func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionReject
}
