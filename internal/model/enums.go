package model

// Run states
type RunState string

const (
	RunStateEnumerated          RunState = "ENUMERATED"
	RunStateJobListWritten      RunState = "JOB_LIST_WRITTEN"
	RunStatePlanComputed        RunState = "PLAN_COMPUTED"
	RunStateDescriptorGenerated RunState = "DESCRIPTOR_GENERATED"
	RunStateSubmitted           RunState = "SUBMITTED"
	RunStateFailed              RunState = "FAILED"
	RunStateSkipped             RunState = "SKIPPED"
)

// next lists the single forward transition allowed out of each state.
var next = map[RunState]RunState{
	RunStateEnumerated:          RunStateJobListWritten,
	RunStateJobListWritten:      RunStatePlanComputed,
	RunStatePlanComputed:        RunStateDescriptorGenerated,
	RunStateDescriptorGenerated: RunStateSubmitted,
}

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return s == RunStateSubmitted || s == RunStateFailed || s == RunStateSkipped
}

// CanTransition reports whether moving from s to to is a legal step.
// Any non-terminal state may fail or be skipped.
func (s RunState) CanTransition(to RunState) bool {
	if s.Terminal() {
		return false
	}
	if to == RunStateFailed || to == RunStateSkipped {
		return true
	}
	return next[s] == to
}

// Batch states
type BatchStatus string

const (
	BatchStatusQueued    BatchStatus = "queued"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusSucceeded BatchStatus = "succeeded"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
)

// Selection data types
type DataType string

const (
	DataTypeImage   DataType = "Image"
	DataTypeDataset DataType = "Dataset"
)

var ValidDataTypes = []DataType{DataTypeImage, DataTypeDataset}
