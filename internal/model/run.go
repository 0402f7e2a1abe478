package model

import "time"

// Run is the record of one image moving through the batch pipeline.
type Run struct {
	ID             string     `json:"id"`
	BatchID        string     `json:"batchId,omitempty"`
	ImageID        int64      `json:"imageId"`
	ImageName      string     `json:"imageName"`
	DatasetID      int64      `json:"datasetId"`
	Depth          int        `json:"depth"`
	State          RunState   `json:"state"`
	Nodes          int        `json:"nodes,omitempty"`
	Workspace      string     `json:"workspace,omitempty"`
	JobListPath    string     `json:"jobListPath,omitempty"`
	DescriptorPath string     `json:"descriptorPath,omitempty"`
	SchedulerJobID string     `json:"schedulerJobId,omitempty"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Batch groups the runs created for one submission request.
type Batch struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner"`
	Status      BatchStatus   `json:"status"`
	Request     SubmitRequest `json:"request"`
	RunIDs      []string      `json:"runIds"`
	Submitted   int           `json:"submitted"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// SubmitRequest carries the per-batch parameters a user chooses.
type SubmitRequest struct {
	Selection     Selection `json:"selection" yaml:"selection" validate:"required"`
	Macro         string    `json:"macro" yaml:"macro" validate:"required"`
	System        string    `json:"system,omitempty" yaml:"system,omitempty"`
	WallTime      string    `json:"wallTime,omitempty" yaml:"wallTime,omitempty" validate:"omitempty,walltime"`
	PrivateMemory string    `json:"privateMemory,omitempty" yaml:"privateMemory,omitempty" validate:"omitempty,memsize"`
	SessionID     string    `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
}

// BatchStartResponse is returned when a batch is queued.
type BatchStartResponse struct {
	BatchID   string      `json:"batchId"`
	Status    BatchStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// BatchStatusResponse reports a batch and its runs.
type BatchStatusResponse struct {
	Batch *Batch `json:"batch"`
	Runs  []*Run `json:"runs"`
}
