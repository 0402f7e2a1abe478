package model

// WebSocket message types
const (
	WSMessageTypeRun      = "run"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
)

// RunEvent is pushed to batch subscribers whenever a run changes state.
type RunEvent struct {
	Type    string   `json:"type"`
	BatchID string   `json:"batchId"`
	RunID   string   `json:"runId"`
	ImageID int64    `json:"imageId"`
	State   RunState `json:"state"`
	Nodes   int      `json:"nodes,omitempty"`
	Error   *string  `json:"error,omitempty"`
}

// WSCompleteMessage is sent once when a batch finishes.
type WSCompleteMessage struct {
	Type    string      `json:"type"`
	BatchID string      `json:"batchId"`
	Status  BatchStatus `json:"status"`
	Result  interface{} `json:"result,omitempty"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type    string  `json:"type"`
	BatchID string  `json:"batchId"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
