package models

import "time"

// BatchStatus mirrors the remote batch lifecycle. Poll maps provider
// states onto these values; anything unrecognized becomes StatusUnknown.
type BatchStatus string

const (
	BatchValidating BatchStatus = "validating"
	BatchInProgress BatchStatus = "in_progress"
	BatchFinalizing BatchStatus = "finalizing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchExpired    BatchStatus = "expired"
	BatchCancelling BatchStatus = "cancelling"
	BatchCancelled  BatchStatus = "cancelled"
	BatchUnknown    BatchStatus = "unknown"
)

// Terminal reports whether the status is final. A terminal job never
// changes on further polls.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}

// BatchRequestCounts summarizes request progress inside a batch.
type BatchRequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchJob is the persisted handle for an asynchronous extraction job.
// The ID alone is enough to resume polling after a process restart; the
// remaining fields are bookkeeping for status display and collection.
type BatchJob struct {
	ID      string `json:"id"`      // Remote batch identifier
	Project string `json:"project"` // Owning project name
	File    string `json:"file"`    // Source file inside the project

	Model   string `json:"model"`   // Model the requests were built for
	Samples int    `json:"samples"` // Requests per page
	Pages   int    `json:"pages"`   // Number of pages submitted

	Status        BatchStatus        `json:"status"`
	RequestCounts BatchRequestCounts `json:"request_counts"`
	Error         string             `json:"error,omitempty"`          // Remote failure message, not a transport error
	OutputFileID  string             `json:"output_file_id,omitempty"` // Set once results are ready

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
