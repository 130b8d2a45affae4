// Package track provides the user-facing job registry: bookkeeping of which
// background jobs a user currently has in flight, held in a TTL-bounded cache
// so clients can poll status without touching the execution engine.
package track

import "time"

// JobType identifies the kind of background work a tracked job represents.
type JobType string

const (
	JobTypeUnitBatchCreation  JobType = "unit-batch-creation"
	JobTypeCSVImport          JobType = "csv-import"
	JobTypeCSVValidation      JobType = "csv-validation"
	JobTypeMediaUpload        JobType = "media-upload"
	JobTypeDocumentProcessing JobType = "document-processing"
)

// IsValidJobType returns true if the string is a known JobType.
func IsValidJobType(s string) bool {
	switch JobType(s) {
	case JobTypeUnitBatchCreation, JobTypeCSVImport, JobTypeCSVValidation,
		JobTypeMediaUpload, JobTypeDocumentProcessing:
		return true
	default:
		return false
	}
}

// TrackedJob is one unit of background work visible to a user.
// Ownership is set at creation and never reassigned.
type TrackedJob struct {
	JobID     string            `json:"job_id"`
	JobType   JobType           `json:"job_type"`
	UserID    string            `json:"user_id"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Result is the uniform success/failure envelope returned by all registry
// operations. Cache errors are wrapped here rather than returned as Go
// errors, so callers never see a backend failure cross the boundary raw.
type Result[T any] struct {
	Success bool
	Data    T
	Err     error
}

// Ok builds a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed Result carrying the wrapped cause.
func Fail[T any](err error) Result[T] {
	return Result[T]{Success: false, Err: err}
}

// RemovedCount reports how many job ids RemoveCompleted actually removed.
type RemovedCount struct {
	Removed int64 `json:"removed_count"`
}
