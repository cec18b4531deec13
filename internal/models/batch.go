package models

import "time"

// Batch job lifecycle states.
const (
	BatchStatusPending   = "pending"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
	BatchStatusCancelled = "cancelled"
)

// BatchJobModel tracks a submitted batch of routing requests. Items
// succeed or fail individually; the job completes when every item has
// a terminal state.
type BatchJobModel struct {
	Base
	Status            string     `json:"status"             gorm:"index;default:'pending'"`
	Operation         string     `json:"operation"          gorm:"index"`
	TotalRequests     int        `json:"total_requests"`
	CompletedRequests int        `json:"completed_requests"`
	FailedRequests    int        `json:"failed_requests"`
	SubmittedBy       string     `json:"submitted_by"       gorm:"index"`
	StartedAt         *time.Time `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at"`
}

func (BatchJobModel) TableName() string { return "batch_jobs" }

// BatchJobRequestModel is one item inside a batch job.
type BatchJobRequestModel struct {
	Base
	JobID        string `json:"job_id"        gorm:"index;not null"`
	Idx          int    `json:"idx"`
	TaskType     string `json:"task_type"`
	Status       string `json:"status"        gorm:"index;default:'pending'"`
	InvocationID string `json:"invocation_id" gorm:"index"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`
	ContentRef   string `json:"content_ref,omitempty"`
}

func (BatchJobRequestModel) TableName() string { return "batch_job_requests" }
