package jobs

import "time"

// Status follows pending -> submitted -> polling -> {succeeded | failed | timed_out}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusPolling   Status = "polling"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// Resumable reports whether a job already has a remote job to poll.
func (j *BatchJob) Resumable() bool {
	return (j.Status == StatusSubmitted || j.Status == StatusPolling) && j.RemoteJobID != ""
}

// BatchJob tracks one handed-off batch. Frame bytes are never part of it.
type BatchJob struct {
	ID          string    `json:"id"`
	RemoteJobID string    `json:"remote_job_id,omitempty"`
	Captures    int       `json:"captures"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	Records     int       `json:"records"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
