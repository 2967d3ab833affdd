package model

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of a collection job. Transitions are
// monotonic: pending -> running -> completed|failed, and pending|running
// -> cancelled. There is no transition out of a terminal state.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobTypeCollectPosts is the only job type currently understood by the
// orchestrator.
const JobTypeCollectPosts = "collect_posts"

// Recognized keys in Job.Params. Unrecognized keys are ignored, not
// rejected.
const (
	ParamMaxPosts = "max_posts"
	ParamUsername = "username"
	ParamSinceID  = "since_id"
)

// Job is one bounded execution of the collection loop. It is created in
// pending by a submission, owned exclusively by the orchestrator while
// running, and immutable once terminal.
type Job struct {
	JobID     string    `gorm:"primaryKey;size:36" json:"job_id"`
	JobType   string    `gorm:"size:50;index;not null" json:"job_type"`
	Status    JobStatus `gorm:"size:20;index;not null" json:"status"`
	Account   string    `gorm:"size:100;index;not null" json:"account"`

	Params datatypes.JSONMap `json:"params"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PostsCollected int `json:"posts_collected"`
	PostsSkipped   int `json:"posts_skipped"`
	PostsFailed    int `json:"posts_failed"`

	SourceUsed   PostSource `gorm:"size:20" json:"source_used,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Duration returns how long the job has been (or was) executing. Zero if
// the job never started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

func (j *Job) MarkStarted() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

func (j *Job) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(errorMessage string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.ErrorMessage = errorMessage
}

func (j *Job) MarkCancelled() {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
}
