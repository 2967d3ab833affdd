package engine

// Event bus topics. The pending-job topic feeds the worker pool; the
// lifecycle topic carries job observability events for the reporter.
const (
	TopicPendingJob = "postvault.job.pending"
	TopicLifecycle  = "postvault.job.lifecycle"
)

const (
	EventStarted     = "started"
	EventPageFetched = "page_fetched"
	EventCompleted   = "completed"
	EventFailed      = "failed"
	EventCancelled   = "cancelled"
)

// LifecycleEvent is the structured job event published on TopicLifecycle.
// Plain JSON on the wire: this core owns no versioned byte format.
type LifecycleEvent struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
	Account string `json:"account"`
	Event   string `json:"event"`

	// Set on page_fetched.
	PageCount int `json:"page_count,omitempty"`

	// Set on terminal events.
	Collected  int    `json:"collected,omitempty"`
	Skipped    int    `json:"skipped,omitempty"`
	Failed     int    `json:"failed,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
