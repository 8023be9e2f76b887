package model

// JobState is the lifecycle of a background upload job.
type JobState string

const (
	JobStateEnqueued JobState = "enqueued"
	JobStateRunning  JobState = "running"
	JobStateSuccess  JobState = "success"
	JobStateRetry    JobState = "retry"
	JobStateFailure  JobState = "failure"
)

// UploadJob mirrors one captured message to the backend. Jobs are keyed by
// the originating message id so a re-enqueue replaces the pending job
// instead of duplicating it.
type UploadJob struct {
	MessageID int64  `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds, from Message.DateMs
	Attempts  int    `json:"attempts"`
	State     JobState `json:"state"`
}
