package domain

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job correlates a client session with the prompt the engine queued for it.
// SessionID is generated locally for every run; PromptID is assigned by the
// engine on submission.
type Job struct {
	SessionID string
	PromptID  string
	Status    JobStatus
}
