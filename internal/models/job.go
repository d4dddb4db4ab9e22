package models

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobAssigned  JobStatus = "assigned"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is an end state for a job.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Assigned reports whether a job in this status has a machine attached.
// Invariant: Job.MachineID is non-empty exactly when this is true.
func (s JobStatus) Assigned() bool {
	return s == JobAssigned || s == JobRunning || s.Terminal()
}

// Job is a unit of submitted work. The payload is an opaque serialized
// function; the coordinator only carries it to the assigned machine and
// never inspects it.
type Job struct {
	ID           string     `json:"id"`
	CreatorID    string     `json:"creator_id"`
	MachineID    string     `json:"machine_id,omitempty"`
	Status       JobStatus  `json:"status"`
	Payload      []byte     `json:"payload,omitempty"`
	ResultURL    string     `json:"result_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

const EventStartJob = "START_JOB"

// DispatchEvent is published on the event bus once per successful claim
// and forwarded verbatim to the machine's live connection. It is never
// persisted; a machine that is offline at publish time misses it.
type DispatchEvent struct {
	Event     string `json:"event"`
	MachineID string `json:"machine_id"`
	JobID     string `json:"job_id"`
	Payload   string `json:"payload"`
}
