// -----------------------------------------------------------------------
// Extraction Job - persisted status record for one user's extraction
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobStatus is the lifecycle state of an extraction job.
// The literal values are part of the public status API.
type JobStatus string

const (
	// JobStatusNone is the status of a job that has no persisted record
	JobStatusNone          JobStatus = ""
	JobStatusStarting      JobStatus = "starting"
	JobStatusAwaitingLogin JobStatus = "awaiting_login"
	JobStatusExtracting    JobStatus = "extracting"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusError         JobStatus = "error"
)

// transitions lists the forward edges of the status state machine.
// error is reachable from every non-terminal state and is added in CanTransition.
var transitions = map[JobStatus][]JobStatus{
	JobStatusNone:          {JobStatusStarting},
	JobStatusStarting:      {JobStatusStarting, JobStatusAwaitingLogin, JobStatusExtracting},
	JobStatusAwaitingLogin: {JobStatusAwaitingLogin, JobStatusExtracting},
	JobStatusExtracting:    {JobStatusExtracting, JobStatusCompleted},
}

// IsTerminal reports whether no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// IsActive reports whether a run is progressing the job
func (s JobStatus) IsActive() bool {
	return s == JobStatusStarting || s == JobStatusAwaitingLogin || s == JobStatusExtracting
}

// IsValid reports whether s is one of the published status literals
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusStarting, JobStatusAwaitingLogin, JobStatusExtracting, JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal narrative update.
// Self-transitions are allowed for progress messages within a phase.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusError {
		return s != JobStatusNone
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ExtractionJob is the status record for one caller key (the user's email).
// JSON field names form the GET /extract/{userEmail} response.
type ExtractionJob struct {
	UserEmail   string    `json:"userEmail" badgerhold:"key"`
	Status      JobStatus `json:"status" badgerhold:"index"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"sessionId,omitempty"`
	Message     string    `json:"message,omitempty"`
	LiveViewURL string    `json:"liveViewUrl,omitempty"`
	RunID       string    `json:"runId,omitempty"`
	OrderCount  int       `json:"orderCount,omitempty"`
	ResultKey   string    `json:"resultKey,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StatusUpdate is one narrative write against a job record.
// Empty optional fields keep the stored value, except LiveViewURL which is only
// retained while the job is awaiting login.
type StatusUpdate struct {
	Status      JobStatus
	Message     string
	SessionID   string
	LiveViewURL string
	RunID       string
	OrderCount  int
	ResultKey   string
	// Fresh discards the previous record before applying, used when a new run is queued
	Fresh bool
}

// Apply merges the update into job and stamps the timestamp
func (u StatusUpdate) Apply(job *ExtractionJob, now time.Time) {
	if u.Fresh {
		*job = ExtractionJob{UserEmail: job.UserEmail}
	}

	job.Status = u.Status
	job.Timestamp = now
	job.Message = u.Message

	if u.SessionID != "" {
		job.SessionID = u.SessionID
	}
	if u.RunID != "" {
		job.RunID = u.RunID
	}
	if u.OrderCount > 0 {
		job.OrderCount = u.OrderCount
	}
	if u.ResultKey != "" {
		job.ResultKey = u.ResultKey
	}

	if u.Status == JobStatusAwaitingLogin {
		if u.LiveViewURL != "" {
			job.LiveViewURL = u.LiveViewURL
		}
	} else {
		job.LiveViewURL = u.LiveViewURL
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
}

// StatusGuard decides whether a compare-and-swap may write.
// current is nil when no record exists for the key.
type StatusGuard func(current *ExtractionJob) bool
