package model

import "time"

// JobState is the lifecycle state of a conversion job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobRequest is the payload of a submission.
type JobRequest struct {
	Room      string   `json:"room"`
	Fragments []string `json:"fragments,omitempty"`
}

// ResultKind tags a JobResult.
type ResultKind string

const (
	ResultCompleted ResultKind = "completed"
	ResultFailed    ResultKind = "failed"
)

// JobResult is either Completed(artifact) or Failed(reason). Use the
// constructors; the zero value is invalid.
type JobResult struct {
	Kind     ResultKind `json:"kind"`
	Artifact string     `json:"artifact,omitempty"`
	URL      string     `json:"url,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Completed builds a successful result.
func Completed(artifact, url string) *JobResult {
	return &JobResult{Kind: ResultCompleted, Artifact: artifact, URL: url}
}

// Failed builds a failed result.
func Failed(reason string) *JobResult {
	return &JobResult{Kind: ResultFailed, Reason: reason}
}

// Job represents a background conversion job
type Job struct {
	ID          string     `json:"id"`
	Seq         int64      `json:"seq"`
	Request     JobRequest `json:"request"`
	Priority    int        `json:"priority"`
	State       JobState   `json:"state"`
	Progress    string     `json:"progress,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Room returns the room the job converts.
func (j *Job) Room() string {
	return j.Request.Room
}

// Artifact returns the artifact of a completed job.
func (j *Job) Artifact() string {
	if j.Result == nil || j.Result.Kind != ResultCompleted {
		return ""
	}
	return j.Result.Artifact
}

// FailureReason returns the reason of a failed job.
func (j *Job) FailureReason() string {
	if j.Result == nil || j.Result.Kind != ResultFailed {
		return ""
	}
	return j.Result.Reason
}

// JobStatus is the snapshot returned to pollers.
type JobStatus struct {
	ID       string   `json:"id"`
	Room     string   `json:"room"`
	State    JobState `json:"state"`
	Progress string   `json:"progress"`
	Reason   string   `json:"reason,omitempty"`
	Artifact string   `json:"artifact,omitempty"`
	URL      string   `json:"url,omitempty"`
	Position int      `json:"position"`
}

// SubmitRequest is the validated query of a submission.
type SubmitRequest struct {
	Room     string `validate:"required,max=128,excludesall=/\\,ne=.,ne=.."`
	Priority int    `validate:"min=0"`
}

// SubmitResponse is returned after a job is queued.
type SubmitResponse struct {
	JobID    string   `json:"jobId"`
	State    JobState `json:"state"`
	Position int      `json:"position"`
}
