package model

import "time"

// JobStatus is the derived lifecycle state of a queued video.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobUploading JobStatus = "uploading"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// TaskStatus is the lifecycle state of a single per-platform upload attempt.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskUploading TaskStatus = "uploading"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Privacy levels accepted for a job.
const (
	PrivacyPublic  = "public"
	PrivacyPrivate = "private"
)

// Detail strings recorded on tasks that settle to failed without a
// platform-specific error message.
const (
	DetailCancelled        = "Cancelled"
	DetailTimeout          = "Timeout"
	DetailNotAuthenticated = "NotAuthenticated"
	DetailInterrupted      = "Interrupted"
)

// Job is one queued video and its target-platform upload intent.
type Job struct {
	ID          int64          `json:"id"`
	SourcePath  string         `json:"source_path"`
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags"`
	Platforms   []string       `json:"platforms"`
	Privacy     string         `json:"privacy"`
	Status      JobStatus      `json:"status"`
	Tasks       []PlatformTask `json:"tasks,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PlatformTask is one platform-specific upload attempt belonging to a job.
type PlatformTask struct {
	JobID     int64      `json:"job_id"`
	Platform  string     `json:"platform"`
	Status    TaskStatus `json:"status"`
	Progress  float64    `json:"progress"`
	Detail    string     `json:"detail,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Terminal reports whether the task has settled.
func (t PlatformTask) Terminal() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}

var taskEdges = map[TaskStatus][]TaskStatus{
	TaskQueued:    {TaskUploading, TaskFailed},
	TaskUploading: {TaskSucceeded, TaskFailed},
}

// CanTransition reports whether a task may move from one status to another.
// Terminal states have no outgoing edges; failed -> queued is reserved for
// the explicit retry operation.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range taskEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidTaskStatus reports whether the value names a known task status.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskQueued, TaskUploading, TaskSucceeded, TaskFailed:
		return true
	}
	return false
}

// DeriveJobStatus computes the job-level status from its tasks.
//
// A job with no tasks has not been dispatched and stays pending. Once tasks
// exist the job is uploading until every task settles; all succeeded means
// completed, otherwise at least one failure means failed.
func DeriveJobStatus(tasks []PlatformTask) JobStatus {
	if len(tasks) == 0 {
		return JobPending
	}
	succeeded := 0
	failed := 0
	for _, t := range tasks {
		switch t.Status {
		case TaskSucceeded:
			succeeded++
		case TaskFailed:
			failed++
		}
	}
	switch {
	case succeeded == len(tasks):
		return JobCompleted
	case failed > 0 && succeeded+failed == len(tasks):
		return JobFailed
	default:
		return JobUploading
	}
}

// ClampProgress bounds a reported fraction to [0, 1].
func ClampProgress(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
