package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskQueued, TaskUploading, true},
		{TaskQueued, TaskFailed, true},
		{TaskQueued, TaskSucceeded, false},
		{TaskUploading, TaskSucceeded, true},
		{TaskUploading, TaskFailed, true},
		{TaskUploading, TaskQueued, false},
		{TaskSucceeded, TaskUploading, false},
		{TaskSucceeded, TaskFailed, false},
		{TaskFailed, TaskQueued, false},
		{TaskFailed, TaskUploading, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestDeriveJobStatus(t *testing.T) {
	mk := func(statuses ...TaskStatus) []PlatformTask {
		tasks := make([]PlatformTask, len(statuses))
		for i, s := range statuses {
			tasks[i] = PlatformTask{Platform: "p", Status: s}
		}
		return tasks
	}

	assert.Equal(t, JobPending, DeriveJobStatus(nil))
	assert.Equal(t, JobUploading, DeriveJobStatus(mk(TaskQueued)))
	assert.Equal(t, JobUploading, DeriveJobStatus(mk(TaskQueued, TaskSucceeded)))
	assert.Equal(t, JobUploading, DeriveJobStatus(mk(TaskUploading, TaskFailed)))
	assert.Equal(t, JobCompleted, DeriveJobStatus(mk(TaskSucceeded, TaskSucceeded)))
	assert.Equal(t, JobFailed, DeriveJobStatus(mk(TaskSucceeded, TaskFailed)))
	assert.Equal(t, JobFailed, DeriveJobStatus(mk(TaskFailed)))
	// a retried task pulls the job back out of its terminal state
	assert.Equal(t, JobUploading, DeriveJobStatus(mk(TaskQueued, TaskFailed)))
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0.0, ClampProgress(-0.2))
	assert.Equal(t, 0.5, ClampProgress(0.5))
	assert.Equal(t, 1.0, ClampProgress(1.7))
}
