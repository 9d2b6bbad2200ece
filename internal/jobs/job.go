// SPDX-License-Identifier: MIT

// Package jobs runs background work on a small bounded worker pool and
// keeps an inspectable record per job. Submission never blocks: past the
// pool size, jobs queue as pending until a worker frees up.
package jobs

import (
	"time"
)

// Status is a job's lifecycle phase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the externally visible job record. Result holds only small,
// serialization-friendly metadata; bulk output lives wherever the task
// put it.
type Job struct {
	ID          string     `json:"job_id"`
	Type        string     `json:"job_type"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}
