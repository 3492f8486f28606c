package domain

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobSkipped   JobStatus = "skipped"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further engine mutation may change the status.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobSkipped || s == JobFailed
}

// Job is one durable rule firing. Created by the dispatcher, flipped to
// running by the claimer, finished (or requeued) by outcome handling.
// Rows are never deleted.
type Job struct {
	ID             string
	OrganizationID string
	WorkflowRuleID string // empty when the rule back-reference is null
	TriggerEvent   string
	ActionType     string
	ActionConfig   map[string]any // normalized snapshot
	Context        Context
	RunAt          time.Time
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	LastError      string
	DedupeKey      string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EnqueueParams describes a job to insert. The dedupe key makes the insert
// idempotent.
type EnqueueParams struct {
	OrganizationID string
	WorkflowRuleID string
	TriggerEvent   string
	ActionType     string
	ActionConfig   map[string]any
	Context        Context
	RunAt          time.Time
	MaxAttempts    int
	DedupeKey      string
}

// Attempt is a write-once audit record of one execution try.
type Attempt struct {
	ID             string
	JobID          string
	OrganizationID string
	AttemptNumber  int
	Status         string // succeeded, skipped or failed
	Reason         string
	ActionConfig   map[string]any
	Context        Context
	StartedAt      *time.Time
	FinishedAt     time.Time
	CreatedAt      time.Time
}
