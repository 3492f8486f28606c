package workflow

import (
	"context"
	"time"

	"github.com/casaflow/engine/internal/domain"
)

// Store interfaces consumed by the engine. The storage package provides the
// Postgres implementation; tests use the in-memory one.

type RuleStore interface {
	// ActiveRules returns active rules for (org, trigger), newest first.
	ActiveRules(ctx context.Context, orgID, triggerEvent string, limit int) ([]domain.Rule, error)
}

type JobStore interface {
	// EnqueueJob inserts a job unless its dedupe key already exists.
	// Returns false without error on a dedupe conflict.
	EnqueueJob(ctx context.Context, p domain.EnqueueParams) (bool, error)

	// ClaimJobs atomically flips up to limit due queued jobs to running,
	// stamping started_at and incrementing attempts. Safe under concurrent
	// callers: no job is ever returned to two claimers.
	ClaimJobs(ctx context.Context, limit int, now time.Time) ([]domain.Job, error)

	// Outcome mutations. All are no-ops unless the job is currently running,
	// which keeps terminal statuses terminal.
	MarkSucceeded(ctx context.Context, jobID string, now time.Time) error
	MarkSkipped(ctx context.Context, jobID, reason string, now time.Time) error
	MarkFailed(ctx context.Context, jobID, lastError string, now time.Time) error
	RequeueJob(ctx context.Context, jobID, lastError string, runAt, now time.Time) error
}

type AttemptStore interface {
	RecordAttempt(ctx context.Context, a domain.Attempt) error
}

type RoundRobinStore interface {
	// Cursor returns the persisted cursor for (org, rule, role), 0 when absent.
	Cursor(ctx context.Context, orgID, ruleID, role string) (int, error)
	SaveCursor(ctx context.Context, orgID, ruleID, role string, cursor int, lastUserID string) error
}

// Collaborator tables the handlers write into. None of these are owned by
// the engine.

type TaskStore interface {
	CreateTask(ctx context.Context, t domain.Task) (string, error)
}

type MessageStore interface {
	QueueMessage(ctx context.Context, m domain.Message) (string, error)
}

type ExpenseStore interface {
	CreateExpense(ctx context.Context, e domain.Expense) (string, error)
}

type EntityStore interface {
	// EntityStatus reads the current status of an entity row.
	EntityStatus(ctx context.Context, table, orgID, entityID string) (string, error)
	// PatchEntity applies a partial update to an entity row.
	PatchEntity(ctx context.Context, table, orgID, entityID string, patch map[string]any) error
}

type Directory interface {
	// MembersByRole lists org members holding role, oldest membership first.
	MembersByRole(ctx context.Context, orgID, role string) ([]domain.Member, error)
}

type TemplateStore interface {
	// TemplateIDByKey resolves a message template key to its id within an
	// org. Returns "" with a nil error when no template matches.
	TemplateIDByKey(ctx context.Context, orgID, key string) (string, error)
}

// OutboundQueue hands queued messages to delivery workers.
type OutboundQueue interface {
	PushMessage(ctx context.Context, orgID, messageID string) error
}
