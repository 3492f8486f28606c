package workflow

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/domain"
	"github.com/casaflow/engine/internal/storage"
)

// testProcessor wires a processor against the memory store with a mutable
// clock shared by the processor and the executor.
func testProcessor(mem *storage.Memory, exec *Executor) (*Processor, *time.Time) {
	now := testClock
	p := NewProcessor(mem, mem, exec, zap.NewNop())
	p.now = func() time.Time { return now }
	exec.now = p.now
	return p, &now
}

func enqueueTestJob(t *testing.T, mem *storage.Memory, p domain.EnqueueParams) domain.Job {
	t.Helper()
	if p.OrganizationID == "" {
		p.OrganizationID = uuid.NewString()
	}
	if p.WorkflowRuleID == "" {
		p.WorkflowRuleID = uuid.NewString()
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.DedupeKey == "" {
		p.DedupeKey = DedupeKey(p.OrganizationID, p.WorkflowRuleID, p.TriggerEvent, p.ActionType, p.ActionConfig, p.Context)
	}
	created, err := mem.EnqueueJob(context.Background(), p)
	require.NoError(t, err)
	require.True(t, created)
	jobs := mem.Jobs()
	return jobs[len(jobs)-1]
}

func TestProcessJobsSucceeds(t *testing.T) {
	mem := storage.NewMemory()
	exec := newTestExecutor(mem)
	p, _ := testProcessor(mem, exec)

	job := enqueueTestJob(t, mem, domain.EnqueueParams{
		TriggerEvent: "reservation_confirmed",
		ActionType:   ActionCreateTask,
		ActionConfig: map[string]any{"title": "Turnover for {{unit_code}}", "type": "cleaning"},
		Context:      domain.Context{"unit_code": "VM-201"},
		RunAt:        testClock.Add(-time.Minute),
	})

	summary := p.ProcessJobs(context.Background(), 10)
	assert.Equal(t, Summary{Picked: 1, Succeeded: 1}, summary)

	tasks := mem.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Turnover for VM-201", tasks[0].Title)

	got, err := mem.JobByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.LastError)

	attempts := mem.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, job.ID, attempts[0].JobID)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, "succeeded", attempts[0].Status)
}

func TestProcessJobsRetriesThenFails(t *testing.T) {
	mem := storage.NewMemory()
	exec := NewExecutor(Stores{
		Tasks:      failingTasks{err: errors.New("tasks table unavailable")},
		Messages:   mem,
		Expenses:   mem,
		Entities:   mem,
		Directory:  mem,
		Templates:  mem,
		RoundRobin: mem,
	}, nil, zap.NewNop())
	p, now := testProcessor(mem, exec)

	job := enqueueTestJob(t, mem, domain.EnqueueParams{
		TriggerEvent: "checked_out",
		ActionType:   ActionCreateTask,
		RunAt:        testClock,
		MaxAttempts:  3,
	})
	ctx := context.Background()

	// Attempt 1 fails and schedules a retry 30s out.
	summary := p.ProcessJobs(ctx, 10)
	assert.Equal(t, Summary{Picked: 1, Retried: 1}, summary)
	got, err := mem.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, testClock.Add(30*time.Second), got.RunAt)
	assert.Contains(t, got.LastError, "tasks table unavailable")

	// Not due yet: nothing picked.
	summary = p.ProcessJobs(ctx, 10)
	assert.Equal(t, Summary{}, summary)

	// Attempt 2 at +30s fails, next retry 60s later.
	*now = testClock.Add(30 * time.Second)
	summary = p.ProcessJobs(ctx, 10)
	assert.Equal(t, Summary{Picked: 1, Retried: 1}, summary)
	got, err = mem.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, testClock.Add(90*time.Second), got.RunAt)

	// Attempt 3 exhausts max_attempts.
	*now = testClock.Add(90 * time.Second)
	summary = p.ProcessJobs(ctx, 10)
	assert.Equal(t, Summary{Picked: 1, Failed: 1}, summary)
	got, err = mem.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)

	attempts := mem.Attempts()
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNumber)
		assert.Equal(t, "failed", a.Status)
		assert.Contains(t, a.Reason, "tasks table unavailable")
	}

	// Terminal jobs stay put on later passes.
	*now = testClock.Add(time.Hour)
	summary = p.ProcessJobs(ctx, 10)
	assert.Equal(t, Summary{}, summary)
}

func TestProcessJobsMarksSkipped(t *testing.T) {
	mem := storage.NewMemory()
	exec := newTestExecutor(mem)
	p, _ := testProcessor(mem, exec)

	// No positive amount: a terminal skip, never a retry.
	job := enqueueTestJob(t, mem, domain.EnqueueParams{
		TriggerEvent: "checked_out",
		ActionType:   ActionCreateExpense,
		ActionConfig: map[string]any{},
		RunAt:        testClock,
	})

	summary := p.ProcessJobs(context.Background(), 10)
	assert.Equal(t, Summary{Picked: 1, Skipped: 1}, summary)

	got, err := mem.JobByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSkipped, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "amount")
}

func TestProcessJobsLeavesFutureJobs(t *testing.T) {
	mem := storage.NewMemory()
	exec := newTestExecutor(mem)
	p, _ := testProcessor(mem, exec)

	enqueueTestJob(t, mem, domain.EnqueueParams{
		TriggerEvent: "checked_in",
		ActionType:   ActionCreateTask,
		RunAt:        testClock.Add(10 * time.Minute),
	})

	summary := p.ProcessJobs(context.Background(), 10)
	assert.Equal(t, Summary{}, summary)
	assert.Empty(t, mem.Tasks())
}

func TestTruncateErrorKeepsValidUTF8(t *testing.T) {
	long := "x" + strings.Repeat("ñ", 600) // 1201 bytes, byte 1000 falls mid-rune
	got := truncateError(long)
	assert.LessOrEqual(t, len(got), maxErrorLength)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "x"+strings.Repeat("ñ", 499), got)

	short := "falló la tarea"
	assert.Equal(t, short, truncateError(short))
}

func TestProcessJobsRespectsBatchSize(t *testing.T) {
	mem := storage.NewMemory()
	exec := newTestExecutor(mem)
	p, _ := testProcessor(mem, exec)

	for i := 0; i < 5; i++ {
		enqueueTestJob(t, mem, domain.EnqueueParams{
			TriggerEvent: "checked_in",
			ActionType:   ActionCreateTask,
			ActionConfig: map[string]any{"title": "t"},
			Context:      domain.Context{"n": float64(i)},
			RunAt:        testClock.Add(-time.Minute),
		})
	}

	summary := p.ProcessJobs(context.Background(), 2)
	assert.Equal(t, Summary{Picked: 2, Succeeded: 2}, summary)

	// A non-positive batch size is clamped to one, not treated as unlimited.
	summary = p.ProcessJobs(context.Background(), 0)
	assert.Equal(t, Summary{Picked: 1, Succeeded: 1}, summary)
}
