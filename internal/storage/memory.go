package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/casaflow/engine/internal/domain"
)

// Memory is a mutex-guarded in-process store with the same claim and
// terminal-status semantics as the Postgres implementation. Tests and local
// development run against it; it is not durable.
type Memory struct {
	mu        sync.Mutex
	seq       int64
	rules     []domain.Rule
	jobs      map[string]*domain.Job
	byDedupe  map[string]string
	attempts  []domain.Attempt
	cursors   map[string]rrState
	members   map[string][]domain.Member
	templates map[string]string
	entities  map[string]map[string]any
	tasks     []domain.Task
	messages  []domain.Message
	expenses  []domain.Expense
}

type rrState struct {
	cursor     int
	lastUserID string
}

func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[string]*domain.Job),
		byDedupe:  make(map[string]string),
		cursors:   make(map[string]rrState),
		members:   make(map[string][]domain.Member),
		templates: make(map[string]string),
		entities:  make(map[string]map[string]any),
	}
}

// tick returns a strictly increasing timestamp so insertion order is a
// stable tiebreaker for claim ordering.
func (m *Memory) tick() time.Time {
	m.seq++
	return time.Unix(0, m.seq).UTC()
}

func rrKey(orgID, ruleID, role string) string {
	return orgID + "|" + ruleID + "|" + role
}

// --- RuleStore ---

func (m *Memory) AddRule(r domain.Rule) domain.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.tick()
	}
	m.rules = append(m.rules, r)
	return r
}

func (m *Memory) CreateRule(_ context.Context, r domain.Rule) (domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.NewString()
	r.CreatedAt = m.tick()
	r.UpdatedAt = r.CreatedAt
	m.rules = append(m.rules, r)
	return r, nil
}

func (m *Memory) RuleByID(_ context.Context, orgID, ruleID string) (domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == ruleID && r.OrganizationID == orgID {
			return r, nil
		}
	}
	return domain.Rule{}, errors.Errorf("rule %s not found", ruleID)
}

func (m *Memory) UpdateRule(_ context.Context, r domain.Rule) (domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rules {
		if existing.ID == r.ID && existing.OrganizationID == r.OrganizationID {
			r.CreatedAt = existing.CreatedAt
			r.UpdatedAt = m.tick()
			m.rules[i] = r
			return r, nil
		}
	}
	return domain.Rule{}, errors.Errorf("rule %s not found", r.ID)
}

func (m *Memory) DeleteRule(_ context.Context, orgID, ruleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rules {
		if r.ID == ruleID && r.OrganizationID == orgID {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			// Jobs keep running; only their back-reference goes stale.
			for _, j := range m.jobs {
				if j.WorkflowRuleID == ruleID {
					j.WorkflowRuleID = ""
				}
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ActiveRules(_ context.Context, orgID, triggerEvent string, limit int) ([]domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Rule
	for _, r := range m.rules {
		if r.OrganizationID == orgID && r.TriggerEvent == triggerEvent && r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- JobStore ---

func (m *Memory) EnqueueJob(_ context.Context, p domain.EnqueueParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byDedupe[p.DedupeKey]; exists {
		return false, nil
	}
	now := m.tick()
	job := &domain.Job{
		ID:             uuid.NewString(),
		OrganizationID: p.OrganizationID,
		WorkflowRuleID: p.WorkflowRuleID,
		TriggerEvent:   p.TriggerEvent,
		ActionType:     p.ActionType,
		ActionConfig:   p.ActionConfig,
		Context:        p.Context,
		RunAt:          p.RunAt,
		Status:         domain.JobQueued,
		MaxAttempts:    p.MaxAttempts,
		DedupeKey:      p.DedupeKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.jobs[job.ID] = job
	m.byDedupe[p.DedupeKey] = job.ID
	return true, nil
}

func (m *Memory) ClaimJobs(_ context.Context, limit int, now time.Time) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.Job
	for _, j := range m.jobs {
		if j.Status == domain.JobQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].RunAt.Before(due[j].RunAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]domain.Job, 0, len(due))
	for _, j := range due {
		started := now
		j.Status = domain.JobRunning
		j.StartedAt = &started
		j.Attempts++
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

// finishRunning applies mutate to the job only while it is running, so
// terminal statuses stay terminal.
func (m *Memory) finishRunning(jobID string, mutate func(*domain.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != domain.JobRunning {
		return nil
	}
	mutate(j)
	return nil
}

func (m *Memory) MarkSucceeded(_ context.Context, jobID string, now time.Time) error {
	return m.finishRunning(jobID, func(j *domain.Job) {
		j.Status = domain.JobSucceeded
		j.FinishedAt = &now
		j.LastError = ""
		j.UpdatedAt = now
	})
}

func (m *Memory) MarkSkipped(_ context.Context, jobID, reason string, now time.Time) error {
	return m.finishRunning(jobID, func(j *domain.Job) {
		j.Status = domain.JobSkipped
		j.FinishedAt = &now
		j.LastError = reason
		j.UpdatedAt = now
	})
}

func (m *Memory) MarkFailed(_ context.Context, jobID, lastError string, now time.Time) error {
	return m.finishRunning(jobID, func(j *domain.Job) {
		j.Status = domain.JobFailed
		j.FinishedAt = &now
		j.LastError = lastError
		j.UpdatedAt = now
	})
}

func (m *Memory) RequeueJob(_ context.Context, jobID, lastError string, runAt, now time.Time) error {
	return m.finishRunning(jobID, func(j *domain.Job) {
		j.Status = domain.JobQueued
		j.StartedAt = nil
		j.RunAt = runAt
		j.LastError = lastError
		j.UpdatedAt = now
	})
}

func (m *Memory) JobByID(_ context.Context, jobID string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.Job{}, errors.Errorf("job %s not found", jobID)
	}
	return *j, nil
}

// Jobs returns a snapshot of every job, for tests and inspection.
func (m *Memory) Jobs() []domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- AttemptStore ---

func (m *Memory) RecordAttempt(_ context.Context, a domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = m.tick()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *Memory) Attempts() []domain.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Attempt(nil), m.attempts...)
}

// --- RoundRobinStore ---

func (m *Memory) Cursor(_ context.Context, orgID, ruleID, role string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[rrKey(orgID, ruleID, role)].cursor, nil
}

func (m *Memory) SaveCursor(_ context.Context, orgID, ruleID, role string, cursor int, lastUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[rrKey(orgID, ruleID, role)] = rrState{cursor: cursor, lastUserID: lastUserID}
	return nil
}

// --- Directory ---

func (m *Memory) AddMember(orgID string, member domain.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[orgID] = append(m.members[orgID], member)
}

func (m *Memory) MembersByRole(_ context.Context, orgID, role string) ([]domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Member
	for _, mem := range m.members[orgID] {
		if mem.Role == role {
			out = append(out, mem)
		}
	}
	return out, nil
}

// --- TemplateStore ---

func (m *Memory) SetTemplate(orgID, key, templateID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[orgID+"|"+key] = templateID
}

func (m *Memory) TemplateIDByKey(_ context.Context, orgID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.templates[orgID+"|"+key], nil
}

// --- EntityStore ---

func entityKey(table, orgID, entityID string) string {
	return strings.Join([]string{table, orgID, entityID}, "|")
}

// SeedEntity registers a collaborator row for status reads and patches.
func (m *Memory) SeedEntity(table, orgID, entityID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entityKey(table, orgID, entityID)] = map[string]any{"status": status}
}

func (m *Memory) EntityStatus(_ context.Context, table, orgID, entityID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.entities[entityKey(table, orgID, entityID)]
	if !ok {
		return "", errors.Errorf("%s %s not found", table, entityID)
	}
	status, _ := row["status"].(string)
	return status, nil
}

func (m *Memory) PatchEntity(_ context.Context, table, orgID, entityID string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.entities[entityKey(table, orgID, entityID)]
	if !ok {
		return errors.Errorf("%s %s not found", table, entityID)
	}
	for k, v := range patch {
		row[k] = v
	}
	return nil
}

// Entity returns the current collaborator row, for tests.
func (m *Memory) Entity(table, orgID, entityID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.entities[entityKey(table, orgID, entityID)]
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// --- collaborator writers ---

func (m *Memory) CreateTask(_ context.Context, t domain.Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.NewString()
	t.CreatedAt = m.tick()
	m.tasks = append(m.tasks, t)
	return t.ID, nil
}

func (m *Memory) Tasks() []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Task(nil), m.tasks...)
}

func (m *Memory) QueueMessage(_ context.Context, msg domain.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.CreatedAt = m.tick()
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

func (m *Memory) Messages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.messages...)
}

func (m *Memory) CreateExpense(_ context.Context, e domain.Expense) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.NewString()
	e.CreatedAt = m.tick()
	m.expenses = append(m.expenses, e)
	return e.ID, nil
}

func (m *Memory) Expenses() []domain.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Expense(nil), m.expenses...)
}
