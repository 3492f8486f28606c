package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/pressly/goose"

	"github.com/casaflow/engine/internal/domain"
)

// Store is the Postgres implementation of every engine store interface.
// The jobs table is the source of truth; claiming relies on
// FOR UPDATE SKIP LOCKED so concurrent pollers never contend.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// Migrate runs goose migrations from dir against a database/sql handle
// (goose does not speak pgx natively).
func Migrate(db *sql.DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set dialect")
	}
	return errors.Wrap(goose.Up(db, dir), "run migrations")
}

// --- RuleStore ---

func (s *Store) ActiveRules(ctx context.Context, orgID, triggerEvent string, limit int) ([]domain.Rule, error) {
	rows, err := s.db.Query(ctx, `
select id, organization_id, name, trigger_event, action_type, action_config,
       delay_minutes, is_active, created_at, updated_at
  from workflow_rules
 where organization_id = $1 and trigger_event = $2 and is_active
 order by created_at desc
 limit $3`, orgID, triggerEvent, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query active rules")
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var r domain.Rule
		var cfg []byte
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.TriggerEvent, &r.ActionType,
			&cfg, &r.DelayMinutes, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan rule")
		}
		if err := json.Unmarshal(cfg, &r.ActionConfig); err != nil {
			return nil, errors.Wrapf(err, "decode action_config for rule %s", r.ID)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateRule(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	cfg, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return domain.Rule{}, errors.Wrap(err, "encode action_config")
	}
	err = s.db.QueryRow(ctx, `
insert into workflow_rules(organization_id, name, trigger_event, action_type,
                           action_config, delay_minutes, is_active)
values ($1,$2,$3,$4,$5,$6,$7)
returning id, created_at, updated_at`,
		r.OrganizationID, r.Name, r.TriggerEvent, r.ActionType,
		cfg, r.DelayMinutes, r.IsActive).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Rule{}, errors.Wrap(err, "insert rule")
	}
	return r, nil
}

func (s *Store) RuleByID(ctx context.Context, orgID, ruleID string) (domain.Rule, error) {
	row := s.db.QueryRow(ctx, `
select id, organization_id, name, trigger_event, action_type, action_config,
       delay_minutes, is_active, created_at, updated_at
  from workflow_rules
 where id = $1 and organization_id = $2`, ruleID, orgID)

	var r domain.Rule
	var cfg []byte
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.TriggerEvent, &r.ActionType,
		&cfg, &r.DelayMinutes, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.Rule{}, errors.Wrapf(err, "rule %s", ruleID)
	}
	if err := json.Unmarshal(cfg, &r.ActionConfig); err != nil {
		return domain.Rule{}, errors.Wrapf(err, "decode action_config for rule %s", r.ID)
	}
	return r, nil
}

func (s *Store) UpdateRule(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	cfg, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return domain.Rule{}, errors.Wrap(err, "encode action_config")
	}
	err = s.db.QueryRow(ctx, `
update workflow_rules
   set name = $3, trigger_event = $4, action_type = $5, action_config = $6,
       delay_minutes = $7, is_active = $8, updated_at = now()
 where id = $1 and organization_id = $2
returning updated_at`,
		r.ID, r.OrganizationID, r.Name, r.TriggerEvent, r.ActionType,
		cfg, r.DelayMinutes, r.IsActive).Scan(&r.UpdatedAt)
	if err != nil {
		return domain.Rule{}, errors.Wrapf(err, "update rule %s", r.ID)
	}
	return r, nil
}

// DeleteRule removes a rule. Jobs keep their nullable back-reference rows,
// so existing jobs and attempts survive the delete.
func (s *Store) DeleteRule(ctx context.Context, orgID, ruleID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
delete from workflow_rules where id = $1 and organization_id = $2`, ruleID, orgID)
	if err != nil {
		return false, errors.Wrapf(err, "delete rule %s", ruleID)
	}
	return tag.RowsAffected() == 1, nil
}

// --- JobStore ---

func (s *Store) EnqueueJob(ctx context.Context, p domain.EnqueueParams) (bool, error) {
	cfg, err := json.Marshal(p.ActionConfig)
	if err != nil {
		return false, errors.Wrap(err, "encode action_config")
	}
	evCtx, err := json.Marshal(p.Context)
	if err != nil {
		return false, errors.Wrap(err, "encode context")
	}

	tag, err := s.db.Exec(ctx, `
insert into workflow_jobs(
  organization_id, workflow_rule_id, trigger_event, action_type,
  action_config, context, run_at, status, attempts, max_attempts, dedupe_key
) values ($1,$2,$3,$4,$5,$6,$7,'queued',0,$8,$9)
on conflict (dedupe_key) do nothing`,
		p.OrganizationID, nullable(p.WorkflowRuleID), p.TriggerEvent, p.ActionType,
		cfg, evCtx, p.RunAt, p.MaxAttempts, p.DedupeKey)
	if err != nil {
		return false, errors.Wrap(err, "insert job")
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimJobs is the sole concurrency primitive of the engine. It locks up to
// limit due rows, skipping rows held by concurrent claimers, flips them to
// running and returns the post-update state in one atomic statement.
func (s *Store) ClaimJobs(ctx context.Context, limit int, now time.Time) ([]domain.Job, error) {
	rows, err := s.db.Query(ctx, `
with due as (
  select id
    from workflow_jobs
   where status = 'queued' and run_at <= $1
   order by run_at asc, created_at asc
   limit $2
     for update skip locked
)
update workflow_jobs j
   set status = 'running', started_at = $1, attempts = j.attempts + 1, updated_at = $1
  from due
 where j.id = due.id
returning j.id, j.organization_id, j.workflow_rule_id, j.trigger_event, j.action_type,
          j.action_config, j.context, j.run_at, j.status, j.attempts, j.max_attempts,
          coalesce(j.last_error, ''), j.dedupe_key, j.started_at, j.finished_at,
          j.created_at, j.updated_at`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim jobs")
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Outcome updates guard on status = 'running' so terminal statuses are
// never overwritten.

func (s *Store) MarkSucceeded(ctx context.Context, jobID string, now time.Time) error {
	_, err := s.db.Exec(ctx, `
update workflow_jobs
   set status = 'succeeded', finished_at = $2, last_error = null, updated_at = $2
 where id = $1 and status = 'running'`, jobID, now)
	return errors.Wrap(err, "mark succeeded")
}

func (s *Store) MarkSkipped(ctx context.Context, jobID, reason string, now time.Time) error {
	_, err := s.db.Exec(ctx, `
update workflow_jobs
   set status = 'skipped', finished_at = $2, last_error = $3, updated_at = $2
 where id = $1 and status = 'running'`, jobID, now, reason)
	return errors.Wrap(err, "mark skipped")
}

func (s *Store) MarkFailed(ctx context.Context, jobID, lastError string, now time.Time) error {
	_, err := s.db.Exec(ctx, `
update workflow_jobs
   set status = 'failed', finished_at = $2, last_error = $3, updated_at = $2
 where id = $1 and status = 'running'`, jobID, now, lastError)
	return errors.Wrap(err, "mark failed")
}

func (s *Store) RequeueJob(ctx context.Context, jobID, lastError string, runAt, now time.Time) error {
	_, err := s.db.Exec(ctx, `
update workflow_jobs
   set status = 'queued', started_at = null, run_at = $2, last_error = $3, updated_at = $4
 where id = $1 and status = 'running'`, jobID, runAt, lastError, now)
	return errors.Wrap(err, "requeue job")
}

func (s *Store) JobByID(ctx context.Context, jobID string) (domain.Job, error) {
	row := s.db.QueryRow(ctx, `
select id, organization_id, workflow_rule_id, trigger_event, action_type,
       action_config, context, run_at, status, attempts, max_attempts,
       coalesce(last_error, ''), dedupe_key, started_at, finished_at,
       created_at, updated_at
  from workflow_jobs
 where id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		return domain.Job{}, errors.Wrapf(err, "job %s", jobID)
	}
	return j, nil
}

// --- AttemptStore ---

func (s *Store) RecordAttempt(ctx context.Context, a domain.Attempt) error {
	cfg, err := json.Marshal(a.ActionConfig)
	if err != nil {
		return errors.Wrap(err, "encode config snapshot")
	}
	evCtx, err := json.Marshal(a.Context)
	if err != nil {
		return errors.Wrap(err, "encode context snapshot")
	}
	_, err = s.db.Exec(ctx, `
insert into workflow_job_attempts(
  workflow_job_id, organization_id, attempt_number, status, reason,
  normalized_action_config, context_snapshot, started_at, finished_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.JobID, a.OrganizationID, a.AttemptNumber, a.Status, a.Reason,
		cfg, evCtx, a.StartedAt, a.FinishedAt)
	return errors.Wrap(err, "insert attempt")
}

// RuleRuns joins attempts to their jobs for one rule, newest first.
func (s *Store) RuleRuns(ctx context.Context, ruleID string, limit int) ([]map[string]any, error) {
	rows, err := s.db.Query(ctx, `
select a.id, a.workflow_job_id, a.attempt_number, a.status, coalesce(a.reason, ''),
       a.started_at, a.finished_at, a.created_at,
       j.trigger_event, j.action_type, j.run_at, j.dedupe_key
  from workflow_job_attempts a
  join workflow_jobs j on j.id = a.workflow_job_id
 where j.workflow_rule_id = $1
 order by a.created_at desc
 limit $2`, ruleID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query rule runs")
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id, jobID, status, reason, trigger, action, dedupe string
			attemptNumber                                      int
			startedAt                                          *time.Time
			finishedAt, createdAt, runAt                       time.Time
		)
		if err := rows.Scan(&id, &jobID, &attemptNumber, &status, &reason,
			&startedAt, &finishedAt, &createdAt, &trigger, &action, &runAt, &dedupe); err != nil {
			return nil, errors.Wrap(err, "scan rule run")
		}
		out = append(out, map[string]any{
			"id":              id,
			"workflow_job_id": jobID,
			"attempt_number":  attemptNumber,
			"status":          status,
			"reason":          reason,
			"started_at":      startedAt,
			"finished_at":     finishedAt,
			"created_at":      createdAt,
			"trigger_event":   trigger,
			"action_type":     action,
			"run_at":          runAt,
			"dedupe_key":      dedupe,
		})
	}
	return out, rows.Err()
}

// --- RoundRobinStore ---

func (s *Store) Cursor(ctx context.Context, orgID, ruleID, role string) (int, error) {
	var cursor int
	err := s.db.QueryRow(ctx, `
select cursor_index from workflow_round_robin_state
 where organization_id = $1 and workflow_rule_id = $2 and role = $3`,
		orgID, ruleID, role).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return cursor, errors.Wrap(err, "read cursor")
}

func (s *Store) SaveCursor(ctx context.Context, orgID, ruleID, role string, cursor int, lastUserID string) error {
	_, err := s.db.Exec(ctx, `
insert into workflow_round_robin_state(organization_id, workflow_rule_id, role, cursor_index, last_user_id, updated_at)
values ($1,$2,$3,$4,$5,now())
on conflict (organization_id, workflow_rule_id, role)
do update set cursor_index = excluded.cursor_index,
              last_user_id = excluded.last_user_id,
              updated_at = now()`,
		orgID, ruleID, role, cursor, lastUserID)
	return errors.Wrap(err, "save cursor")
}

// --- collaborator tables (not owned by the engine) ---

func (s *Store) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
insert into tasks(organization_id, title, type, status, priority,
                  property_id, unit_id, reservation_id, assigned_user_id)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
returning id`,
		t.OrganizationID, t.Title, t.Type, t.Status, t.Priority,
		nullable(t.PropertyID), nullable(t.UnitID), nullable(t.ReservationID),
		nullable(t.AssignedUserID)).Scan(&id)
	return id, errors.Wrap(err, "insert task")
}

func (s *Store) QueueMessage(ctx context.Context, m domain.Message) (string, error) {
	vars, err := json.Marshal(m.Variables)
	if err != nil {
		return "", errors.Wrap(err, "encode variables")
	}
	var id string
	err = s.db.QueryRow(ctx, `
insert into message_logs(organization_id, channel, recipient, status,
                         template_id, whatsapp_template_name, subject, body, variables)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
returning id`,
		m.OrganizationID, m.Channel, m.Recipient, m.Status,
		nullable(m.TemplateID), nullable(m.WhatsAppTemplateName),
		m.Subject, m.Body, vars).Scan(&id)
	return id, errors.Wrap(err, "insert message")
}

func (s *Store) CreateExpense(ctx context.Context, e domain.Expense) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
insert into expenses(organization_id, category, expense_date, amount, currency,
                     payment_method, description, property_id, unit_id)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
returning id`,
		e.OrganizationID, e.Category, e.ExpenseDate, e.Amount, e.Currency,
		e.PaymentMethod, e.Description, nullable(e.PropertyID), nullable(e.UnitID)).Scan(&id)
	return id, errors.Wrap(err, "insert expense")
}

func (s *Store) MembersByRole(ctx context.Context, orgID, role string) ([]domain.Member, error) {
	rows, err := s.db.Query(ctx, `
select user_id, role from organization_members
 where organization_id = $1 and role = $2
 order by created_at asc`, orgID, role)
	if err != nil {
		return nil, errors.Wrap(err, "query members")
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.UserID, &m.Role); err != nil {
			return nil, errors.Wrap(err, "scan member")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) TemplateIDByKey(ctx context.Context, orgID, key string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
select id from message_templates
 where organization_id = $1 and template_key = $2
 limit 1`, orgID, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, errors.Wrap(err, "lookup template")
}

// entityColumns whitelists what a status patch may touch.
var entityColumns = map[string]string{
	"status":        "status",
	"completed_at":  "completed_at",
	"cancel_reason": "cancel_reason",
}

// entityTables whitelists patchable collaborator tables.
var entityTables = map[string]bool{
	"reservations": true,
	"leases":       true,
	"tasks":        true,
}

func (s *Store) EntityStatus(ctx context.Context, table, orgID, entityID string) (string, error) {
	if !entityTables[table] {
		return "", errors.Errorf("table %q not patchable", table)
	}
	var status string
	err := s.db.QueryRow(ctx,
		`select status from `+table+` where id = $1 and organization_id = $2`,
		entityID, orgID).Scan(&status)
	return status, errors.Wrapf(err, "read %s status", table)
}

func (s *Store) PatchEntity(ctx context.Context, table, orgID, entityID string, patch map[string]any) error {
	if !entityTables[table] {
		return errors.Errorf("table %q not patchable", table)
	}
	set := ""
	args := []any{entityID, orgID}
	for key, value := range patch {
		col, ok := entityColumns[key]
		if !ok {
			return errors.Errorf("column %q not patchable", key)
		}
		if set != "" {
			set += ", "
		}
		args = append(args, value)
		set += col + " = $" + strconv.Itoa(len(args))
	}
	if set == "" {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`update `+table+` set `+set+` where id = $1 and organization_id = $2`,
		args...)
	return errors.Wrapf(err, "patch %s", table)
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		j      domain.Job
		ruleID *string
		cfg    []byte
		evCtx  []byte
	)
	if err := row.Scan(&j.ID, &j.OrganizationID, &ruleID, &j.TriggerEvent, &j.ActionType,
		&cfg, &evCtx, &j.RunAt, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.DedupeKey, &j.StartedAt, &j.FinishedAt,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.Job{}, errors.Wrap(err, "scan job")
	}
	if ruleID != nil {
		j.WorkflowRuleID = *ruleID
	}
	if err := json.Unmarshal(cfg, &j.ActionConfig); err != nil {
		return domain.Job{}, errors.Wrap(err, "decode action_config")
	}
	if err := json.Unmarshal(evCtx, &j.Context); err != nil {
		return domain.Job{}, errors.Wrap(err, "decode context")
	}
	return j, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

