package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/domain"
)

// Mode selects how a firing executes: through the durable queue or the
// legacy immediate path.
type Mode string

const (
	ModeLegacy Mode = "legacy"
	ModeQueue  Mode = "queue"
)

// maxRulesPerFiring caps how many rules a single trigger may fan out to.
const maxRulesPerFiring = 200

// executionStrategy is the seam between the shared normalization/dispatch
// core and the two execution paths.
type executionStrategy interface {
	Dispatch(ctx context.Context, orgID, triggerEvent string, rule domain.Rule, cfg map[string]any, evCtx domain.Context)
}

// Dispatcher is the producer-facing entry point. Firing a trigger is always
// best-effort: no error ever propagates to the business operation that
// raised the event.
type Dispatcher struct {
	rules     RuleStore
	queue     executionStrategy
	legacy    executionStrategy
	allowlist map[string]struct{}
	log       *zap.Logger
}

// NewDispatcher wires the dispatcher. allowlist gates which orgs use queue
// mode; empty means all orgs. maxAttempts is stamped onto enqueued jobs.
func NewDispatcher(rules RuleStore, jobs JobStore, exec *Executor, allowlist []string, maxAttempts int, log *zap.Logger) *Dispatcher {
	allow := make(map[string]struct{}, len(allowlist))
	for _, org := range allowlist {
		if org != "" {
			allow[org] = struct{}{}
		}
	}
	return &Dispatcher{
		rules:     rules,
		queue:     &queueStrategy{jobs: jobs, maxAttempts: maxAttempts, log: log, now: time.Now},
		legacy:    &legacyStrategy{exec: exec, log: log},
		allowlist: allow,
		log:       log,
	}
}

// FireTrigger loads active rules for (org, event) and dispatches each one.
// Per-rule failures are logged and never affect sibling rules or the caller.
func (d *Dispatcher) FireTrigger(ctx context.Context, orgID, triggerEvent string, evCtx domain.Context, mode Mode) {
	rules, err := d.rules.ActiveRules(ctx, orgID, triggerEvent, maxRulesPerFiring)
	if err != nil {
		d.log.Error("load workflow rules failed",
			zap.String("org_id", orgID),
			zap.String("trigger_event", triggerEvent),
			zap.Error(err))
		return
	}

	for _, rule := range rules {
		cfg := NormalizeConfig(rule.ActionType, rule.ActionConfig)
		strategy := d.legacy
		if mode == ModeQueue && d.queueEnabled(orgID) {
			strategy = d.queue
		}
		strategy.Dispatch(ctx, orgID, triggerEvent, rule, cfg, evCtx)
	}
}

func (d *Dispatcher) queueEnabled(orgID string) bool {
	if len(d.allowlist) == 0 {
		return true
	}
	_, ok := d.allowlist[orgID]
	return ok
}

// queueStrategy enqueues a durable job keyed by dedupe token.
type queueStrategy struct {
	jobs        JobStore
	maxAttempts int
	log         *zap.Logger
	now         func() time.Time
}

func (s *queueStrategy) Dispatch(ctx context.Context, orgID, triggerEvent string, rule domain.Rule, cfg map[string]any, evCtx domain.Context) {
	if rule.ID == "" {
		// A job must reference its rule.
		s.log.Warn("skipping rule without id in queue mode",
			zap.String("org_id", orgID),
			zap.String("trigger_event", triggerEvent))
		return
	}
	if _, err := uuid.Parse(orgID); err != nil {
		s.log.Error("malformed organization id", zap.String("org_id", orgID))
		return
	}
	if _, err := uuid.Parse(rule.ID); err != nil {
		s.log.Error("malformed rule id", zap.String("rule_id", rule.ID))
		return
	}

	runAt := s.now().UTC().Add(time.Duration(rule.DelayMinutes) * time.Minute)
	created, err := s.jobs.EnqueueJob(ctx, domain.EnqueueParams{
		OrganizationID: orgID,
		WorkflowRuleID: rule.ID,
		TriggerEvent:   triggerEvent,
		ActionType:     rule.ActionType,
		ActionConfig:   cfg,
		Context:        evCtx.Clone(),
		RunAt:          runAt,
		MaxAttempts:    s.maxAttempts,
		DedupeKey:      DedupeKey(orgID, rule.ID, triggerEvent, rule.ActionType, cfg, evCtx),
	})
	if err != nil {
		s.log.Error("enqueue workflow job failed",
			zap.String("rule_id", rule.ID), zap.Error(err))
		return
	}
	if !created {
		s.log.Debug("duplicate firing deduplicated", zap.String("rule_id", rule.ID))
	}
}

// legacyStrategy executes inline, or after an in-process one-shot delay.
type legacyStrategy struct {
	exec *Executor
	log  *zap.Logger
}

func (s *legacyStrategy) Dispatch(ctx context.Context, orgID, triggerEvent string, rule domain.Rule, cfg map[string]any, evCtx domain.Context) {
	run := func(ctx context.Context) {
		res, err := s.exec.Execute(ctx, orgID, rule.ID, rule.ActionType, cfg, evCtx)
		switch {
		case err != nil:
			s.log.Error("workflow action failed",
				zap.String("rule_id", rule.ID),
				zap.String("action_type", rule.ActionType),
				zap.Error(err))
		case res.Skipped:
			s.log.Info("workflow action skipped",
				zap.String("rule_id", rule.ID),
				zap.String("action_type", rule.ActionType),
				zap.String("reason", res.Reason))
		}
	}

	if rule.DelayMinutes > 0 {
		// The request context will be long gone when the timer fires.
		time.AfterFunc(time.Duration(rule.DelayMinutes)*time.Minute, func() {
			run(context.Background())
		})
		return
	}
	run(ctx)
}
