package workflow

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/domain"
)

// assignTaskRoundRobin picks the next eligible member for (org, rule, role)
// and delegates to createTask with that assignee. The cursor advances and is
// persisted whether or not the delegated task creation succeeds: it exists
// for long-run fairness, not per-attempt correctness.
func (e *Executor) assignTaskRoundRobin(ctx context.Context, orgID, ruleID string, cfg TaskConfig, evCtx domain.Context) (Result, error) {
	if ruleID == "" {
		return skipf("round robin assignment requires a rule")
	}
	role := cfg.AssignedRole
	if role == "" {
		return skipf("no assigned_role configured")
	}

	members, err := e.stores.Directory.MembersByRole(ctx, orgID, role)
	if err != nil {
		return Result{}, errors.Wrapf(err, "list members for role %q", role)
	}
	if len(members) == 0 {
		return skipf("no eligible members with role %q", role)
	}

	cursor, err := e.stores.RoundRobin.Cursor(ctx, orgID, ruleID, role)
	if err != nil {
		return Result{}, errors.Wrap(err, "read round robin cursor")
	}
	// Modulo the current member count so membership changes self-heal.
	idx := cursor % len(members)
	selected := members[idx]

	cfg.AssignedUserID = selected.UserID
	cfg.AssignedRole = ""
	res, execErr := e.createTask(ctx, orgID, cfg, evCtx)

	next := (idx + 1) % len(members)
	if err := e.stores.RoundRobin.SaveCursor(ctx, orgID, ruleID, role, next, selected.UserID); err != nil {
		e.log.Warn("round robin cursor save failed",
			zap.String("rule_id", ruleID), zap.Error(err))
	}
	return res, execErr
}
