package workflow

import (
	"context"

	"github.com/pkg/errors"

	"github.com/casaflow/engine/internal/domain"
)

const defaultCancelReason = "workflow_automation"

func (e *Executor) updateStatus(ctx context.Context, orgID string, cfg StatusConfig, evCtx domain.Context) (Result, error) {
	target, ok := entityTargets[cfg.EntityType]
	if !ok {
		return skipf("unsupported entity type %q", cfg.EntityType)
	}
	if cfg.TargetStatus == "" {
		return skipf("no target status configured")
	}

	entityID := cfg.EntityID
	if entityID == "" {
		entityID = evCtx.String(target.ContextKey)
	}
	if entityID == "" {
		return skipf("no %s id in config or context", cfg.EntityType)
	}

	current, err := e.stores.Entities.EntityStatus(ctx, target.Table, orgID, entityID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "read %s %s", cfg.EntityType, entityID)
	}
	if current == cfg.TargetStatus {
		return skipf("%s already %s", cfg.EntityType, current)
	}
	if !TransitionAllowed(cfg.EntityType, current, cfg.TargetStatus) {
		return skipf("transition %s: %s -> %s not allowed", cfg.EntityType, current, cfg.TargetStatus)
	}

	patch := map[string]any{"status": cfg.TargetStatus}
	switch {
	case cfg.EntityType == "task" && cfg.TargetStatus == "done":
		patch["completed_at"] = e.now().UTC()
	case cfg.EntityType == "reservation" && cfg.TargetStatus == "cancelled":
		reason := cfg.CancelReason
		if reason == "" {
			reason = defaultCancelReason
		}
		patch["cancel_reason"] = reason
	}

	if err := e.stores.Entities.PatchEntity(ctx, target.Table, orgID, entityID, patch); err != nil {
		return Result{}, errors.Wrapf(err, "patch %s %s", cfg.EntityType, entityID)
	}
	return succeeded, nil
}
