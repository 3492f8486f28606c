package workflow

import (
	"context"

	"github.com/pkg/errors"

	"github.com/casaflow/engine/internal/domain"
)

const (
	defaultTaskTitle    = "Auto-generated task"
	defaultTaskType     = "custom"
	defaultTaskPriority = "medium"
)

func (e *Executor) createTask(ctx context.Context, orgID string, cfg TaskConfig, evCtx domain.Context) (Result, error) {
	title := cfg.Title
	if title == "" {
		title = defaultTaskTitle
	}
	taskType := cfg.Type
	if taskType == "" {
		taskType = defaultTaskType
	}
	priority := cfg.Priority
	if priority == "" {
		priority = defaultTaskPriority
	}

	task := domain.Task{
		OrganizationID: orgID,
		Title:          ResolveTemplate(title, evCtx),
		Type:           taskType,
		Status:         "todo",
		Priority:       priority,
		PropertyID:     evCtx.String("property_id"),
		UnitID:         evCtx.String("unit_id"),
		ReservationID:  evCtx.String("reservation_id"),
	}

	task.AssignedUserID = cfg.AssignedUserID
	if task.AssignedUserID == "" && cfg.AssignedRole != "" {
		// First member holding the role; round-robin is a separate action.
		members, err := e.stores.Directory.MembersByRole(ctx, orgID, cfg.AssignedRole)
		if err != nil {
			return Result{}, errors.Wrapf(err, "resolve role %q", cfg.AssignedRole)
		}
		if len(members) > 0 {
			task.AssignedUserID = members[0].UserID
		}
	}

	if _, err := e.stores.Tasks.CreateTask(ctx, task); err != nil {
		return Result{}, errors.Wrap(err, "create task")
	}
	return succeeded, nil
}
