package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/domain"
)

// Result is the non-error outcome of executing one action. A skipped result
// is terminal and means "does not apply given current data", not a failure.
type Result struct {
	Skipped bool
	Reason  string
}

func skipf(format string, args ...any) (Result, error) {
	return Result{Skipped: true, Reason: fmt.Sprintf(format, args...)}, nil
}

var succeeded = Result{}

// Stores bundles every collaborator dependency the handlers need.
type Stores struct {
	Tasks      TaskStore
	Messages   MessageStore
	Expenses   ExpenseStore
	Entities   EntityStore
	Directory  Directory
	Templates  TemplateStore
	RoundRobin RoundRobinStore
}

// Executor dispatches one action to its handler. Handlers are not
// execution-idempotent: a retried action may duplicate its side effects.
type Executor struct {
	stores   Stores
	outbound OutboundQueue // optional, nil disables delivery hand-off
	log      *zap.Logger
	now      func() time.Time
}

func NewExecutor(stores Stores, outbound OutboundQueue, log *zap.Logger) *Executor {
	return &Executor{
		stores:   stores,
		outbound: outbound,
		log:      log,
		now:      time.Now,
	}
}

// Execute runs a single action. ruleID may be empty except for round-robin
// assignment, whose fairness cursor is scoped per rule. cfg must already be
// normalized to canonical keys.
func (e *Executor) Execute(ctx context.Context, orgID, ruleID, actionType string, cfg map[string]any, evCtx domain.Context) (Result, error) {
	switch actionType {
	case ActionCreateTask:
		c, _ := DecodeActionConfig(actionType, cfg).(TaskConfig)
		return e.createTask(ctx, orgID, c, evCtx)
	case ActionAssignRR:
		c, _ := DecodeActionConfig(actionType, cfg).(TaskConfig)
		return e.assignTaskRoundRobin(ctx, orgID, ruleID, c, evCtx)
	case ActionSendNotify, ActionSendWhatsApp:
		c, _ := DecodeActionConfig(actionType, cfg).(NotificationConfig)
		return e.sendNotification(ctx, orgID, actionType, c, evCtx)
	case ActionUpdateStatus:
		c, _ := DecodeActionConfig(actionType, cfg).(StatusConfig)
		return e.updateStatus(ctx, orgID, c, evCtx)
	case ActionCreateExpense:
		c, _ := DecodeActionConfig(actionType, cfg).(ExpenseConfig)
		return e.createExpense(ctx, orgID, c, evCtx)
	}
	return skipf("unsupported action type %q", actionType)
}
