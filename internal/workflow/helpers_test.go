package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/domain"
	"github.com/casaflow/engine/internal/storage"
)

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestExecutor(mem *storage.Memory) *Executor {
	e := NewExecutor(Stores{
		Tasks:      mem,
		Messages:   mem,
		Expenses:   mem,
		Entities:   mem,
		Directory:  mem,
		Templates:  mem,
		RoundRobin: mem,
	}, nil, zap.NewNop())
	e.now = func() time.Time { return testClock }
	return e
}

// staticRules serves a fixed rule list, for dispatcher tests that need
// shapes the memory store would normalize away (e.g. a rule without an id).
type staticRules []domain.Rule

func (s staticRules) ActiveRules(context.Context, string, string, int) ([]domain.Rule, error) {
	return s, nil
}

// failingTasks simulates a transient collaborator write failure.
type failingTasks struct{ err error }

func (f failingTasks) CreateTask(context.Context, domain.Task) (string, error) {
	return "", f.err
}

// recordingOutbound captures delivery hand-offs.
type recordingOutbound struct {
	mu     sync.Mutex
	pushed []string
}

func (r *recordingOutbound) PushMessage(_ context.Context, _ string, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, messageID)
	return nil
}
