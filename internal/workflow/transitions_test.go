package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionAllowed(t *testing.T) {
	assert.True(t, TransitionAllowed("reservation", "pending", "confirmed"))
	assert.True(t, TransitionAllowed("reservation", "confirmed", "no_show"))
	assert.True(t, TransitionAllowed("reservation", "checked_in", "checked_out"))
	assert.False(t, TransitionAllowed("reservation", "pending", "checked_in"))

	assert.True(t, TransitionAllowed("lease", "draft", "active"))
	assert.True(t, TransitionAllowed("lease", "delinquent", "active"))
	assert.False(t, TransitionAllowed("lease", "terminated", "active"))

	assert.True(t, TransitionAllowed("task", "todo", "done"))
	assert.True(t, TransitionAllowed("task", "in_progress", "cancelled"))
	assert.False(t, TransitionAllowed("task", "done", "todo"))

	assert.False(t, TransitionAllowed("listing", "draft", "published"))
}

func TestTerminalStatesAllowNothing(t *testing.T) {
	terminal := map[string][]string{
		"reservation": {"checked_out", "cancelled", "no_show"},
		"lease":       {"terminated", "completed"},
		"task":        {"done", "cancelled"},
	}
	targets := []string{
		"pending", "confirmed", "checked_in", "checked_out", "cancelled", "no_show",
		"draft", "active", "delinquent", "terminated", "completed",
		"todo", "in_progress", "done",
	}
	for entity, states := range terminal {
		for _, from := range states {
			for _, to := range targets {
				assert.False(t, TransitionAllowed(entity, from, to),
					"%s: %s -> %s", entity, from, to)
			}
		}
	}
}
