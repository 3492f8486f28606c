package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/casaflow/engine/internal/domain"
)

func TestDedupeKeyStable(t *testing.T) {
	cfg := map[string]any{"title": "Turnover", "type": "cleaning"}
	evCtx := domain.Context{"unit_code": "VM-201", "reservation_id": "res-1"}

	a := DedupeKey("org-1", "rule-1", "reservation_confirmed", ActionCreateTask, cfg, evCtx)
	b := DedupeKey("org-1", "rule-1", "reservation_confirmed", ActionCreateTask, cfg, evCtx)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "wf:"))
	assert.Len(t, a, 3+40) // sha1 hex
}

func TestDedupeKeyOrderInvariant(t *testing.T) {
	// Same pairs, different insertion order, nested maps included.
	first := domain.Context{
		"reservation_id": "res-1",
		"unit_code":      "VM-201",
		"guest":          map[string]any{"name": "Ana", "phone": "+595981"},
	}
	second := domain.Context{}
	second["guest"] = map[string]any{"phone": "+595981", "name": "Ana"}
	second["unit_code"] = "VM-201"
	second["reservation_id"] = "res-1"

	a := DedupeKey("org-1", "rule-1", "checked_in", ActionSendNotify, nil, first)
	b := DedupeKey("org-1", "rule-1", "checked_in", ActionSendNotify, nil, second)
	assert.Equal(t, a, b)
}

func TestDedupeKeySensitivity(t *testing.T) {
	base := domain.Context{"unit_code": "VM-201"}
	key := DedupeKey("org-1", "rule-1", "checked_in", ActionCreateTask, nil, base)

	assert.NotEqual(t, key,
		DedupeKey("org-1", "rule-1", "checked_in", ActionCreateTask, nil, domain.Context{"unit_code": "VM-202"}))
	assert.NotEqual(t, key,
		DedupeKey("org-1", "rule-2", "checked_in", ActionCreateTask, nil, base))
	assert.NotEqual(t, key,
		DedupeKey("org-1", "rule-1", "checked_out", ActionCreateTask, nil, base))

	// Array order matters.
	assert.NotEqual(t,
		DedupeKey("o", "r", "e", "a", map[string]any{"ids": []any{"1", "2"}}, nil),
		DedupeKey("o", "r", "e", "a", map[string]any{"ids": []any{"2", "1"}}, nil))
}
