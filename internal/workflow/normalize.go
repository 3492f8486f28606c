package workflow

// Action types the engine knows how to execute.
const (
	ActionCreateTask    = "create_task"
	ActionAssignRR      = "assign_task_round_robin"
	ActionSendNotify    = "send_notification"
	ActionSendWhatsApp  = "send_whatsapp"
	ActionUpdateStatus  = "update_status"
	ActionCreateExpense = "create_expense"
)

// aliasRule maps one legacy config key to its canonical name.
type aliasRule struct {
	alias     string
	canonical string
}

// configAliases lists legacy-to-canonical key mappings per action type, in
// application order. Order matters where two aliases share a canonical key:
// recipient_phone takes precedence over recipient_email, so a config carrying
// both always normalizes (and dedupes) the same way.
var configAliases = map[string][]aliasRule{
	ActionCreateTask: {
		{"task_type", "type"},
		{"title_template", "title"},
		{"assignee_role", "assigned_role"},
	},
	ActionAssignRR: {
		{"task_type", "type"},
		{"title_template", "title"},
		{"assignee_role", "assigned_role"},
	},
	ActionSendNotify: {
		{"template", "template_id"},
		{"message", "body"},
		{"recipient_phone", "recipient"},
		{"recipient_email", "recipient"},
	},
	ActionSendWhatsApp: {
		{"template", "template_id"},
		{"message", "body"},
		{"recipient_phone", "recipient"},
		{"recipient_email", "recipient"},
	},
	ActionUpdateStatus: {
		{"status", "target_status"},
		{"entity", "entity_type"},
	},
	ActionCreateExpense: {
		{"value", "amount"},
	},
}

// NormalizeConfig maps legacy/alias keys onto canonical ones so handlers only
// ever see canonical keys. Alias keys are dropped from the result, which also
// keeps dedupe keys stable across old and new rule configs. The input map is
// not mutated.
func NormalizeConfig(actionType string, cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}

	for _, r := range configAliases[actionType] {
		if v, ok := out[r.alias]; ok {
			if _, exists := out[r.canonical]; !exists {
				out[r.canonical] = v
			}
			delete(out, r.alias)
		}
	}

	if actionType == ActionCreateExpense {
		normalizeMinorAmount(out)
	}
	return out
}

// normalizeMinorAmount converts integer minor units (amount_minor or
// amount_cents) to a decimal amount when no amount is present.
func normalizeMinorAmount(cfg map[string]any) {
	for _, key := range []string{"amount_minor", "amount_cents"} {
		v, ok := cfg[key]
		if !ok {
			continue
		}
		if _, exists := cfg["amount"]; !exists {
			if minor, ok := toFloat(v); ok {
				cfg["amount"] = minor / 100
			}
		}
		delete(cfg, key)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
