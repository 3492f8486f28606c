package workflow

import (
	"strconv"
	"strings"
)

// Typed views over the normalized config map, decoded at the execution
// boundary so handlers never do stringly-typed lookups. The action type
// selects the variant.

type ActionConfig interface {
	isActionConfig()
}

type TaskConfig struct {
	Title          string
	Type           string
	Priority       string
	AssignedRole   string
	AssignedUserID string
}

type NotificationConfig struct {
	Channel              string
	Recipient            string
	RecipientField       string
	Subject              string
	Body                 string
	TemplateID           string
	WhatsAppTemplateName string
}

type StatusConfig struct {
	EntityType   string
	EntityID     string
	TargetStatus string
	CancelReason string
}

type ExpenseConfig struct {
	Amount        float64
	AmountSet     bool
	Category      string
	Currency      string
	Description   string
	PaymentMethod string
}

func (TaskConfig) isActionConfig()         {}
func (NotificationConfig) isActionConfig() {}
func (StatusConfig) isActionConfig()       {}
func (ExpenseConfig) isActionConfig()      {}

// DecodeActionConfig builds the typed variant for actionType from a
// normalized (canonical-key) config map. Unknown action types decode to nil.
func DecodeActionConfig(actionType string, cfg map[string]any) ActionConfig {
	switch actionType {
	case ActionCreateTask, ActionAssignRR:
		return TaskConfig{
			Title:          str(cfg, "title"),
			Type:           str(cfg, "type"),
			Priority:       str(cfg, "priority"),
			AssignedRole:   str(cfg, "assigned_role"),
			AssignedUserID: str(cfg, "assigned_user_id"),
		}
	case ActionSendNotify, ActionSendWhatsApp:
		return NotificationConfig{
			Channel:              str(cfg, "channel"),
			Recipient:            str(cfg, "recipient"),
			RecipientField:       str(cfg, "recipient_field"),
			Subject:              str(cfg, "subject"),
			Body:                 str(cfg, "body"),
			TemplateID:           str(cfg, "template_id"),
			WhatsAppTemplateName: str(cfg, "whatsapp_template_name"),
		}
	case ActionUpdateStatus:
		return StatusConfig{
			EntityType:   str(cfg, "entity_type"),
			EntityID:     str(cfg, "entity_id"),
			TargetStatus: str(cfg, "target_status"),
			CancelReason: str(cfg, "cancel_reason"),
		}
	case ActionCreateExpense:
		amount, ok := parseAmount(cfg["amount"])
		return ExpenseConfig{
			Amount:        amount,
			AmountSet:     ok,
			Category:      str(cfg, "category"),
			Currency:      str(cfg, "currency"),
			Description:   str(cfg, "description"),
			PaymentMethod: str(cfg, "payment_method"),
		}
	}
	return nil
}

func str(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// parseAmount accepts JSON numbers and numeric strings.
func parseAmount(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if f, ok := toFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
