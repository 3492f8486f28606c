package domain

// TriggerMeta and ActionMeta describe the catalog of supported trigger
// events and action types, served to rule-builder UIs.
type TriggerMeta struct {
	Value   string `json:"value"`
	LabelEN string `json:"label_en"`
	LabelES string `json:"label_es"`
}

type ActionMeta struct {
	Value   string `json:"value"`
	LabelEN string `json:"label_en"`
	LabelES string `json:"label_es"`
	// ConfigKeys hints which canonical config keys the action understands.
	ConfigKeys []string `json:"config_keys"`
}

var TriggerCatalog = []TriggerMeta{
	{Value: "reservation_confirmed", LabelEN: "Reservation confirmed", LabelES: "Reserva confirmada"},
	{Value: "checked_in", LabelEN: "Checked in", LabelES: "Check-in"},
	{Value: "checked_out", LabelEN: "Checked out", LabelES: "Check-out"},
	{Value: "lease_created", LabelEN: "Lease created", LabelES: "Contrato creado"},
	{Value: "lease_activated", LabelEN: "Lease activated", LabelES: "Contrato activado"},
	{Value: "collection_overdue", LabelEN: "Collection overdue", LabelES: "Cobro vencido"},
	{Value: "application_received", LabelEN: "Application received", LabelES: "Aplicacion recibida"},
	{Value: "maintenance_submitted", LabelEN: "Maintenance submitted", LabelES: "Mantenimiento recibido"},
	{Value: "task_completed", LabelEN: "Task completed", LabelES: "Tarea completada"},
	{Value: "payment_received", LabelEN: "Payment received", LabelES: "Pago recibido"},
	{Value: "lease_expiring", LabelEN: "Lease expiring", LabelES: "Contrato por vencer"},
}

// KnownTrigger reports whether v is a catalogued trigger event.
func KnownTrigger(v string) bool {
	for _, t := range TriggerCatalog {
		if t.Value == v {
			return true
		}
	}
	return false
}

// KnownAction reports whether v is a catalogued action type.
func KnownAction(v string) bool {
	for _, a := range ActionCatalog {
		if a.Value == v {
			return true
		}
	}
	return false
}

var ActionCatalog = []ActionMeta{
	{Value: "create_task", LabelEN: "Create task", LabelES: "Crear tarea",
		ConfigKeys: []string{"title", "type", "priority", "assigned_role", "assigned_user_id"}},
	{Value: "assign_task_round_robin", LabelEN: "Assign task (round robin)", LabelES: "Asignar tarea (rotativa)",
		ConfigKeys: []string{"title", "type", "priority", "assigned_role"}},
	{Value: "send_notification", LabelEN: "Send notification", LabelES: "Enviar notificacion",
		ConfigKeys: []string{"channel", "recipient", "recipient_field", "subject", "body", "template_id"}},
	{Value: "send_whatsapp", LabelEN: "Send WhatsApp", LabelES: "Enviar WhatsApp",
		ConfigKeys: []string{"recipient", "recipient_field", "body", "template_id", "whatsapp_template_name"}},
	{Value: "update_status", LabelEN: "Update status", LabelES: "Actualizar estado",
		ConfigKeys: []string{"entity_type", "entity_id", "target_status", "cancel_reason"}},
	{Value: "create_expense", LabelEN: "Create expense", LabelES: "Crear gasto",
		ConfigKeys: []string{"amount", "category", "currency", "payment_method", "description"}},
}
