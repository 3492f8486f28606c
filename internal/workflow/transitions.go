package workflow

// entityTarget maps a supported entity type to its collaborator table and
// well-known context key for id resolution.
type entityTarget struct {
	Table      string
	ContextKey string
}

var entityTargets = map[string]entityTarget{
	"reservation": {Table: "reservations", ContextKey: "reservation_id"},
	"lease":       {Table: "leases", ContextKey: "lease_id"},
	"task":        {Table: "tasks", ContextKey: "task_id"},
}

// allowedTransitions is the full (entity, from) -> allowed targets table.
// States absent here are terminal for their entity.
var allowedTransitions = map[string]map[string][]string{
	"reservation": {
		"pending":    {"confirmed", "cancelled"},
		"confirmed":  {"checked_in", "cancelled", "no_show"},
		"checked_in": {"checked_out"},
	},
	"lease": {
		"draft":      {"active", "terminated"},
		"active":     {"delinquent", "terminated", "completed"},
		"delinquent": {"active", "terminated", "completed"},
	},
	"task": {
		"todo":        {"in_progress", "done", "cancelled"},
		"in_progress": {"done", "cancelled"},
	},
}

// TransitionAllowed reports whether entityType may move from current to
// target status.
func TransitionAllowed(entityType, current, target string) bool {
	for _, t := range allowedTransitions[entityType][current] {
		if t == target {
			return true
		}
	}
	return false
}
