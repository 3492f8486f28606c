package domain

import "time"

// Rule binds a trigger event to an action within an organization.
// Rules are configured through the rules API and are read-only input
// to the engine itself.
type Rule struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	TriggerEvent   string         `json:"trigger_event"`
	ActionType     string         `json:"action_type"`
	ActionConfig   map[string]any `json:"action_config"` // raw wire config, aliases and all
	DelayMinutes   int            `json:"delay_minutes"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Context carries the event payload a trigger fired with. Values are used
// for template substitution and entity resolution.
type Context map[string]any

// String returns the context value under key if it is a non-empty string.
func (c Context) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy so snapshots do not alias the caller's map.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
