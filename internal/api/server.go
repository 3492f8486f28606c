package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/domain"
	"github.com/casaflow/engine/internal/workflow"
)

// JobReader and RunsReader expose the inspection queries the API needs
// beyond the engine interfaces.
type JobReader interface {
	JobByID(ctx context.Context, jobID string) (domain.Job, error)
}

type RunsReader interface {
	RuleRuns(ctx context.Context, ruleID string, limit int) ([]map[string]any, error)
}

// RuleAdmin is the rule authorship surface backing the CRUD endpoints.
type RuleAdmin interface {
	CreateRule(ctx context.Context, r domain.Rule) (domain.Rule, error)
	RuleByID(ctx context.Context, orgID, ruleID string) (domain.Rule, error)
	UpdateRule(ctx context.Context, r domain.Rule) (domain.Rule, error)
	DeleteRule(ctx context.Context, orgID, ruleID string) (bool, error)
}

type Server struct {
	dispatcher *workflow.Dispatcher
	processor  *workflow.Processor
	rules      workflow.RuleStore
	ruleAdmin  RuleAdmin
	jobs       JobReader
	runs       RunsReader

	mode         workflow.Mode
	isProduction bool
	internalKey  string
	log          *zap.Logger
}

func NewServer(
	dispatcher *workflow.Dispatcher,
	processor *workflow.Processor,
	rules workflow.RuleStore,
	ruleAdmin RuleAdmin,
	jobs JobReader,
	runs RunsReader,
	mode workflow.Mode,
	isProduction bool,
	internalKey string,
	log *zap.Logger,
) *Server {
	return &Server{
		dispatcher:   dispatcher,
		processor:    processor,
		rules:        rules,
		ruleAdmin:    ruleAdmin,
		jobs:         jobs,
		runs:         runs,
		mode:         mode,
		isProduction: isProduction,
		internalKey:  internalKey,
		log:          log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/v1/triggers/{event}", s.fireTrigger)
	r.Get("/v1/workflow-jobs/{job_id}", s.getJob)
	r.Get("/v1/workflow-rules", s.listRules)
	r.Post("/v1/workflow-rules", s.createRule)
	r.Get("/v1/workflow-rules/metadata", s.metadata)
	r.Get("/v1/workflow-rules/{rule_id}", s.getRule)
	r.Put("/v1/workflow-rules/{rule_id}", s.updateRule)
	r.Delete("/v1/workflow-rules/{rule_id}", s.deleteRule)
	r.Get("/v1/workflow-rules/{rule_id}/runs", s.listRuns)
	r.Post("/internal/process-workflow-jobs", s.processJobs)

	return r
}

type fireTriggerInput struct {
	OrgID   string         `json:"org_id"`
	Context domain.Context `json:"context"`
}

func (s *Server) fireTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	var in fireTriggerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	event := chi.URLParam(r, "event")

	// Best-effort by contract: the response never depends on rule outcomes.
	s.dispatcher.FireTrigger(r.Context(), in.OrgID, event, in.Context, s.mode)
	writeJSON(w, http.StatusAccepted, map[string]any{"fired": true, "trigger_event": event})
}

func (s *Server) processJobs(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	if s.mode != workflow.ModeQueue {
		writeJSON(w, http.StatusOK, map[string]any{"mode": string(s.mode), "summary": workflow.Summary{}})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	summary := s.processor.ProcessJobs(r.Context(), limit)
	writeJSON(w, http.StatusOK, map[string]any{"mode": string(s.mode), "summary": summary})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.JobByID(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	trigger := r.URL.Query().Get("trigger_event")
	rules, err := s.rules.ActiveRules(r.Context(), orgID, trigger, 200)
	if err != nil {
		s.log.Error("list rules failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rules})
}

type ruleInput struct {
	OrgID        string         `json:"org_id"`
	Name         *string        `json:"name"`
	TriggerEvent *string        `json:"trigger_event"`
	ActionType   *string        `json:"action_type"`
	ActionConfig map[string]any `json:"action_config"`
	DelayMinutes *int           `json:"delay_minutes"`
	IsActive     *bool          `json:"is_active"`
}

// validateRule rejects rule shapes the engine would refuse to execute.
func validateRule(rule domain.Rule) string {
	switch {
	case rule.OrganizationID == "":
		return "org_id is required"
	case !domain.KnownTrigger(rule.TriggerEvent):
		return "unknown trigger_event"
	case !domain.KnownAction(rule.ActionType):
		return "unknown action_type"
	case rule.DelayMinutes < 0:
		return "delay_minutes must not be negative"
	}
	return ""
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	var in ruleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rule := domain.Rule{
		OrganizationID: in.OrgID,
		ActionConfig:   in.ActionConfig,
		IsActive:       true,
	}
	if in.Name != nil {
		rule.Name = *in.Name
	}
	if in.TriggerEvent != nil {
		rule.TriggerEvent = *in.TriggerEvent
	}
	if in.ActionType != nil {
		rule.ActionType = *in.ActionType
	}
	if in.DelayMinutes != nil {
		rule.DelayMinutes = *in.DelayMinutes
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	if rule.ActionConfig == nil {
		rule.ActionConfig = map[string]any{}
	}
	if msg := validateRule(rule); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := s.ruleAdmin.CreateRule(r.Context(), rule)
	if err != nil {
		s.log.Error("create rule failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create rule")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	rule, err := s.ruleAdmin.RuleByID(r.Context(), orgID, chi.URLParam(r, "rule_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// updateRule applies a partial update: only fields present in the body change.
func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	var in ruleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	rule, err := s.ruleAdmin.RuleByID(r.Context(), in.OrgID, chi.URLParam(r, "rule_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if in.Name != nil {
		rule.Name = *in.Name
	}
	if in.TriggerEvent != nil {
		rule.TriggerEvent = *in.TriggerEvent
	}
	if in.ActionType != nil {
		rule.ActionType = *in.ActionType
	}
	if in.ActionConfig != nil {
		rule.ActionConfig = in.ActionConfig
	}
	if in.DelayMinutes != nil {
		rule.DelayMinutes = *in.DelayMinutes
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	if msg := validateRule(rule); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := s.ruleAdmin.UpdateRule(r.Context(), rule)
	if err != nil {
		s.log.Error("update rule failed", zap.String("rule_id", rule.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not update rule")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	deleted, err := s.ruleAdmin.DeleteRule(r.Context(), orgID, chi.URLParam(r, "rule_id"))
	if err != nil {
		s.log.Error("delete rule failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete rule")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	runs, err := s.runs.RuleRuns(r.Context(), chi.URLParam(r, "rule_id"), limit)
	if err != nil {
		s.log.Error("list rule runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": runs})
}

func (s *Server) metadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engine_mode": string(s.mode),
		"triggers":    domain.TriggerCatalog,
		"actions":     domain.ActionCatalog,
	})
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	err := ValidateInternalKey(s.isProduction, s.internalKey, r.Header.Get("X-Api-Key"))
	switch {
	case err == nil:
		return true
	case err == ErrKeyRequired:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusUnauthorized, err.Error())
	}
	return false
}

func jobResponse(j domain.Job) map[string]any {
	return map[string]any{
		"id":               j.ID,
		"organization_id":  j.OrganizationID,
		"workflow_rule_id": j.WorkflowRuleID,
		"trigger_event":    j.TriggerEvent,
		"action_type":      j.ActionType,
		"action_config":    j.ActionConfig,
		"context":          j.Context,
		"run_at":           j.RunAt,
		"status":           j.Status,
		"attempts":         j.Attempts,
		"max_attempts":     j.MaxAttempts,
		"last_error":       j.LastError,
		"dedupe_key":       j.DedupeKey,
		"started_at":       j.StartedAt,
		"finished_at":      j.FinishedAt,
		"created_at":       j.CreatedAt,
		"updated_at":       j.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
