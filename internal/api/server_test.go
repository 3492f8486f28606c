package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/domain"
	"github.com/casaflow/engine/internal/storage"
	"github.com/casaflow/engine/internal/workflow"
)

type noRuns struct{}

func (noRuns) RuleRuns(context.Context, string, int) ([]map[string]any, error) {
	return nil, nil
}

func newTestServer(mem *storage.Memory, mode workflow.Mode, internalKey string) *Server {
	log := zap.NewNop()
	exec := workflow.NewExecutor(workflow.Stores{
		Tasks: mem, Messages: mem, Expenses: mem, Entities: mem,
		Directory: mem, Templates: mem, RoundRobin: mem,
	}, nil, log)
	dispatcher := workflow.NewDispatcher(mem, mem, exec, nil, 3, log)
	processor := workflow.NewProcessor(mem, mem, exec, log)
	return NewServer(dispatcher, processor, mem, mem, mem, noRuns{}, mode, false, internalKey, log)
}

func doJSON(t *testing.T, h http.Handler, method, path, key, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var parsed map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func TestFireTriggerEndpointEnqueues(t *testing.T) {
	mem := storage.NewMemory()
	orgID := uuid.NewString()
	mem.AddRule(domain.Rule{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		TriggerEvent:   "reservation_confirmed",
		ActionType:     "create_task",
		IsActive:       true,
	})
	srv := newTestServer(mem, workflow.ModeQueue, "")

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/v1/triggers/reservation_confirmed", "",
		`{"org_id":"`+orgID+`","context":{"unit_code":"VM-201"}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["fired"])
	assert.Equal(t, "reservation_confirmed", body["trigger_event"])
	require.Len(t, mem.Jobs(), 1)
}

func TestFireTriggerEndpointValidatesBody(t *testing.T) {
	srv := newTestServer(storage.NewMemory(), workflow.ModeQueue, "")

	rec, _ := doJSON(t, srv.Router(), http.MethodPost, "/v1/triggers/checked_in", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/v1/triggers/checked_in", "", `{"context":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "org_id is required", body["error"])
}

func TestInternalEndpointsRequireConfiguredKey(t *testing.T) {
	srv := newTestServer(storage.NewMemory(), workflow.ModeQueue, "secret")
	router := srv.Router()

	rec, _ := doJSON(t, router, http.MethodPost, "/internal/process-workflow-jobs", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/internal/process-workflow-jobs", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/internal/process-workflow-jobs", "secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessJobsEndpointNoopsInLegacyMode(t *testing.T) {
	srv := newTestServer(storage.NewMemory(), workflow.ModeLegacy, "")

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/internal/process-workflow-jobs", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "legacy", body["mode"])
	summary, ok := body["summary"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, summary["picked"])
}

func TestProcessJobsEndpointDrainsQueue(t *testing.T) {
	mem := storage.NewMemory()
	orgID := uuid.NewString()
	mem.AddRule(domain.Rule{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		TriggerEvent:   "checked_out",
		ActionType:     "create_task",
		ActionConfig:   map[string]any{"title": "Turnover"},
		IsActive:       true,
	})
	srv := newTestServer(mem, workflow.ModeQueue, "")
	router := srv.Router()

	doJSON(t, router, http.MethodPost, "/v1/triggers/checked_out", "", `{"org_id":"`+orgID+`"}`)

	rec, body := doJSON(t, router, http.MethodPost, "/internal/process-workflow-jobs", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 1, summary["picked"])
	assert.EqualValues(t, 1, summary["succeeded"])
	require.Len(t, mem.Tasks(), 1)

	rec, _ = doJSON(t, router, http.MethodPost, "/internal/process-workflow-jobs?limit=bogus", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobEndpoint(t *testing.T) {
	mem := storage.NewMemory()
	created, err := mem.EnqueueJob(context.Background(), domain.EnqueueParams{
		OrganizationID: uuid.NewString(),
		TriggerEvent:   "checked_in",
		ActionType:     "create_task",
		DedupeKey:      "wf:abc",
		MaxAttempts:    3,
	})
	require.NoError(t, err)
	require.True(t, created)
	jobID := mem.Jobs()[0].ID
	srv := newTestServer(mem, workflow.ModeQueue, "")

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/v1/workflow-jobs/"+jobID, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobID, body["id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "wf:abc", body["dedupe_key"])

	rec, _ = doJSON(t, srv.Router(), http.MethodGet, "/v1/workflow-jobs/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuleLifecycle(t *testing.T) {
	mem := storage.NewMemory()
	srv := newTestServer(mem, workflow.ModeQueue, "")
	router := srv.Router()
	orgID := uuid.NewString()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/workflow-rules", "",
		`{"org_id":"`+orgID+`","name":"Turnover","trigger_event":"checked_out",
		  "action_type":"create_task","action_config":{"title_template":"Turnover for {{unit_code}}"},
		  "delay_minutes":30}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	ruleID, _ := body["id"].(string)
	require.NotEmpty(t, ruleID)
	assert.Equal(t, true, body["is_active"])
	assert.EqualValues(t, 30, body["delay_minutes"])

	rec, body = doJSON(t, router, http.MethodGet, "/v1/workflow-rules/"+ruleID+"?org_id="+orgID, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Turnover", body["name"])
	assert.Equal(t, "checked_out", body["trigger_event"])

	// Partial update: only the named fields change.
	rec, body = doJSON(t, router, http.MethodPut, "/v1/workflow-rules/"+ruleID, "",
		`{"org_id":"`+orgID+`","is_active":false,"delay_minutes":0}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_active"])
	assert.EqualValues(t, 0, body["delay_minutes"])
	assert.Equal(t, "Turnover", body["name"])

	// Deactivated rules no longer fire.
	rules, err := mem.ActiveRules(context.Background(), orgID, "checked_out", 10)
	require.NoError(t, err)
	assert.Empty(t, rules)

	rec, _ = doJSON(t, router, http.MethodDelete, "/v1/workflow-rules/"+ruleID+"?org_id="+orgID, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/v1/workflow-rules/"+ruleID+"?org_id="+orgID, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = doJSON(t, router, http.MethodDelete, "/v1/workflow-rules/"+ruleID+"?org_id="+orgID, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRuleValidation(t *testing.T) {
	srv := newTestServer(storage.NewMemory(), workflow.ModeQueue, "")
	router := srv.Router()
	orgID := uuid.NewString()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/workflow-rules", "",
		`{"org_id":"`+orgID+`","trigger_event":"checked_out","action_type":"launch_rocket"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown action_type", body["error"])

	rec, body = doJSON(t, router, http.MethodPost, "/v1/workflow-rules", "",
		`{"org_id":"`+orgID+`","trigger_event":"comet_sighted","action_type":"create_task"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown trigger_event", body["error"])

	rec, body = doJSON(t, router, http.MethodPost, "/v1/workflow-rules", "",
		`{"trigger_event":"checked_out","action_type":"create_task"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "org_id is required", body["error"])

	rec, _ = doJSON(t, router, http.MethodPost, "/v1/workflow-rules", "",
		`{"org_id":"`+orgID+`","trigger_event":"checked_out","action_type":"create_task","delay_minutes":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuleMutationsRequireConfiguredKey(t *testing.T) {
	srv := newTestServer(storage.NewMemory(), workflow.ModeQueue, "secret")
	router := srv.Router()

	rec, _ := doJSON(t, router, http.MethodPost, "/v1/workflow-rules", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = doJSON(t, router, http.MethodPut, "/v1/workflow-rules/"+uuid.NewString(), "wrong", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = doJSON(t, router, http.MethodDelete, "/v1/workflow-rules/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatedRuleFires(t *testing.T) {
	mem := storage.NewMemory()
	srv := newTestServer(mem, workflow.ModeQueue, "")
	router := srv.Router()
	orgID := uuid.NewString()

	rec, _ := doJSON(t, router, http.MethodPost, "/v1/workflow-rules", "",
		`{"org_id":"`+orgID+`","trigger_event":"reservation_confirmed","action_type":"create_task",
		  "action_config":{"title":"Prep {{unit_code}}"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/v1/triggers/reservation_confirmed", "",
		`{"org_id":"`+orgID+`","context":{"unit_code":"VM-707"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, mem.Jobs(), 1)

	rec, _ = doJSON(t, router, http.MethodPost, "/internal/process-workflow-jobs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := mem.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Prep VM-707", tasks[0].Title)
}

func TestListRulesRequiresOrg(t *testing.T) {
	srv := newTestServer(storage.NewMemory(), workflow.ModeQueue, "")
	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/v1/workflow-rules", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "org_id is required", body["error"])
}

func TestMetadataEndpoint(t *testing.T) {
	srv := newTestServer(storage.NewMemory(), workflow.ModeQueue, "")
	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/v1/workflow-rules/metadata", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queue", body["engine_mode"])
	assert.Len(t, body["triggers"], len(domain.TriggerCatalog))
	assert.Len(t, body["actions"], len(domain.ActionCatalog))
}
