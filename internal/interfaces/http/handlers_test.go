package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/application/dispatcher"
	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/application/service"
	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
	"github.com/garyjia/execution-gate/internal/infrastructure/storage"
	"github.com/garyjia/execution-gate/internal/report"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Cycle   []string        `json:"cycle"`
}

type apiHarness struct {
	router  *gin.Engine
	gate    *approval.Gate
	storage *storage.LocalFileStorage
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	engine := graph.NewEngine()
	d := dispatcher.NewDispatcher()
	gate := approval.NewGate(engine, approval.NewMemoryAuditLog(100),
		approval.WithDispatcher(d),
		approval.WithAutomatedActors("ci-bot"),
	)
	planning := service.NewPlanningService(engine, gate, flow.NewResolver(), nil, d, &mockLogger{})
	files := storage.NewLocalFileStorage(t.TempDir(), zap.NewNop())

	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	server := NewServer(cfg, Dependencies{
		Planning: planning,
		Gate:     gate,
		Tasks:    engine,
		Exporter: report.NewAuditExporter(time.UTC, zap.NewNop()),
		Storage:  files,
		Version:  "test",
	}, &mockLogger{})

	return &apiHarness{router: server.Router(), gate: gate, storage: files}
}

func (h *apiHarness) do(t *testing.T, method, url string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != xlsxContentType {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func apiTask(id string, deps ...string) *entity.Task {
	return &entity.Task{
		ID:      id,
		Command: "run " + id,
		Temporal: entity.TemporalDescriptor{
			Dependencies:      deps,
			EstimatedDuration: 5 * time.Minute,
		},
		Scope:  entity.ScopeDescriptor{Layer: entity.LayerService, Resources: []string{id + "-res"}},
		Impact: entity.ImpactDescriptor{ChangeType: entity.ChangeLogic, Level: entity.ImpactSmall, Reversible: true},
	}
}

func (h *apiHarness) loadAndPlan(t *testing.T) {
	t.Helper()
	w, _ := h.do(t, http.MethodPost, "/api/v1/plan/tasks", LoadTasksRequest{Tasks: []*entity.Task{
		apiTask("schema"),
		apiTask("api", "schema"),
		apiTask("canary", "schema"),
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = h.do(t, http.MethodPost, "/api/v1/plan/branches", flow.Branch{
		ID:        "canary-rollout",
		Condition: flow.UserDecision("run canary"),
		TaskIDs:   []string{"canary"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = h.do(t, http.MethodPost, "/api/v1/plan", BuildPlanRequest{Decisions: map[string]bool{"run canary": false}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealthCheck(t *testing.T) {
	h := newAPIHarness(t)

	w, env := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestPlanAndApprovalFlow(t *testing.T) {
	h := newAPIHarness(t)

	w, _ := h.do(t, http.MethodGet, "/api/v1/plan", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.loadAndPlan(t)

	w, env := h.do(t, http.MethodGet, "/api/v1/plan", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var plan flow.ExecutionPlan
	require.NoError(t, json.Unmarshal(env.Data, &plan))
	require.Len(t, plan.Stages, 2)
	assert.Equal(t, []string{"canary"}, plan.Excluded)

	w, env = h.do(t, http.MethodPost, "/api/v1/plan/approvals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var requests []*entity.ApprovalRequest
	require.NoError(t, json.Unmarshal(env.Data, &requests))
	require.Len(t, requests, 1)
	reqID := requests[0].ID

	w, _ = h.do(t, http.MethodPost, "/api/v1/tasks/schema/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = h.do(t, http.MethodPost, "/api/v1/approvals/"+reqID+"/decision",
		approval.Decision{Action: approval.ActionApprove, Actor: "ci-bot"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, env.Error, "safety violation")

	w, env = h.do(t, http.MethodGet, "/api/v1/violations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var violations []entity.SafetyViolation
	require.NoError(t, json.Unmarshal(env.Data, &violations))
	require.Len(t, violations, 1)
	assert.Equal(t, "ci-bot", violations[0].Actor)

	w, _ = h.do(t, http.MethodPost, "/api/v1/approvals/"+reqID+"/decision",
		approval.Decision{Action: approval.ActionApprove, Actor: "alice", Reason: "looks safe"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = h.do(t, http.MethodPost, "/api/v1/approvals/"+reqID+"/decision",
		approval.Decision{Action: approval.ActionReject, Actor: "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = h.do(t, http.MethodPost, "/api/v1/tasks/schema/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = h.do(t, http.MethodPost, "/api/v1/tasks/schema/complete", CompleteRequest{Output: "migrated"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var done entity.Task
	require.NoError(t, json.Unmarshal(env.Data, &done))
	assert.Equal(t, entity.TaskCompleted, done.Status)

	w, env = h.do(t, http.MethodGet, "/api/v1/approvals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	requests = nil
	require.NoError(t, json.Unmarshal(env.Data, &requests))
	require.Len(t, requests, 1)
	assert.Equal(t, "api", requests[0].TaskID())

	w, env = h.do(t, http.MethodGet, "/api/v1/audit?task_id=schema&decision=approved", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []*entity.AuditEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor)
	require.NotNil(t, entries[0].Outcome)
	assert.True(t, entries[0].Outcome.Success)

	w, _ = h.do(t, http.MethodPost, "/api/v1/tasks/canary/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuditExport(t *testing.T) {
	h := newAPIHarness(t)
	h.loadAndPlan(t)

	_, env := h.do(t, http.MethodPost, "/api/v1/plan/approvals", nil)
	var requests []*entity.ApprovalRequest
	require.NoError(t, json.Unmarshal(env.Data, &requests))
	require.Len(t, requests, 1)

	w, _ := h.do(t, http.MethodPost, "/api/v1/approvals/"+requests[0].ID+"/cancel", ActorRequest{Actor: "alice", Reason: "not today"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = h.do(t, http.MethodGet, "/api/v1/audit/export", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotEmpty(t, w.Body.Bytes())

	stored, err := h.storage.List(context.Background(), "audit")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	w, env = h.do(t, http.MethodGet, "/api/v1/audit/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats approval.AuditStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByDecision[entity.DecisionCancelled])
}

func TestLoadTasksRejectsCycle(t *testing.T) {
	h := newAPIHarness(t)

	w, env := h.do(t, http.MethodPost, "/api/v1/plan/tasks", LoadTasksRequest{Tasks: []*entity.Task{
		apiTask("a", "b"),
		apiTask("b", "a"),
	}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, env.Error, "cycle")
	assert.NotEmpty(t, env.Cycle)

	w, env = h.do(t, http.MethodGet, "/api/v1/plan/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []*entity.Task
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	assert.Empty(t, tasks)
}

func TestBadRequests(t *testing.T) {
	h := newAPIHarness(t)
	h.loadAndPlan(t)

	tests := []struct {
		name   string
		method string
		url    string
		body   interface{}
		status int
	}{
		{"missing tasks", http.MethodPost, "/api/v1/plan/tasks", map[string]string{}, http.StatusBadRequest},
		{"branch without tasks", http.MethodPost, "/api/v1/plan/branches", flow.Branch{ID: "x"}, http.StatusBadRequest},
		{"branch with unknown task", http.MethodPost, "/api/v1/plan/branches", flow.Branch{ID: "x", Condition: flow.UserDecision("q"), TaskIDs: []string{"ghost"}}, http.StatusNotFound},
		{"unknown approval", http.MethodGet, "/api/v1/approvals/nope", nil, http.StatusNotFound},
		{"decide unknown approval", http.MethodPost, "/api/v1/approvals/nope/decision", approval.Decision{Action: approval.ActionApprove, Actor: "alice"}, http.StatusNotFound},
		{"unknown task", http.MethodGet, "/api/v1/plan/tasks/ghost", nil, http.StatusNotFound},
		{"fail without reason", http.MethodPost, "/api/v1/tasks/schema/fail", map[string]string{}, http.StatusBadRequest},
		{"bad wait timeout", http.MethodPost, "/api/v1/tasks/schema/wait", WaitRequest{Token: "t", Timeout: "soon"}, http.StatusBadRequest},
		{"bad audit time", http.MethodGet, "/api/v1/audit?from=yesterday", nil, http.StatusBadRequest},
		{"bad audit limit", http.MethodGet, "/api/v1/audit?limit=-1", nil, http.StatusBadRequest},
		{"empty batch approve", http.MethodPost, "/api/v1/batch/approve", BatchRequest{Actor: "alice"}, http.StatusConflict},
		{"snapshots unconfigured", http.MethodGet, "/api/v1/snapshots", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := h.do(t, tt.method, tt.url, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestWaitAndSignal(t *testing.T) {
	h := newAPIHarness(t)
	h.loadAndPlan(t)

	w, env := h.do(t, http.MethodPost, "/api/v1/tasks/schema/wait", WaitRequest{Token: "go", Timeout: "10m"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var task entity.Task
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, entity.TaskWaitingSignal, task.Status)

	w, _ = h.do(t, http.MethodPost, "/api/v1/tasks/schema/signal", SignalRequest{Token: "stop"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = h.do(t, http.MethodPost, "/api/v1/tasks/schema/signal", SignalRequest{Token: "go"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, entity.TaskReady, task.Status)
}

func TestBatchAssess(t *testing.T) {
	h := newAPIHarness(t)
	h.loadAndPlan(t)

	_, env := h.do(t, http.MethodPost, "/api/v1/plan/approvals", nil)
	var requests []*entity.ApprovalRequest
	require.NoError(t, json.Unmarshal(env.Data, &requests))
	require.Len(t, requests, 1)

	w, env := h.do(t, http.MethodPost, "/api/v1/batch/assess", BatchRequest{RequestIDs: []string{requests[0].ID}})
	require.Equal(t, http.StatusOK, w.Code)
	var assessment approval.BatchAssessment
	require.NoError(t, json.Unmarshal(env.Data, &assessment))
	assert.True(t, assessment.CanApproveAsBatch, assessment.Reasons)

	w, _ = h.do(t, http.MethodPost, "/api/v1/batch/approve", BatchRequest{RequestIDs: []string{requests[0].ID}, Actor: "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, h.gate.Pending())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", approval.ErrSafetyViolation, approval.ErrOverrideRequired), http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", approval.ErrRequestExpired), http.StatusGone},
		{fmt.Errorf("load: %w", &graph.GraphError{Kind: graph.ErrCycle, Path: []string{"a", "b", "a"}}), http.StatusConflict},
		{port.ErrSnapshotNotFound, http.StatusNotFound},
		{service.ErrPlanVetoed, http.StatusConflict},
		{approval.ErrMissingActor, http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
