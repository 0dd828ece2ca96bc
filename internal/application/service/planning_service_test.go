package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/execution-gate/internal/application/dispatcher"
	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/event"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockSnapshotRepo struct {
	saveFunc func(ctx context.Context, snapshot *port.PlanSnapshot) error
	saved    map[string]*port.PlanSnapshot
}

func (m *mockSnapshotRepo) Save(ctx context.Context, snapshot *port.PlanSnapshot) error {
	if m.saveFunc != nil {
		return m.saveFunc(ctx, snapshot)
	}
	if m.saved == nil {
		m.saved = make(map[string]*port.PlanSnapshot)
	}
	m.saved[snapshot.ID] = snapshot
	return nil
}

func (m *mockSnapshotRepo) GetByID(ctx context.Context, id string) (*port.PlanSnapshot, error) {
	if s, ok := m.saved[id]; ok {
		return s, nil
	}
	return nil, port.ErrSnapshotNotFound
}

func (m *mockSnapshotRepo) Latest(ctx context.Context, name string) (*port.PlanSnapshot, error) {
	return nil, port.ErrSnapshotNotFound
}

func (m *mockSnapshotRepo) List(ctx context.Context, limit int) ([]*port.PlanSnapshot, error) {
	return nil, nil
}

type harness struct {
	svc      PlanningService
	engine   *graph.Engine
	gate     *approval.Gate
	audit    *approval.MemoryAuditLog
	repo     *mockSnapshotRepo
	mu       sync.Mutex
	statuses []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		engine: graph.NewEngine(),
		audit:  approval.NewMemoryAuditLog(100),
		repo:   &mockSnapshotRepo{},
	}
	d := dispatcher.NewDispatcher()
	d.Subscribe(event.TypeTaskStatusChanged, func(ctx context.Context, evt *event.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.statuses = append(h.statuses, evt.TaskID+":"+evt.GetPayloadString("to"))
		return nil
	})
	h.gate = approval.NewGate(h.engine, h.audit, approval.WithDispatcher(d))
	h.svc = NewPlanningService(h.engine, h.gate, flow.NewResolver(), h.repo, d, &mockLogger{})
	return h
}

func task(id string, deps ...string) *entity.Task {
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

func pipeline() []*entity.Task {
	return []*entity.Task{
		task("schema"),
		task("api", "schema"),
		task("canary", "schema"),
		task("ui", "api"),
	}
}

func loadAndPlan(t *testing.T, h *harness) *flow.ExecutionPlan {
	t.Helper()
	ctx := context.Background()

	analysis, err := h.svc.LoadTasks(ctx, pipeline())
	require.NoError(t, err)
	assert.True(t, analysis.Report.Feasible)
	assert.Equal(t, 4, analysis.Statistics.Tasks)

	require.NoError(t, h.svc.AddBranch(ctx, flow.Branch{
		ID:        "canary-rollout",
		Condition: flow.UserDecision("run canary"),
		TaskIDs:   []string{"canary"},
	}))

	plan, err := h.svc.BuildPlan(ctx, map[string]bool{"run canary": false})
	require.NoError(t, err)
	return plan
}

func TestPlanningService_BuildPlan(t *testing.T) {
	h := newHarness(t)
	plan := loadAndPlan(t, h)

	require.Len(t, plan.Stages, 3)
	assert.Equal(t, []string{"schema"}, plan.Stages[0].TaskIDs)
	assert.Equal(t, []string{"api"}, plan.Stages[1].TaskIDs)
	assert.Equal(t, []string{"ui"}, plan.Stages[2].TaskIDs)
	assert.Equal(t, []string{"canary"}, plan.Excluded)

	current, ok := h.svc.CurrentPlan()
	require.True(t, ok)
	assert.Equal(t, plan.ID, current.ID)
}

func TestPlanningService_ApprovalGatesExecution(t *testing.T) {
	h := newHarness(t)
	loadAndPlan(t, h)
	ctx := context.Background()

	requests, err := h.svc.RequestApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "schema", requests[0].TaskID())

	err = h.svc.StartTask(ctx, "schema")
	require.ErrorIs(t, err, ErrExecutionNotApproved)

	_, err = h.gate.Decide(ctx, requests[0].ID, approval.Decision{Action: approval.ActionApprove, Actor: "alice"})
	require.NoError(t, err)
	require.NoError(t, h.svc.StartTask(ctx, "schema"))
	require.NoError(t, h.svc.CompleteTask(ctx, "schema", "migrated"))

	pending := h.gate.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "api", pending[0].TaskID())

	entries, err := h.audit.List(ctx, port.AuditFilter{TaskID: "schema"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Outcome)
	assert.True(t, entries[0].Outcome.Success)

	assert.Contains(t, h.statuses, "schema:EXECUTING")
	assert.Contains(t, h.statuses, "schema:COMPLETED")
	assert.Contains(t, h.statuses, "api:READY")

	err = h.svc.StartTask(ctx, "canary")
	assert.ErrorIs(t, err, ErrNotInPlan)
}

func TestPlanningService_FailTaskRecordsOutcome(t *testing.T) {
	h := newHarness(t)
	loadAndPlan(t, h)
	ctx := context.Background()

	requests, err := h.svc.RequestApprovals(ctx)
	require.NoError(t, err)
	_, err = h.gate.Decide(ctx, requests[0].ID, approval.Decision{Action: approval.ActionApprove, Actor: "alice"})
	require.NoError(t, err)
	require.NoError(t, h.svc.StartTask(ctx, "schema"))
	require.NoError(t, h.svc.FailTask(ctx, "schema", "lock timeout"))

	entries, err := h.audit.List(ctx, port.AuditFilter{TaskID: "schema"})
	require.NoError(t, err)
	require.NotNil(t, entries[0].Outcome)
	assert.False(t, entries[0].Outcome.Success)
	assert.Equal(t, "lock timeout", entries[0].Outcome.Error)

	api, _ := h.engine.Task("api")
	assert.Equal(t, entity.TaskWaitingDependencies, api.Status)
	assert.Empty(t, h.gate.Pending())
}

func TestPlanningService_VetoedPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	live := task("deploy")
	live.Mode.Allowed = []entity.ExecutionMode{entity.ModeLive}
	dry := task("verify", "deploy")
	dry.Mode.Allowed = []entity.ExecutionMode{entity.ModeDryRun}

	analysis, err := h.svc.LoadTasks(ctx, []*entity.Task{live, dry})
	require.NoError(t, err)
	assert.False(t, analysis.Report.Feasible)

	_, err = h.svc.BuildPlan(ctx, nil)
	assert.ErrorIs(t, err, ErrPlanVetoed)

	_, err = h.svc.RequestApprovals(ctx)
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestPlanningService_LoadRejectsCycle(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.LoadTasks(context.Background(), []*entity.Task{task("a", "b"), task("b", "a")})
	require.ErrorIs(t, err, graph.ErrCycle)
	assert.Equal(t, 0, h.engine.Len())
}

func TestPlanningService_AddBranchUnknownTask(t *testing.T) {
	h := newHarness(t)
	err := h.svc.AddBranch(context.Background(), flow.Branch{
		ID:        "b",
		Condition: flow.UserDecision("q"),
		TaskIDs:   []string{"ghost"},
	})
	assert.ErrorIs(t, err, graph.ErrUnknownTask)
}

func TestPlanningService_WaitAndSignal(t *testing.T) {
	h := newHarness(t)
	loadAndPlan(t, h)
	ctx := context.Background()

	require.NoError(t, h.svc.RegisterWait(ctx, "schema", "window-open", time.Hour))
	requests, err := h.svc.RequestApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, requests)

	require.NoError(t, h.svc.Signal(ctx, "schema", "window-open"))
	pending := h.gate.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "schema", pending[0].TaskID())
}

func TestPlanningService_SnapshotRoundTrip(t *testing.T) {
	h := newHarness(t)
	plan := loadAndPlan(t, h)
	ctx := context.Background()

	requests, err := h.svc.RequestApprovals(ctx)
	require.NoError(t, err)
	_, err = h.gate.Decide(ctx, requests[0].ID, approval.Decision{Action: approval.ActionApprove, Actor: "alice"})
	require.NoError(t, err)

	snap, err := h.svc.SaveSnapshot(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.TaskCount)
	assert.NotEmpty(t, snap.Payload)

	_, err = h.svc.LoadTasks(ctx, []*entity.Task{task("other")})
	require.NoError(t, err)
	_, ok := h.svc.CurrentPlan()
	assert.False(t, ok)

	require.NoError(t, h.svc.RestoreSnapshot(ctx, snap.ID))
	restored, ok := h.svc.CurrentPlan()
	require.True(t, ok)
	assert.Equal(t, plan.ID, restored.ID)
	assert.Equal(t, 4, h.engine.Len())
	assert.True(t, h.gate.CanExecuteTask("schema"))
	require.NoError(t, h.svc.StartTask(ctx, "schema"))

	assert.ErrorIs(t, h.svc.RestoreSnapshot(ctx, "missing"), port.ErrSnapshotNotFound)
}

func TestPlanningService_RestoreSnapshotKeepsStateOnBadGate(t *testing.T) {
	h := newHarness(t)
	plan := loadAndPlan(t, h)
	ctx := context.Background()

	h.repo.saved = map[string]*port.PlanSnapshot{
		"broken": {
			ID:      "broken",
			Name:    "broken",
			Payload: []byte(`{"graph":{"tasks":[{"id":"lonely","command":"run lonely"}]},"gate":{"requests":[{"id":""}]}}`),
		},
	}

	err := h.svc.RestoreSnapshot(ctx, "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, approval.ErrInvalidState)

	assert.Equal(t, 4, h.engine.Len())
	_, ok := h.engine.Task("lonely")
	assert.False(t, ok)
	_, ok = h.engine.Task("schema")
	assert.True(t, ok)
	current, ok := h.svc.CurrentPlan()
	require.True(t, ok)
	assert.Equal(t, plan.ID, current.ID)
}
