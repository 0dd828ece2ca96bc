package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/execution-gate/internal/application/dispatcher"
	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/event"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
	"github.com/garyjia/execution-gate/internal/pathing"
)

var (
	// ErrPlanVetoed is returned when a critical conflict makes the plan infeasible
	ErrPlanVetoed = errors.New("plan vetoed by critical conflict")
	// ErrNoPlan is returned when an operation needs a built plan
	ErrNoPlan = errors.New("no execution plan built")
	// ErrExecutionNotApproved is returned when a task is started without a valid approval
	ErrExecutionNotApproved = errors.New("task has no valid approval")
	// ErrNotInPlan is returned for tasks the current plan excludes
	ErrNotInPlan = errors.New("task is not part of the current plan")
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// PlanAnalysis is the outcome of annotating the loaded tasks
type PlanAnalysis struct {
	Report     *pathing.Report  `json:"report"`
	Statistics graph.Statistics `json:"statistics"`
}

// PlanningService drives one plan from loaded tasks to approved execution
type PlanningService interface {
	LoadTasks(ctx context.Context, tasks []*entity.Task) (*PlanAnalysis, error)
	AddBranch(ctx context.Context, branch flow.Branch) error
	Analyze(ctx context.Context) (*PlanAnalysis, error)
	BuildPlan(ctx context.Context, decisions map[string]bool) (*flow.ExecutionPlan, error)
	CurrentPlan() (*flow.ExecutionPlan, bool)
	RequestApprovals(ctx context.Context) ([]*entity.ApprovalRequest, error)
	StartTask(ctx context.Context, taskID string) error
	CompleteTask(ctx context.Context, taskID, output string) error
	FailTask(ctx context.Context, taskID, reason string) error
	RegisterWait(ctx context.Context, taskID, token string, timeout time.Duration) error
	Signal(ctx context.Context, taskID, token string) error
	SaveSnapshot(ctx context.Context, name string) (*port.PlanSnapshot, error)
	RestoreSnapshot(ctx context.Context, id string) error
}

// planState is the payload stored in a plan snapshot
type planState struct {
	Graph graph.Snapshot      `json:"graph"`
	Gate  approval.State      `json:"gate"`
	Plan  *flow.ExecutionPlan `json:"plan,omitempty"`
}

type planningServiceImpl struct {
	mu sync.Mutex

	engine     *graph.Engine
	gate       *approval.Gate
	resolver   *flow.Resolver
	planner    *flow.Planner
	snapshots  port.SnapshotRepository
	dispatcher dispatcher.Dispatcher
	logger     Logger
	now        func() time.Time

	plan *flow.ExecutionPlan
}

// NewPlanningService creates a new PlanningService. snapshots and d may be nil.
func NewPlanningService(
	engine *graph.Engine,
	gate *approval.Gate,
	resolver *flow.Resolver,
	snapshots port.SnapshotRepository,
	d dispatcher.Dispatcher,
	logger Logger,
) PlanningService {
	return &planningServiceImpl{
		engine:     engine,
		gate:       gate,
		resolver:   resolver,
		planner:    flow.NewPlanner(engine, time.Now),
		snapshots:  snapshots,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
	}
}

// LoadTasks replaces the graph with tasks and annotates it. A rejected load
// leaves the graph empty.
func (s *planningServiceImpl) LoadTasks(ctx context.Context, tasks []*entity.Task) (*PlanAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.Clear()
	s.plan = nil
	if err := s.engine.Load(tasks); err != nil {
		s.engine.Clear()
		s.logger.Error("Failed to load tasks", "count", len(tasks), "error", err)
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	analysis := s.analyzeLocked()
	s.logger.Info("Tasks loaded",
		"count", len(tasks),
		"conflicts", len(analysis.Report.Conflicts),
		"plan_risk", analysis.Report.PlanRisk,
		"feasible", analysis.Report.Feasible,
	)
	return analysis, nil
}

// AddBranch registers a conditional branch for the next plan
func (s *planningServiceImpl) AddBranch(ctx context.Context, branch flow.Branch) error {
	for _, id := range branch.TaskIDs {
		if _, ok := s.engine.Task(id); !ok {
			return fmt.Errorf("branch %s: %w: %s", branch.ID, graph.ErrUnknownTask, id)
		}
	}
	if err := s.resolver.AddBranch(branch); err != nil {
		return err
	}
	s.logger.Info("Branch registered", "branch_id", branch.ID, "tasks", len(branch.TaskIDs))
	return nil
}

// Analyze re-annotates the current graph
func (s *planningServiceImpl) Analyze(ctx context.Context) (*PlanAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzeLocked(), nil
}

func (s *planningServiceImpl) analyzeLocked() *PlanAnalysis {
	report := s.engine.Annotate()
	return &PlanAnalysis{Report: report, Statistics: s.engine.Statistics()}
}

// BuildPlan resolves branches against decisions and orders the remaining
// tasks into stages. An infeasible graph is refused.
func (s *planningServiceImpl) BuildPlan(ctx context.Context, decisions map[string]bool) (*flow.ExecutionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := s.engine.Report()
	if report == nil {
		report = s.engine.Annotate()
	}
	if !report.Feasible {
		s.logger.Error("Plan vetoed", "vetoes", report.Vetoes)
		return nil, fmt.Errorf("%w: %v", ErrPlanVetoed, report.Vetoes)
	}

	layers, err := s.engine.BuildTopologicalLayers()
	if err != nil {
		return nil, fmt.Errorf("build layers: %w", err)
	}

	resolved := s.resolver.Resolve(flow.ContextFrom(s.engine, decisions))
	for _, b := range resolved {
		s.logger.Info("Branch resolved", "branch_id", b.ID, "state", b.State)
	}

	plan := s.planner.Plan(layers, s.resolver)
	s.plan = plan

	s.logger.Info("Execution plan built",
		"plan_id", plan.ID,
		"stages", len(plan.Stages),
		"excluded", len(plan.Excluded),
	)
	s.publish(ctx, event.NewEventWithCorrelation(event.TypePlanCreated, "", "", map[string]interface{}{
		"stages":   len(plan.Stages),
		"excluded": plan.Excluded,
	}, plan.ID))
	return clonePlan(plan), nil
}

// CurrentPlan returns the last built plan
func (s *planningServiceImpl) CurrentPlan() (*flow.ExecutionPlan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return nil, false
	}
	return clonePlan(s.plan), true
}

// RequestApprovals opens an approval request for every READY task of the plan
func (s *planningServiceImpl) RequestApprovals(ctx context.Context) ([]*entity.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan == nil {
		return nil, ErrNoPlan
	}
	return s.requestReadyLocked(ctx, s.plan.TaskIDs())
}

func (s *planningServiceImpl) requestReadyLocked(ctx context.Context, ids []string) ([]*entity.ApprovalRequest, error) {
	var out []*entity.ApprovalRequest
	for _, id := range ids {
		t, ok := s.engine.Task(id)
		if !ok || t.Status != entity.TaskReady {
			continue
		}
		req, err := s.gate.CreateRequest(ctx, id)
		if err != nil {
			return out, fmt.Errorf("request approval for %s: %w", id, err)
		}
		out = append(out, req)
	}
	return out, nil
}

// StartTask moves an approved READY task to EXECUTING
func (s *planningServiceImpl) StartTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.inPlanLocked(taskID); err != nil {
		return err
	}
	if !s.gate.CanExecuteTask(taskID) {
		return fmt.Errorf("%w: %s", ErrExecutionNotApproved, taskID)
	}
	change, err := s.engine.Start(taskID)
	if err != nil {
		return err
	}
	s.logger.Info("Task started", "task_id", taskID)
	s.publishChanges(ctx, change)
	return nil
}

// CompleteTask records success, unblocks dependents and requests their approvals
func (s *planningServiceImpl) CompleteTask(ctx context.Context, taskID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes, err := s.engine.Complete(taskID, output)
	if err != nil {
		return err
	}
	s.recordOutcomeLocked(ctx, taskID, true, "")
	s.logger.Info("Task completed", "task_id", taskID, "released", len(changes)-1)
	s.publishChanges(ctx, changes...)

	if s.plan != nil {
		var ready []string
		for _, c := range changes {
			if c.To == entity.TaskReady && s.plan.StageOf(c.TaskID) >= 0 {
				ready = append(ready, c.TaskID)
			}
		}
		if _, err := s.requestReadyLocked(ctx, ready); err != nil {
			return err
		}
	}
	return nil
}

// FailTask records failure; dependents stay blocked
func (s *planningServiceImpl) FailTask(ctx context.Context, taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	change, err := s.engine.Fail(taskID, reason)
	if err != nil {
		return err
	}
	s.recordOutcomeLocked(ctx, taskID, false, reason)
	s.logger.Error("Task failed", "task_id", taskID, "reason", reason)
	s.publishChanges(ctx, change)
	return nil
}

// RegisterWait parks a task until a matching signal arrives
func (s *planningServiceImpl) RegisterWait(ctx context.Context, taskID, token string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes, err := s.engine.RegisterWait(taskID, token, timeout)
	if err != nil {
		return err
	}
	s.publishChanges(ctx, changes...)
	return nil
}

// Signal delivers an external signal and requests approval if the task became READY
func (s *planningServiceImpl) Signal(ctx context.Context, taskID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes, err := s.engine.Signal(taskID, token)
	if err != nil {
		return err
	}
	s.publishChanges(ctx, changes...)

	if s.plan != nil && s.plan.StageOf(taskID) >= 0 {
		if _, err := s.requestReadyLocked(ctx, []string{taskID}); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores the graph, gate and plan state under name
func (s *planningServiceImpl) SaveSnapshot(ctx context.Context, name string) (*port.PlanSnapshot, error) {
	if s.snapshots == nil {
		return nil, fmt.Errorf("snapshot repository not configured")
	}
	s.mu.Lock()
	state := planState{Graph: s.engine.Export(), Gate: s.gate.Export(), Plan: clonePlan(s.plan)}
	s.mu.Unlock()

	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal plan state: %w", err)
	}
	snap := &port.PlanSnapshot{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		TaskCount: len(state.Graph.Tasks),
		CreatedAt: s.now(),
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		s.logger.Error("Failed to save snapshot", "name", name, "error", err)
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.Info("Snapshot saved", "snapshot_id", snap.ID, "name", name, "tasks", snap.TaskCount)
	return snap, nil
}

// RestoreSnapshot replaces graph, gate and plan with a stored snapshot.
// On failure the current graph, gate and plan are kept.
func (s *planningServiceImpl) RestoreSnapshot(ctx context.Context, id string) error {
	if s.snapshots == nil {
		return fmt.Errorf("snapshot repository not configured")
	}
	snap, err := s.snapshots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	var state planState
	if err := json.Unmarshal(snap.Payload, &state); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.engine.Export()
	if err := s.engine.Import(state.Graph); err != nil {
		return fmt.Errorf("restore graph: %w", err)
	}
	if err := s.gate.Import(state.Gate); err != nil {
		if rerr := s.engine.Import(prev); rerr != nil {
			s.logger.Error("Failed to roll back graph", "snapshot_id", id, "error", rerr)
		}
		s.engine.Annotate()
		return fmt.Errorf("restore gate: %w", err)
	}
	s.plan = state.Plan
	s.engine.Annotate()

	s.logger.Info("Snapshot restored", "snapshot_id", id, "tasks", snap.TaskCount)
	return nil
}

func (s *planningServiceImpl) inPlanLocked(taskID string) error {
	if s.plan == nil {
		return ErrNoPlan
	}
	if s.plan.StageOf(taskID) < 0 {
		return fmt.Errorf("%w: %s", ErrNotInPlan, taskID)
	}
	return nil
}

func (s *planningServiceImpl) recordOutcomeLocked(ctx context.Context, taskID string, success bool, errText string) {
	req, ok := s.gate.RequestForTask(taskID)
	if !ok {
		return
	}
	t, _ := s.engine.Task(taskID)
	outcome := entity.ExecutionOutcome{Success: success, Error: errText, CompletedAt: s.now()}
	if t != nil && t.Temporal.StartedAt != nil {
		outcome.StartedAt = *t.Temporal.StartedAt
	}
	if t != nil && t.Temporal.CompletedAt != nil {
		outcome.CompletedAt = *t.Temporal.CompletedAt
	}
	if err := s.gate.RecordOutcome(ctx, req.ID, outcome); err != nil {
		s.logger.Error("Failed to record execution outcome", "task_id", taskID, "request_id", req.ID, "error", err)
	}
}

func (s *planningServiceImpl) publishChanges(ctx context.Context, changes ...dimension.StatusChange) {
	for _, c := range changes {
		s.publish(ctx, event.NewEvent(event.TypeTaskStatusChanged, "", c.TaskID, map[string]interface{}{
			"from": string(c.From),
			"to":   string(c.To),
			"at":   c.At,
		}))
	}
}

func (s *planningServiceImpl) publish(ctx context.Context, evt *event.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, evt); err != nil {
		s.logger.Error("Failed to publish event", "event_type", evt.Type, "error", err)
	}
}

func clonePlan(p *flow.ExecutionPlan) *flow.ExecutionPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Excluded = append([]string(nil), p.Excluded...)
	c.Stages = make([]flow.Stage, len(p.Stages))
	for i, st := range p.Stages {
		c.Stages[i] = flow.Stage{Index: st.Index, TaskIDs: append([]string(nil), st.TaskIDs...)}
	}
	return &c
}
