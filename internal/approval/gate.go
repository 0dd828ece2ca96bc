package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/application/dispatcher"
	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/event"
	"github.com/garyjia/execution-gate/internal/domain/workflow"
)

// expiryActor is recorded as the actor of audit entries written on expiry.
const expiryActor = "approval-gate"

// TaskSource is the read view of the task graph the gate needs.
type TaskSource interface {
	Task(id string) (*entity.Task, bool)
}

// RiskAdvisor supplies the remediation context captured in a snapshot.
type RiskAdvisor interface {
	RollbackPlan(id string) (*entity.RollbackPlan, error)
	Cascade(id string) ([]dimension.CascadeHop, error)
}

// Action is what a human decided about a request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionModify  Action = "modify"
)

// Decision is one human answer to an approval request.
type Decision struct {
	Action   Action `json:"action"`
	Actor    string `json:"actor"`
	Reason   string `json:"reason,omitempty"`
	Command  string `json:"command,omitempty"`
	Override bool   `json:"override,omitempty"`
}

func (d Decision) transition() (workflow.Trigger, entity.AuditDecision, error) {
	switch d.Action {
	case ActionApprove:
		return workflow.TriggerApprove, entity.DecisionApproved, nil
	case ActionReject:
		return workflow.TriggerReject, entity.DecisionRejected, nil
	case ActionModify:
		if strings.TrimSpace(d.Command) == "" {
			return "", "", ErrMissingCommand
		}
		return workflow.TriggerModify, entity.DecisionModified, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAction, d.Action)
	}
}

// Config holds the tunable gate policy.
type Config struct {
	ExpiryWindow       time.Duration
	AutomatedActors    []string
	BatchRiskThreshold float64
	CriticalRiskScore  float64
}

// DefaultConfig returns the gate policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ExpiryWindow:       time.Hour,
		AutomatedActors:    []string{"system", "automated", "auto", "bot", "agent", "assistant", "ai", "scheduler"},
		BatchRiskThreshold: 70,
		CriticalRiskScore:  80,
	}
}

// Gate refuses to let any task run until a human approval is recorded for it.
type Gate struct {
	mu sync.RWMutex

	source     TaskSource
	advisor    RiskAdvisor
	sink       port.AuditRepository
	dispatcher dispatcher.Dispatcher
	lifecycle  *workflow.Lifecycle
	cfg        Config
	automated  map[string]bool
	now        func() time.Time
	logger     *zap.Logger

	requests      map[string]*entity.ApprovalRequest
	order         []string
	pendingByTask map[string]string
	latestByTask  map[string]string
	approvalEntry map[string]string
	expiry        expiryQueue

	violations []entity.SafetyViolation
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithConfig replaces the whole policy.
func WithConfig(cfg Config) Option {
	return func(g *Gate) { g.cfg = cfg }
}

// WithExpiryWindow sets how long a request stays decidable.
func WithExpiryWindow(d time.Duration) Option {
	return func(g *Gate) { g.cfg.ExpiryWindow = d }
}

// WithAutomatedActors sets the reserved identities that may never decide.
func WithAutomatedActors(actors ...string) Option {
	return func(g *Gate) { g.cfg.AutomatedActors = actors }
}

// WithBatchThresholds sets the mean-risk ceiling and the per-member critical score for batches.
func WithBatchThresholds(meanRisk, criticalScore float64) Option {
	return func(g *Gate) {
		g.cfg.BatchRiskThreshold = meanRisk
		g.cfg.CriticalRiskScore = criticalScore
	}
}

// WithDispatcher publishes gate events through d.
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(g *Gate) { g.dispatcher = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithRiskAdvisor sets the advisor used for rollback and cascade context.
// By default the task source is used when it implements RiskAdvisor.
func WithRiskAdvisor(a RiskAdvisor) Option {
	return func(g *Gate) { g.advisor = a }
}

// NewGate creates a gate reading tasks from source and writing decisions to sink.
// A nil sink gets an in-memory audit log.
func NewGate(source TaskSource, sink port.AuditRepository, opts ...Option) *Gate {
	if sink == nil {
		sink = NewMemoryAuditLog(DefaultAuditRetention)
	}
	g := &Gate{
		source:        source,
		sink:          sink,
		lifecycle:     workflow.ApprovalLifecycle(),
		cfg:           DefaultConfig(),
		now:           time.Now,
		logger:        zap.NewNop(),
		requests:      make(map[string]*entity.ApprovalRequest),
		pendingByTask: make(map[string]string),
		latestByTask:  make(map[string]string),
		approvalEntry: make(map[string]string),
	}
	if adv, ok := source.(RiskAdvisor); ok {
		g.advisor = adv
	}
	for _, opt := range opts {
		opt(g)
	}

	defaults := DefaultConfig()
	if g.cfg.ExpiryWindow <= 0 {
		g.cfg.ExpiryWindow = defaults.ExpiryWindow
	}
	if g.cfg.BatchRiskThreshold <= 0 {
		g.cfg.BatchRiskThreshold = defaults.BatchRiskThreshold
	}
	if g.cfg.CriticalRiskScore <= 0 {
		g.cfg.CriticalRiskScore = defaults.CriticalRiskScore
	}
	g.automated = make(map[string]bool, len(g.cfg.AutomatedActors))
	for _, a := range g.cfg.AutomatedActors {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			g.automated[a] = true
		}
	}
	return g
}

// Config returns the effective policy.
func (g *Gate) Config() Config {
	return g.cfg
}

// IsAutomatedActor reports whether actor is a reserved automated identity.
// Matching ignores case and surrounding whitespace. Accepted forms are the bare
// identity ("bot") and the identity followed by ':' or '/' and any suffix
// ("system:cron", "agent/planner"). Other prefixes such as "bot-" or "bot."
// do not match.
func (g *Gate) IsAutomatedActor(actor string) bool {
	a := strings.ToLower(strings.TrimSpace(actor))
	if g.automated[a] {
		return true
	}
	if i := strings.IndexAny(a, ":/"); i > 0 {
		return g.automated[a[:i]]
	}
	return false
}

// CreateRequest opens an approval request for a task. While the task already
// has a pending or a still-valid approved request, that request is returned.
func (g *Gate) CreateRequest(ctx context.Context, taskID string) (*entity.ApprovalRequest, error) {
	task, ok := g.source.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	snapshot := g.snapshot(task)

	req, events, err := g.create(ctx, task.ID, snapshot)
	g.publish(ctx, events)
	return req, err
}

func (g *Gate) create(ctx context.Context, taskID string, snapshot entity.RiskSnapshot) (*entity.ApprovalRequest, []*event.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var events []*event.Event

	if id, ok := g.latestByTask[taskID]; ok {
		existing := g.requests[id]
		if existing.Status == entity.ApprovalApproved && now.Before(existing.ExpiresAt) {
			return existing.Clone(), nil, nil
		}
	}
	if id, ok := g.pendingByTask[taskID]; ok {
		existing := g.requests[id]
		if now.Before(existing.ExpiresAt) {
			return existing.Clone(), nil, nil
		}
		evt, err := g.expireLocked(ctx, existing, now)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, evt)
	}

	req := &entity.ApprovalRequest{
		ID:        uuid.NewString(),
		TaskIDs:   []string{taskID},
		CreatedAt: now,
		ExpiresAt: now.Add(g.cfg.ExpiryWindow),
		Snapshot:  snapshot,
		Status:    entity.ApprovalPending,
	}
	g.requests[req.ID] = req
	g.order = append(g.order, req.ID)
	g.pendingByTask[taskID] = req.ID
	g.latestByTask[taskID] = req.ID
	g.expiry.schedule(req.ID, req.ExpiresAt)

	g.logger.Info("Approval request created",
		zap.String("request_id", req.ID),
		zap.String("task_id", taskID),
		zap.Float64("risk_score", snapshot.RiskScore),
		zap.String("risk_zone", string(snapshot.RiskZone)),
		zap.Time("expires_at", req.ExpiresAt))

	events = append(events, event.NewEvent(event.TypeApprovalRequested, req.ID, taskID, map[string]interface{}{
		"risk_score":               snapshot.RiskScore,
		"risk_zone":                string(snapshot.RiskZone),
		"manual_override_required": snapshot.ManualOverrideRequired,
		"expires_at":               req.ExpiresAt,
	}))
	return req.Clone(), events, nil
}

// Decide records a human decision on a pending request.
func (g *Gate) Decide(ctx context.Context, requestID string, d Decision) (*entity.ApprovalRequest, error) {
	req, events, err := g.decide(ctx, requestID, d)
	g.publish(ctx, events)
	return req, err
}

func (g *Gate) decide(ctx context.Context, requestID string, d Decision) (*entity.ApprovalRequest, []*event.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[requestID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	actor := strings.TrimSpace(d.Actor)
	if actor == "" {
		return nil, nil, ErrMissingActor
	}
	now := g.now()

	if g.IsAutomatedActor(actor) {
		evt, err := g.denyLocked(ctx, req, actor, entity.ViolationAutomatedApproval,
			fmt.Sprintf("automated actor %q may not decide approval requests", actor), now)
		if err != nil {
			return nil, nil, err
		}
		return req.Clone(), []*event.Event{evt}, fmt.Errorf("%w: actor %q is automated", ErrSafetyViolation, actor)
	}

	if req.Status.IsDecided() {
		return req.Clone(), nil, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, req.ID, req.Status)
	}

	if !now.Before(req.ExpiresAt) {
		evt, err := g.expireLocked(ctx, req, now)
		if err != nil {
			return nil, nil, err
		}
		return req.Clone(), []*event.Event{evt}, fmt.Errorf("%w: %s at %s", ErrRequestExpired, req.ID, req.ExpiresAt.Format(time.RFC3339))
	}

	trigger, decision, err := d.transition()
	if err != nil {
		return nil, nil, err
	}

	if d.Action == ActionApprove && req.Snapshot.ManualOverrideRequired && !d.Override {
		evt, err := g.denyLocked(ctx, req, actor, entity.ViolationMissingOverride,
			fmt.Sprintf("task %s requires a manual override to approve", req.TaskID()), now)
		if err != nil {
			return nil, nil, err
		}
		return req.Clone(), []*event.Event{evt}, fmt.Errorf("%w: %w", ErrSafetyViolation, ErrOverrideRequired)
	}

	next, err := g.lifecycle.Next(ctx, workflow.State(req.Status), trigger)
	if err != nil {
		return nil, nil, err
	}

	entry := g.entryFor(req, decision, actor, d.Reason, now)
	if err := g.sink.Append(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("append audit entry: %w", err)
	}

	g.applyLocked(req, entity.ApprovalStatus(next), actor, d.Reason, now)
	if d.Action == ActionModify {
		req.ReplacementCommand = d.Command
	}
	if req.Status == entity.ApprovalApproved {
		g.approvalEntry[req.ID] = entry.ID
	}

	g.logger.Info("Approval request decided",
		zap.String("request_id", req.ID),
		zap.String("task_id", req.TaskID()),
		zap.String("status", string(req.Status)),
		zap.String("actor", actor),
		zap.Bool("override", d.Override))

	evt := event.NewEvent(event.TypeApprovalDecided, req.ID, req.TaskID(), map[string]interface{}{
		"action": string(d.Action),
		"actor":  actor,
		"status": string(req.Status),
		"reason": d.Reason,
	})
	return req.Clone(), []*event.Event{evt}, nil
}

// Cancel rejects a pending request immediately. Cancellation is open to any
// actor, including the orchestrator, since it can only stop execution.
func (g *Gate) Cancel(ctx context.Context, requestID, actor, reason string) (*entity.ApprovalRequest, error) {
	req, events, err := g.terminate(ctx, requestID, actor, reason, workflow.TriggerCancel, entity.DecisionCancelled)
	g.publish(ctx, events)
	return req, err
}

// Revoke withdraws an approval. A task the executor already started is not stopped.
func (g *Gate) Revoke(ctx context.Context, requestID, actor, reason string) (*entity.ApprovalRequest, error) {
	req, events, err := g.terminate(ctx, requestID, actor, reason, workflow.TriggerRevoke, entity.DecisionRevoked)
	g.publish(ctx, events)
	return req, err
}

func (g *Gate) terminate(ctx context.Context, requestID, actor, reason string, trigger workflow.Trigger, decision entity.AuditDecision) (*entity.ApprovalRequest, []*event.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[requestID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, nil, ErrMissingActor
	}
	now := g.now()

	if req.Status == entity.ApprovalPending && !now.Before(req.ExpiresAt) {
		evt, err := g.expireLocked(ctx, req, now)
		if err != nil {
			return nil, nil, err
		}
		return req.Clone(), []*event.Event{evt}, fmt.Errorf("%w: %s", ErrRequestExpired, req.ID)
	}

	next, err := g.lifecycle.Next(ctx, workflow.State(req.Status), trigger)
	if err != nil {
		if trigger == workflow.TriggerRevoke && req.Status != entity.ApprovalApproved {
			return req.Clone(), nil, fmt.Errorf("%w: %s is %s", ErrNotApproved, req.ID, req.Status)
		}
		return req.Clone(), nil, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, req.ID, req.Status)
	}

	entry := g.entryFor(req, decision, actor, reason, now)
	if err := g.sink.Append(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("append audit entry: %w", err)
	}
	g.applyLocked(req, entity.ApprovalStatus(next), actor, reason, now)

	g.logger.Info("Approval request closed",
		zap.String("request_id", req.ID),
		zap.String("task_id", req.TaskID()),
		zap.String("decision", string(decision)),
		zap.String("actor", actor))

	eventType := event.TypeApprovalDecided
	if trigger == workflow.TriggerRevoke {
		eventType = event.TypeApprovalRevoked
	}
	evt := event.NewEvent(eventType, req.ID, req.TaskID(), map[string]interface{}{
		"actor":  actor,
		"status": string(req.Status),
		"reason": reason,
	})
	return req.Clone(), []*event.Event{evt}, nil
}

// CanExecute reports whether the request is approved and not yet past its
// expiry. It is recomputed from the clock on every call.
func (g *Gate) CanExecute(requestID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	req, ok := g.requests[requestID]
	return ok && g.executableLocked(req)
}

// CanExecuteTask reports whether the latest request of a task allows execution.
func (g *Gate) CanExecuteTask(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.latestByTask[taskID]
	return ok && g.executableLocked(g.requests[id])
}

func (g *Gate) executableLocked(req *entity.ApprovalRequest) bool {
	return req.Status == entity.ApprovalApproved && g.now().Before(req.ExpiresAt)
}

// SweepExpired expires every pending request whose deadline is at or before now
// and returns their ids. Requests whose audit write fails stay queued.
func (g *Gate) SweepExpired(ctx context.Context, now time.Time) []string {
	expired, events := g.sweep(ctx, now)
	g.publish(ctx, events)
	return expired
}

func (g *Gate) sweep(ctx context.Context, now time.Time) ([]string, []*event.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var (
		expired []string
		events  []*event.Event
		retry   []string
	)
	for _, id := range g.expiry.due(now) {
		req, ok := g.requests[id]
		if !ok || req.Status != entity.ApprovalPending {
			continue
		}
		evt, err := g.expireLocked(ctx, req, now)
		if err != nil {
			g.logger.Error("Failed to expire approval request",
				zap.String("request_id", id),
				zap.Error(err))
			retry = append(retry, id)
			continue
		}
		expired = append(expired, id)
		events = append(events, evt)
	}
	for _, id := range retry {
		g.expiry.schedule(id, g.requests[id].ExpiresAt)
	}
	return expired, events
}

// NextExpiry returns the earliest scheduled deadline.
func (g *Gate) NextExpiry() (time.Time, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.expiry.next()
}

// RecordOutcome attaches the executor's report to the approval audit entry.
func (g *Gate) RecordOutcome(ctx context.Context, requestID string, outcome entity.ExecutionOutcome) error {
	g.mu.RLock()
	_, known := g.requests[requestID]
	entryID, approved := g.approvalEntry[requestID]
	g.mu.RUnlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if !approved {
		return fmt.Errorf("%w: %s", ErrNotApproved, requestID)
	}
	if err := g.sink.AttachOutcome(ctx, entryID, outcome); err != nil {
		return fmt.Errorf("attach outcome to %s: %w", requestID, err)
	}

	g.logger.Info("Execution outcome recorded",
		zap.String("request_id", requestID),
		zap.Bool("success", outcome.Success))
	return nil
}

// Request returns a copy of one request.
func (g *Gate) Request(id string) (*entity.ApprovalRequest, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	req, ok := g.requests[id]
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// RequestForTask returns the latest request opened for a task.
func (g *Gate) RequestForTask(taskID string) (*entity.ApprovalRequest, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.latestByTask[taskID]
	if !ok {
		return nil, false
	}
	return g.requests[id].Clone(), true
}

// Requests returns every request in creation order.
func (g *Gate) Requests() []*entity.ApprovalRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*entity.ApprovalRequest, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.requests[id].Clone())
	}
	return out
}

// Pending returns the requests still awaiting a decision, oldest first.
func (g *Gate) Pending() []*entity.ApprovalRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*entity.ApprovalRequest
	for _, id := range g.order {
		if req := g.requests[id]; req.Status == entity.ApprovalPending {
			out = append(out, req.Clone())
		}
	}
	return out
}

// Violations returns every recorded safety violation.
func (g *Gate) Violations() []entity.SafetyViolation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]entity.SafetyViolation(nil), g.violations...)
}

// ViolationCount returns the number of safety violations so far.
func (g *Gate) ViolationCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.violations)
}

// Audit queries the audit sink.
func (g *Gate) Audit(ctx context.Context, filter port.AuditFilter) ([]*entity.AuditEntry, error) {
	return g.sink.List(ctx, filter)
}

// AuditStats aggregates the entries matching filter.
func (g *Gate) AuditStats(ctx context.Context, filter port.AuditFilter) (AuditStats, error) {
	entries, err := g.sink.List(ctx, filter)
	if err != nil {
		return AuditStats{}, err
	}
	return ComputeAuditStats(entries), nil
}

// expireLocked moves a pending request to EXPIRED and writes its audit entry.
func (g *Gate) expireLocked(ctx context.Context, req *entity.ApprovalRequest, now time.Time) (*event.Event, error) {
	next, err := g.lifecycle.Next(ctx, workflow.State(req.Status), workflow.TriggerExpire)
	if err != nil {
		return nil, err
	}
	reason := "approval window elapsed"
	entry := g.entryFor(req, entity.DecisionExpired, expiryActor, reason, now)
	if err := g.sink.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	g.applyLocked(req, entity.ApprovalStatus(next), expiryActor, reason, now)

	g.logger.Info("Approval request expired",
		zap.String("request_id", req.ID),
		zap.String("task_id", req.TaskID()),
		zap.Time("expires_at", req.ExpiresAt))

	return event.NewEvent(event.TypeApprovalExpired, req.ID, req.TaskID(), map[string]interface{}{
		"expires_at": req.ExpiresAt,
	}), nil
}

// denyLocked records a safety violation. The request keeps its status.
func (g *Gate) denyLocked(ctx context.Context, req *entity.ApprovalRequest, actor, kind, detail string, now time.Time) (*event.Event, error) {
	v := entity.SafetyViolation{
		RequestID:  req.ID,
		TaskID:     req.TaskID(),
		Actor:      actor,
		Kind:       kind,
		Detail:     detail,
		OccurredAt: now,
	}
	g.violations = append(g.violations, v)

	g.logger.Warn("Safety violation rejected",
		zap.String("request_id", req.ID),
		zap.String("task_id", v.TaskID),
		zap.String("actor", actor),
		zap.String("kind", kind))

	entry := g.entryFor(req, entity.DecisionDenied, actor, entity.SafetyViolationMarker+": "+detail, now)
	if err := g.sink.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	return event.NewEvent(event.TypeSafetyViolation, req.ID, v.TaskID, map[string]interface{}{
		"actor":  actor,
		"kind":   kind,
		"detail": detail,
	}), nil
}

func (g *Gate) applyLocked(req *entity.ApprovalRequest, status entity.ApprovalStatus, actor, reason string, now time.Time) {
	req.Status = status
	req.DecidedBy = actor
	req.Reason = reason
	ts := now
	req.DecidedAt = &ts
	for _, taskID := range req.TaskIDs {
		if g.pendingByTask[taskID] == req.ID {
			delete(g.pendingByTask, taskID)
		}
	}
}

func (g *Gate) entryFor(req *entity.ApprovalRequest, decision entity.AuditDecision, actor, reason string, now time.Time) *entity.AuditEntry {
	return &entity.AuditEntry{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		TaskID:       req.TaskID(),
		Command:      req.Snapshot.Command,
		Decision:     decision,
		Actor:        actor,
		Reason:       reason,
		RiskZone:     req.Snapshot.RiskZone,
		RiskScore:    req.Snapshot.RiskScore,
		Confidence:   req.Snapshot.Confidence,
		WarningCount: len(req.Snapshot.Warnings),
		RequestedAt:  req.CreatedAt,
		DecidedAt:    now,
	}
}

// snapshot captures the risk and safety context shown to the approver.
func (g *Gate) snapshot(t *entity.Task) entity.RiskSnapshot {
	s := entity.RiskSnapshot{
		Command:                t.Command,
		RiskScore:              t.Impact.Risk(),
		RiskLevel:              t.Safety.RiskLevel,
		RiskZone:               entity.ZoneForScore(t.Impact.Risk()),
		Confidence:             t.Safety.Confidence(),
		ManualOverrideRequired: t.Safety.ManualOverrideRequired,
		ConfirmationRequired:   t.Safety.ConfirmationRequired,
	}
	if len(t.Conflicts) > 0 {
		s.Conflicts = append([]entity.TaskConflict(nil), t.Conflicts...)
	}

	for _, c := range t.Safety.FailedChecks() {
		if c.FailureReason != "" {
			s.Warnings = append(s.Warnings, fmt.Sprintf("safety check %s failed: %s", c.Name, c.FailureReason))
		} else {
			s.Warnings = append(s.Warnings, fmt.Sprintf("safety check %s failed", c.Name))
		}
	}
	for _, c := range t.Conflicts {
		if c.Blocking {
			s.Warnings = append(s.Warnings, fmt.Sprintf("blocking %s conflict with %s", c.Dimension, strings.Join(c.With, ", ")))
		}
	}
	if !t.Impact.Reversible {
		s.Warnings = append(s.Warnings, "change is not reversible")
	}
	if t.Status != entity.TaskReady {
		s.Warnings = append(s.Warnings, fmt.Sprintf("task is %s, not READY", t.Status))
	}

	if g.advisor != nil {
		if plan, err := g.advisor.RollbackPlan(t.ID); err != nil {
			g.logger.Warn("Rollback plan unavailable", zap.String("task_id", t.ID), zap.Error(err))
		} else {
			s.Rollback = plan
		}
		if hops, err := g.advisor.Cascade(t.ID); err != nil {
			g.logger.Warn("Cascade walk unavailable", zap.String("task_id", t.ID), zap.Error(err))
		} else {
			for _, hop := range hops {
				s.Cascade = append(s.Cascade, hop.TaskID)
			}
			sort.Strings(s.Cascade)
		}
	}

	if s.Rollback != nil && s.Rollback.RequiresBackup {
		s.Recommendations = append(s.Recommendations, "take a backup before execution")
	}
	if s.RiskZone == entity.ZoneRed {
		s.Recommendations = append(s.Recommendations, "review the rollback plan before approving")
	}
	if len(s.Cascade) > 0 {
		s.Recommendations = append(s.Recommendations, fmt.Sprintf("re-verify %d cascaded task(s) after execution", len(s.Cascade)))
	}
	if t.Mode.AllowsMode(entity.ModeLive) && t.Mode.AllowsMode(entity.ModeDryRun) {
		s.Recommendations = append(s.Recommendations, "run as dry-run before going live")
	}
	if s.ManualOverrideRequired {
		s.Recommendations = append(s.Recommendations, "approval requires an explicit manual override")
	}
	return s
}

// publish runs without the gate lock held.
func (g *Gate) publish(ctx context.Context, events []*event.Event) {
	if g.dispatcher == nil {
		return
	}
	for _, evt := range events {
		if err := g.dispatcher.Dispatch(ctx, evt); err != nil {
			g.logger.Error("Failed to publish gate event",
				zap.String("event_type", evt.Type.String()),
				zap.String("request_id", evt.RequestID),
				zap.Error(err))
		}
	}
}
