// Package graph owns the task dependency graph of one plan.
package graph

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/pathing"
)

// Engine is the single-writer store of one plan. Every method is safe for
// concurrent use; reads share the lock, mutations hold it exclusively.
// Callers only ever receive clones of the stored tasks.
type Engine struct {
	mu sync.RWMutex

	tasks    map[string]*entity.Task
	edges    int
	critical CriticalPath
	scores   map[string]float64
	report   *pathing.Report

	layers  *dimension.Set
	pathing *pathing.Engine
	cfg     dimension.Config
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the clock used for lifecycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLayerConfig sets the dimension layer configuration.
func WithLayerConfig(cfg dimension.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// NewEngine creates an empty graph.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		tasks:  make(map[string]*entity.Task),
		scores: make(map[string]float64),
		cfg:    dimension.DefaultConfig(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.layers = dimension.NewSet(e.cfg, e.now)
	e.pathing = pathing.NewEngine(e.layers)
	return e
}

// Layers exposes the dimension layers for read-only classification.
func (e *Engine) Layers() *dimension.Set {
	return e.layers
}

// AddTask inserts a task. Authored edge lists are ignored; edges are added
// with AddDependency.
func (e *Engine) AddTask(t *entity.Task) error {
	if t == nil || t.ID == "" {
		return graphErrorf(ErrInvalidTask, "task id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tasks[t.ID]; exists {
		return graphErrorf(ErrDuplicateTask, "%s", t.ID)
	}

	stored := t.Clone()
	stored.Temporal.Dependencies = nil
	stored.Temporal.Dependents = nil
	stored.Conflicts = nil
	stored.Status = entity.TaskScheduled
	e.layers.Impact.Annotate(stored)
	e.tasks[stored.ID] = stored

	e.layers.Time.Recompute(e.tasks, stored.ID)
	e.refreshLocked()

	e.logger.Debug("Task added", zap.String("task_id", stored.ID), zap.String("status", string(stored.Status)))
	return nil
}

// Load adds every task and then every authored dependency. It stops at the
// first rejected operation; operations before it stay applied.
func (e *Engine) Load(tasks []*entity.Task) error {
	for _, t := range tasks {
		if err := e.AddTask(t); err != nil {
			return err
		}
	}
	for _, t := range tasks {
		for _, dep := range t.Temporal.Dependencies {
			if err := e.AddDependency(t.ID, dep); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddDependency records that from depends on to. It is rejected without any
// mutation when either task is unknown or when to is already reachable from
// from through dependent edges, which would close a cycle.
func (e *Engine) AddDependency(from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.tasks[from]
	if !ok {
		return graphErrorf(ErrUnknownTask, "%s", from)
	}
	dst, ok := e.tasks[to]
	if !ok {
		return graphErrorf(ErrUnknownTask, "%s", to)
	}
	if from == to {
		return cycleError([]string{from, from})
	}
	if src.HasDependency(to) {
		return nil
	}
	if path := e.pathLocked(from, to); path != nil {
		e.logger.Warn("Dependency rejected",
			zap.String("from", from),
			zap.String("to", to),
			zap.Strings("cycle", path))
		return cycleError(append(path, from))
	}

	src.Temporal.Dependencies = insertSorted(src.Temporal.Dependencies, to)
	dst.Temporal.Dependents = insertSorted(dst.Temporal.Dependents, from)
	e.edges++

	e.layers.Time.Recompute(e.tasks, from)
	e.refreshLocked()
	return nil
}

// RemoveDependency deletes the edge from -> to.
func (e *Engine) RemoveDependency(from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.tasks[from]
	if !ok {
		return graphErrorf(ErrUnknownTask, "%s", from)
	}
	dst, ok := e.tasks[to]
	if !ok {
		return graphErrorf(ErrUnknownTask, "%s", to)
	}
	if !src.HasDependency(to) {
		return graphErrorf(ErrUnknownEdge, "%s -> %s", from, to)
	}

	src.Temporal.Dependencies = remove(src.Temporal.Dependencies, to)
	dst.Temporal.Dependents = remove(dst.Temporal.Dependents, from)
	e.edges--

	e.layers.Time.Recompute(e.tasks, from)
	e.refreshLocked()
	return nil
}

// RemoveTask deletes a task and every edge touching it. Former dependents are
// re-evaluated.
func (e *Engine) RemoveTask(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return graphErrorf(ErrUnknownTask, "%s", id)
	}
	for _, dep := range t.Temporal.Dependencies {
		if d, ok := e.tasks[dep]; ok {
			d.Temporal.Dependents = remove(d.Temporal.Dependents, id)
			e.edges--
		}
	}
	dependents := append([]string(nil), t.Temporal.Dependents...)
	for _, dep := range dependents {
		if d, ok := e.tasks[dep]; ok {
			d.Temporal.Dependencies = remove(d.Temporal.Dependencies, id)
			e.edges--
		}
	}
	delete(e.tasks, id)
	e.layers.Time.Forget(id)

	for _, dep := range dependents {
		e.layers.Time.Recompute(e.tasks, dep)
	}
	e.refreshLocked()
	return nil
}

// Clear drops every task, edge and wait.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tasks = make(map[string]*entity.Task)
	e.edges = 0
	e.critical = CriticalPath{}
	e.scores = make(map[string]float64)
	e.report = nil
	e.layers.Time.Reset()
}

// Task returns a copy of the task.
func (e *Engine) Task(id string) (*entity.Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of every task, sorted by id.
func (e *Engine) Tasks() []*entity.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*entity.Task, 0, len(e.tasks))
	for _, id := range e.sortedIDsLocked() {
		out = append(out, e.tasks[id].Clone())
	}
	return out
}

// Len returns the number of tasks.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tasks)
}

// Annotate runs every layer and the pathing engine over the whole graph and
// stores the resulting conflicts on the tasks.
func (e *Engine) Annotate() *pathing.Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := e.pathing.Analyze(e.tasks, e.sortedIDsLocked())
	e.report = report
	e.normalizeLocked()

	e.logger.Info("Graph annotated",
		zap.Int("tasks", len(e.tasks)),
		zap.Int("conflicts", len(report.Conflicts)),
		zap.Float64("plan_risk", report.PlanRisk),
		zap.Bool("feasible", report.Feasible))
	return copyReport(report)
}

// Report returns the last annotation report, or nil before the first Annotate.
func (e *Engine) Report() *pathing.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyReport(e.report)
}

// Classify runs every layer over one task.
func (e *Engine) Classify(id string) ([]dimension.Classification, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tasks[id]
	if !ok {
		return nil, graphErrorf(ErrUnknownTask, "%s", id)
	}
	return e.layers.ClassifyAll(t), nil
}

// RollbackPlan derives the rollback plan of a task.
func (e *Engine) RollbackPlan(id string) (*entity.RollbackPlan, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tasks[id]
	if !ok {
		return nil, graphErrorf(ErrUnknownTask, "%s", id)
	}
	return e.layers.Impact.RollbackPlan(t), nil
}

// Cascade walks the cascade effects of a task.
func (e *Engine) Cascade(id string) ([]dimension.CascadeHop, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.tasks[id]; !ok {
		return nil, graphErrorf(ErrUnknownTask, "%s", id)
	}
	return e.layers.Impact.CascadeWalk(e.tasks, id), nil
}

// refreshLocked recomputes every derived field after a topology change.
func (e *Engine) refreshLocked() {
	e.closureLocked()
	e.critical = e.criticalPathLocked()
	e.normalizeLocked()
}

// pathLocked returns the dependent-edge path from -> ... -> to, or nil.
func (e *Engine) pathLocked(from, to string) []string {
	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			var path []string
			for n := to; n != ""; n = parent[n] {
				path = append(path, n)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}
		for _, next := range e.tasks[cur].Temporal.Dependents {
			if _, seen := parent[next]; !seen {
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}

func (e *Engine) sortedIDsLocked() []string {
	ids := make([]string, 0, len(e.tasks))
	for id := range e.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyReport(r *pathing.Report) *pathing.Report {
	if r == nil {
		return nil
	}
	c := *r
	c.Conflicts = make([]*entity.Conflict, len(r.Conflicts))
	for i, conflict := range r.Conflicts {
		cc := *conflict
		cc.TaskIDs = append([]string(nil), conflict.TaskIDs...)
		c.Conflicts[i] = &cc
	}
	c.TaskRisk = make(map[string]float64, len(r.TaskRisk))
	for k, v := range r.TaskRisk {
		c.TaskRisk[k] = v
	}
	c.Vetoes = append([]string(nil), r.Vetoes...)
	return &c
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
