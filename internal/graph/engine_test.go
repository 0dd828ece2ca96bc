package graph

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/workflow"
)

func newTask(id string, estimate time.Duration, deps ...string) *entity.Task {
	return &entity.Task{
		ID:      id,
		Name:    "task " + id,
		Command: "run " + id,
		Temporal: entity.TemporalDescriptor{
			Dependencies:      deps,
			EstimatedDuration: estimate,
		},
		Impact: entity.ImpactDescriptor{Reversible: true},
	}
}

// diamond builds A <- B, A <- C, {B, C} <- D.
func diamond(t *testing.T, b, c time.Duration) *Engine {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(WithLogger(logger))
	require.NoError(t, e.Load([]*entity.Task{
		newTask("A", 10*time.Minute),
		newTask("B", b, "A"),
		newTask("C", c, "A"),
		newTask("D", 10*time.Minute, "B", "C"),
	}))
	return e
}

func TestEngine_DiamondLayersAndCriticalPath(t *testing.T) {
	e := diamond(t, 20*time.Minute, 5*time.Minute)

	layers, err := e.BuildTopologicalLayers()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B", "C"}, {"D"}}, layers)

	cp := e.FindCriticalPath()
	assert.Equal(t, []string{"A", "B", "D"}, cp.TaskIDs)
	assert.Equal(t, 40*time.Minute, cp.Duration)

	swapped := diamond(t, 5*time.Minute, 30*time.Minute)
	cp = swapped.FindCriticalPath()
	assert.Equal(t, []string{"A", "C", "D"}, cp.TaskIDs)
	assert.Equal(t, 50*time.Minute, cp.Duration)
}

func TestEngine_CriticalPathTieBreak(t *testing.T) {
	e := diamond(t, 0, 0)
	assert.Equal(t, []string{"A", "B", "D"}, e.FindCriticalPath().TaskIDs)
}

func TestEngine_TransitiveClosure(t *testing.T) {
	e := diamond(t, time.Minute, time.Minute)
	e.BuildTransitiveClosure()

	d, ok := e.Task("D")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, d.Temporal.Ancestors)
	assert.Empty(t, d.Temporal.Descendants)
	assert.Equal(t, 2, d.Temporal.FanIn)
	assert.Equal(t, 2, d.Temporal.Depth)

	a, _ := e.Task("A")
	assert.Equal(t, []string{"B", "C", "D"}, a.Temporal.Descendants)
	assert.Equal(t, 2, a.Temporal.FanOut)
	assert.Equal(t, 0, a.Temporal.Depth)
	assert.Equal(t, []string{"B", "C"}, a.Temporal.Dependents)
}

func TestEngine_Priorities(t *testing.T) {
	e := diamond(t, 20*time.Minute, 5*time.Minute)

	scores := e.NormalizePriorities()
	assert.InDelta(t, 60.0, scores["A"], 0.001)
	assert.InDelta(t, 65.0, scores["B"], 0.001)
	assert.InDelta(t, 15.0, scores["C"], 0.001)
	assert.InDelta(t, 70.0, scores["D"], 0.001)

	tests := map[string]entity.Priority{
		"A": entity.PriorityHigh,
		"B": entity.PriorityHigh,
		"C": entity.PriorityLow,
		"D": entity.PriorityHigh,
	}
	for id, want := range tests {
		task, _ := e.Task(id)
		assert.Equal(t, want, task.Priority, id)
	}
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, entity.PriorityCritical, tierFor(80))
	assert.Equal(t, entity.PriorityHigh, tierFor(79.9))
	assert.Equal(t, entity.PriorityHigh, tierFor(50))
	assert.Equal(t, entity.PriorityMedium, tierFor(20))
	assert.Equal(t, entity.PriorityLow, tierFor(19.9))
}

func TestEngine_AddTaskValidation(t *testing.T) {
	e := NewEngine()

	require.NoError(t, e.AddTask(newTask("A", 0)))
	assert.ErrorIs(t, e.AddTask(newTask("A", 0)), ErrDuplicateTask)
	assert.ErrorIs(t, e.AddTask(&entity.Task{}), ErrInvalidTask)
	assert.ErrorIs(t, e.AddTask(nil), ErrInvalidTask)
	assert.Equal(t, 1, e.Len())
}

func TestEngine_AddDependencyRejections(t *testing.T) {
	e := diamond(t, time.Minute, time.Minute)
	before := e.Export()

	err := e.AddDependency("A", "D")
	require.ErrorIs(t, err, ErrCycle)
	var gerr *GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, []string{"A", "B", "D", "A"}, gerr.Path)

	assert.ErrorIs(t, e.AddDependency("A", "A"), ErrCycle)
	assert.ErrorIs(t, e.AddDependency("A", "ghost"), ErrUnknownTask)
	assert.ErrorIs(t, e.AddDependency("ghost", "A"), ErrUnknownTask)

	assert.Equal(t, before, e.Export())

	// Re-adding an existing edge is a no-op.
	require.NoError(t, e.AddDependency("B", "A"))
	assert.Equal(t, 4, e.Statistics().Edges)
}

func TestEngine_NoCyclesAfterRandomEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e := NewEngine()

	const n = 30
	for i := 0; i < n; i++ {
		require.NoError(t, e.AddTask(newTask(fmt.Sprintf("t%02d", i), time.Duration(rng.Intn(60))*time.Minute)))
	}

	var accepted, rejected int
	for i := 0; i < 300; i++ {
		from := fmt.Sprintf("t%02d", rng.Intn(n))
		to := fmt.Sprintf("t%02d", rng.Intn(n))
		if err := e.AddDependency(from, to); err != nil {
			assert.ErrorIs(t, err, ErrCycle)
			rejected++
			continue
		}
		accepted++
	}
	assert.Positive(t, accepted)
	assert.Positive(t, rejected)
	assert.Empty(t, e.DetectCycles())

	layers, err := e.BuildTopologicalLayers()
	require.NoError(t, err)

	layerOf := make(map[string]int)
	for i, layer := range layers {
		for _, id := range layer {
			_, dup := layerOf[id]
			require.False(t, dup, "task %s placed twice", id)
			layerOf[id] = i
		}
	}
	require.Len(t, layerOf, n)

	for _, task := range e.Tasks() {
		for _, dep := range task.Temporal.Dependencies {
			assert.Greater(t, layerOf[task.ID], layerOf[dep])
		}
		for _, dep := range task.Temporal.Dependents {
			depTask, _ := e.Task(dep)
			assert.True(t, depTask.HasDependency(task.ID), "dependents must mirror dependencies")
		}
	}
}

func TestEngine_RemoveOperations(t *testing.T) {
	e := diamond(t, time.Minute, time.Minute)

	assert.ErrorIs(t, e.RemoveDependency("A", "D"), ErrUnknownEdge)
	assert.ErrorIs(t, e.RemoveTask("ghost"), ErrUnknownTask)

	require.NoError(t, e.RemoveTask("C"))
	stats := e.Statistics()
	assert.Equal(t, 3, stats.Tasks)
	assert.Equal(t, 2, stats.Edges)

	d, _ := e.Task("D")
	assert.Equal(t, []string{"B"}, d.Temporal.Dependencies)
	a, _ := e.Task("A")
	assert.Equal(t, []string{"B"}, a.Temporal.Dependents)

	require.NoError(t, e.RemoveDependency("D", "B"))
	d, _ = e.Task("D")
	assert.Equal(t, entity.TaskReady, d.Status)

	e.Clear()
	assert.Zero(t, e.Len())
	assert.Empty(t, e.FindCriticalPath().TaskIDs)
}

func TestEngine_Lifecycle(t *testing.T) {
	e := diamond(t, time.Minute, time.Minute)

	status := func(id string) entity.TaskStatus {
		task, _ := e.Task(id)
		return task.Status
	}
	assert.Equal(t, entity.TaskReady, status("A"))
	assert.Equal(t, entity.TaskWaitingDependencies, status("B"))

	_, err := e.Start("B")
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = e.Start("A")
	require.NoError(t, err)
	changes, err := e.Complete("A", "ok")
	require.NoError(t, err)
	assert.Len(t, changes, 3)
	assert.Equal(t, entity.TaskReady, status("B"))
	assert.Equal(t, entity.TaskReady, status("C"))
	assert.Equal(t, entity.TaskWaitingDependencies, status("D"))

	_, err = e.Start("B")
	require.NoError(t, err)
	_, err = e.Fail("B", "timeout")
	require.NoError(t, err)

	_, err = e.Start("C")
	require.NoError(t, err)
	_, err = e.Complete("C", "")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskWaitingDependencies, status("D"))

	_, err = e.Complete("ghost", "")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestEngine_Waits(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(WithClock(func() time.Time { return now }))
	require.NoError(t, e.AddTask(newTask("A", 0)))

	changes, err := e.RegisterWait("A", "window-open", 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, entity.TaskWaitingSignal, changes[0].To)

	_, err = e.Signal("A", "nope")
	assert.ErrorIs(t, err, dimension.ErrSignalMismatch)

	assert.Len(t, e.ExpiredWaits(now.Add(11*time.Minute)), 1)

	changes, err = e.Signal("A", "window-open")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, entity.TaskReady, changes[0].To)
	assert.Empty(t, e.ExpiredWaits(now.Add(11*time.Minute)))
}

func TestEngine_ExportImportRoundTrip(t *testing.T) {
	e := diamond(t, 20*time.Minute, 5*time.Minute)
	_, err := e.Start("A")
	require.NoError(t, err)
	_, err = e.RegisterWait("B", "go", time.Hour)
	require.NoError(t, err)

	snap := e.Export()

	restored := NewEngine()
	require.NoError(t, restored.Import(snap))
	assert.Equal(t, snap, restored.Export())

	origLayers, _ := e.BuildTopologicalLayers()
	restoredLayers, _ := restored.BuildTopologicalLayers()
	assert.Equal(t, origLayers, restoredLayers)
	assert.Equal(t, e.FindCriticalPath(), restored.FindCriticalPath())
}

func TestEngine_ImportRejectsInvalidSnapshots(t *testing.T) {
	e := diamond(t, time.Minute, time.Minute)
	before := e.Export()

	cyclic := Snapshot{Tasks: []*entity.Task{newTask("X", 0, "Y"), newTask("Y", 0, "X")}}
	assert.ErrorIs(t, e.Import(cyclic), ErrCycle)

	dangling := Snapshot{Tasks: []*entity.Task{newTask("X", 0, "missing")}}
	assert.ErrorIs(t, e.Import(dangling), ErrInvalidSnapshot)

	dup := Snapshot{Tasks: []*entity.Task{newTask("X", 0), newTask("X", 0)}}
	assert.ErrorIs(t, e.Import(dup), ErrInvalidSnapshot)

	assert.Equal(t, before, e.Export())
}

func TestEngine_StatisticsAndAnnotate(t *testing.T) {
	e := diamond(t, 20*time.Minute, 5*time.Minute)

	stats := e.Statistics()
	assert.Equal(t, 4, stats.Tasks)
	assert.Equal(t, 4, stats.Edges)
	assert.Equal(t, 2, stats.MaxDepth)
	assert.InDelta(t, 1.0, stats.AvgFanIn, 0.001)
	assert.InDelta(t, 1.0, stats.AvgFanOut, 0.001)
	assert.Equal(t, 45*time.Minute, stats.TotalDuration)
	assert.Equal(t, 1, stats.ByStatus[entity.TaskReady])
	assert.Empty(t, stats.Conflicts)
	assert.Nil(t, e.Report())

	shared := newTask("E", time.Minute)
	shared.Scope.Resources = []string{"schema.sql"}
	shared.Impact.ChangeType = entity.ChangeStorage
	other := newTask("F", time.Minute)
	other.Scope.Resources = []string{"schema.sql"}
	other.Impact.ChangeType = entity.ChangeLogic
	require.NoError(t, e.AddTask(shared))
	require.NoError(t, e.AddTask(other))

	report := e.Annotate()
	require.NotEmpty(t, report.Conflicts)
	assert.True(t, report.Feasible)

	f, _ := e.Task("F")
	assert.NotEmpty(t, f.Conflicts)
	assert.Equal(t, len(report.Conflicts), len(e.Statistics().Conflicts))

	// Returned tasks are copies.
	f.Conflicts = nil
	f.Temporal.Dependencies = append(f.Temporal.Dependencies, "A")
	again, _ := e.Task("F")
	assert.NotEmpty(t, again.Conflicts)
	assert.Empty(t, again.Temporal.Dependencies)

	classes, err := e.Classify("E")
	require.NoError(t, err)
	assert.Len(t, classes, 4)

	plan, err := e.RollbackPlan("E")
	require.NoError(t, err)
	assert.True(t, plan.RequiresBackup)

	_, err = e.Cascade("ghost")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

// sharedResourcePair returns a storage and a config change on the same
// resource plus an unrelated long task that owns the critical path.
func sharedResourcePair() []*entity.Task {
	return []*entity.Task{
		{
			ID:     "migrate",
			Scope:  entity.ScopeDescriptor{Layer: entity.LayerData, Resources: []string{"users-db"}},
			Impact: entity.ImpactDescriptor{ChangeType: entity.ChangeStorage, Level: entity.ImpactSmall, Reversible: true},
		},
		{
			ID:     "flags",
			Scope:  entity.ScopeDescriptor{Layer: entity.LayerService, Resources: []string{"users-db"}},
			Impact: entity.ImpactDescriptor{ChangeType: entity.ChangeConfig, Level: entity.ImpactSmall, Reversible: true},
		},
		{
			ID:       "long",
			Temporal: entity.TemporalDescriptor{EstimatedDuration: time.Hour},
			Impact:   entity.ImpactDescriptor{ChangeType: entity.ChangeUI, Level: entity.ImpactSmall, Reversible: true},
		},
	}
}

func TestEngine_ConflictPenaltiesRaisePriority(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Load(sharedResourcePair()))

	flags, _ := e.Task("flags")
	assert.InDelta(t, 25.0, flags.Impact.Risk(), 0.001)
	assert.Equal(t, entity.PriorityLow, flags.Priority)

	report := e.Annotate()
	assert.InDelta(t, 45.0, report.TaskRisk["flags"], 0.001)
	assert.InDelta(t, 70.0, report.TaskRisk["migrate"], 0.001)

	flags, _ = e.Task("flags")
	assert.InDelta(t, 25.0, flags.Impact.RiskScore, 0.001)
	assert.InDelta(t, 45.0, flags.Impact.EffectiveRisk, 0.001)
	assert.Equal(t, entity.PriorityMedium, flags.Priority)

	scores := e.NormalizePriorities()
	assert.InDelta(t, 22.5, scores["flags"], 0.001)
	assert.InDelta(t, 35.0, scores["migrate"], 0.001)
	assert.InDelta(t, 57.5, scores["long"], 0.001)
}
