package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
)

func lookupOf(tasks ...*entity.Task) TaskLookup {
	index := make(map[string]*entity.Task, len(tasks))
	for _, t := range tasks {
		index[t.ID] = t
	}
	return func(id string) (*entity.Task, bool) {
		t, ok := index[id]
		return t, ok
	}
}

func TestRenderPlan(t *testing.T) {
	schema := &entity.Task{ID: "schema", Command: "migrate up 0042"}
	schema.Scope.Layer = entity.LayerData
	schema.Temporal.EstimatedDuration = 10 * time.Minute
	api := &entity.Task{ID: "api", Command: "deploy api --tag v2.3.0"}
	api.Scope.Layer = entity.LayerAPI

	plan := &flow.ExecutionPlan{
		ID: "0123456789abcdef",
		Stages: []flow.Stage{
			{Index: 0, TaskIDs: []string{"schema"}},
			{Index: 1, TaskIDs: []string{"api", "ghost"}},
		},
		Excluded: []string{"canary"},
	}
	critical := graph.CriticalPath{TaskIDs: []string{"schema", "api"}, Duration: 10 * time.Minute}

	out := RenderPlan(plan, lookupOf(schema, api), critical)

	assert.Contains(t, out, "Plan 01234567: 3 tasks in 2 stages")
	assert.Contains(t, out, "Stage 1")
	assert.Contains(t, out, "Stage 2")
	assert.Contains(t, out, "migrate up 0042")
	assert.Contains(t, out, "10m0s")
	assert.Contains(t, out, "Excluded by branch: canary")
	assert.Contains(t, out, "Critical path (10m0s): schema -> api")
	assert.NotContains(t, out, "ghost")
	assert.Less(t, strings.Index(out, "schema"), strings.Index(out, "deploy api"))
}

func TestRenderConflicts(t *testing.T) {
	assert.Contains(t, RenderConflicts(nil), "No conflicts.")

	low := *entity.NewConflict(entity.DimensionTemporal, entity.SeverityLow, []string{"a", "b"}, "loose ordering", "")
	crit := *entity.NewConflict(entity.DimensionScope, entity.SeverityCritical, []string{"c", "d"}, "competing rewrites", "merge them")

	out := RenderConflicts([]entity.Conflict{low, crit})
	assert.Contains(t, out, "Conflicts (2)")
	assert.Contains(t, out, "fix: merge them")
	assert.Less(t, strings.Index(out, "CRITICAL"), strings.Index(out, "LOW"))
}

func TestRenderStats(t *testing.T) {
	out := RenderStats(graph.Statistics{
		Tasks:        3,
		Edges:        2,
		Layers:       [][]string{{"a"}, {"b", "c"}},
		CriticalPath: graph.CriticalPath{TaskIDs: []string{"a", "b"}, Duration: time.Hour},
		ByStatus:     map[entity.TaskStatus]int{entity.TaskReady: 1, entity.TaskScheduled: 2},
		Feasible:     true,
	})

	assert.Contains(t, out, "Graph: 3 tasks, 2 edges, 2 layers")
	assert.Contains(t, out, "a -> b (1h0m0s)")
	assert.Contains(t, out, "READY=1 SCHEDULED=2")
	assert.Contains(t, out, "yes")
}

func TestVerdictAndHelpers(t *testing.T) {
	assert.Contains(t, Verdict(true, "fine"), "OK")
	assert.True(t, strings.HasSuffix(Verdict(false, "broken"), "  broken"))

	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "ab  ", padRight("ab", 4))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
