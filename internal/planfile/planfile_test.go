package planfile

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
)

func TestLoad(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "release.yaml"))
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, f.Version)
	assert.Equal(t, "release-2026-10", f.Name)
	require.Len(t, f.Tasks, 4)

	schema := f.Tasks[0]
	assert.Equal(t, "schema", schema.ID)
	assert.Equal(t, 10*time.Minute, schema.Temporal.EstimatedDuration)
	assert.Equal(t, entity.LayerData, schema.Scope.Layer)
	assert.Equal(t, entity.ImpactMedium, schema.Impact.Level)

	canary := f.Tasks[2]
	assert.True(t, canary.Temporal.WaitForSignal)
	assert.Equal(t, []string{"api"}, canary.Temporal.Dependencies)

	require.Len(t, f.Branches, 1)
	assert.Equal(t, flow.KindUserDecision, f.Branches[0].Condition.Kind)
	assert.Equal(t, map[string]bool{"run canary": false}, f.Decisions)
}

func TestLoadedTasksFeedTheGraph(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "release.yaml"))
	require.NoError(t, err)

	engine := graph.NewEngine()
	require.NoError(t, engine.Load(f.CloneTasks()))

	layers, err := engine.BuildTopologicalLayers()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"schema"}, layers[0])
	assert.Equal(t, []string{"api"}, layers[1])
	assert.ElementsMatch(t, []string{"canary", "ui"}, layers[2])

	// the file's own tasks stay unannotated
	assert.Zero(t, f.Tasks[1].Temporal.Depth)
}

func TestSaveRoundTrip(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "release.yaml"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "plan.yaml")
	require.NoError(t, f.Save(path))

	again, err := Load(path)
	require.NoError(t, err)
	require.Len(t, again.Tasks, len(f.Tasks))
	for i := range f.Tasks {
		assert.Equal(t, f.Tasks[i].ID, again.Tasks[i].ID)
		assert.Equal(t, f.Tasks[i].Temporal.Dependencies, again.Tasks[i].Temporal.Dependencies)
		assert.Equal(t, f.Tasks[i].Temporal.EstimatedDuration, again.Tasks[i].Temporal.EstimatedDuration)
	}
	assert.Equal(t, f.Branches[0].Condition, again.Branches[0].Condition)
	assert.Equal(t, f.Decisions, again.Decisions)

	data, err := again.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "estimated_duration: 10m0s")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "  \n", "empty"},
		{"not yaml", "tasks: [", "decode"},
		{"no tasks", "version: 1\n", "no tasks"},
		{"future version", "version: 7\ntasks:\n  - id: a\n", "unsupported version 7"},
		{"missing id", "tasks:\n  - name: nameless\n", "has no id"},
		{"duplicate id", "tasks:\n  - id: a\n  - id: a\n", "declared twice"},
		{"unknown dependency", "tasks:\n  - id: a\n    temporal:\n      dependencies: [ghost]\n", "unknown task ghost"},
		{"branch unknown task", "tasks:\n  - id: a\nbranches:\n  - id: b\n    condition: {kind: user-decision, question: q}\n    task_ids: [ghost]\n", "names unknown task ghost"},
		{"branch bad condition", "tasks:\n  - id: a\nbranches:\n  - id: b\n    condition: {kind: composite, operator: NOT}\n    task_ids: [a]\n", "NOT takes exactly one child"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_InvalidWrapsSentinel(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  - id: a\n  - id: a\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}
