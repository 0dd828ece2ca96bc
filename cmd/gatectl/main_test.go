package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const releasePlan = "../../internal/planfile/testdata/release.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	out, err := run(t, "plan", releasePlan)
	require.NoError(t, err)

	assert.Contains(t, out, "Stage 1")
	assert.Contains(t, out, "schema")
	assert.Contains(t, out, "deploy web --tag v2.3.0")
	assert.Contains(t, out, "Excluded by branch: canary")
	assert.Contains(t, out, "Critical path")
}

func TestPlanCommand_DecisionOverride(t *testing.T) {
	out, err := run(t, "plan", releasePlan, "--decide", "run canary=true", "--json")
	require.NoError(t, err)

	var plan struct {
		Stages []struct {
			TaskIDs []string `json:"task_ids"`
		} `json:"stages"`
		Excluded []string `json:"excluded"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Empty(t, plan.Excluded)

	var ids []string
	for _, s := range plan.Stages {
		ids = append(ids, s.TaskIDs...)
	}
	assert.ElementsMatch(t, []string{"schema", "api", "canary", "ui"}, ids)
}

func TestPlanCommand_BadDecision(t *testing.T) {
	_, err := run(t, "plan", releasePlan, "--decide", "run canary=maybe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected true or false")
}

func TestPlanCommand_WritesOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "plan.yaml")
	_, err := run(t, "plan", releasePlan, "-o", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stages:")
	assert.Contains(t, string(data), "- canary")
}

func TestPlanCommand_Vetoed(t *testing.T) {
	out, err := run(t, "plan", filepath.Join("testdata", "vetoed.yaml"))
	require.ErrorIs(t, err, errInfeasible)
	assert.Contains(t, out, "CRITICAL")
	assert.Contains(t, out, "competing architecture changes")
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", releasePlan)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "4 tasks")

	out, err = run(t, "validate", filepath.Join("testdata", "vetoed.yaml"))
	require.ErrorIs(t, err, errInfeasible)
	assert.Contains(t, out, "FAIL")
}

func TestValidateCommand_MissingFile(t *testing.T) {
	out, err := run(t, "validate", filepath.Join("testdata", "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
}

func TestStatsCommand(t *testing.T) {
	out, err := run(t, "stats", releasePlan)
	require.NoError(t, err)
	assert.Contains(t, out, "Graph: 4 tasks, 3 edges")
	assert.Contains(t, out, "Feasible")

	out, err = run(t, "stats", releasePlan, "--json")
	require.NoError(t, err)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 4, stats["tasks"])
}

func TestMergeDecisions(t *testing.T) {
	got, err := mergeDecisions(map[string]bool{"a": true, "b": false}, map[string]string{"b": "yes", "c": "0"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": false}, got)
}
