// Package pathing cross-checks the dimension layers of a candidate task set and
// aggregates their conflicts into per-task and per-plan risk.
package pathing

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/entity"
)

var severityPenalty = map[entity.Severity]float64{
	entity.SeverityLow:    2,
	entity.SeverityMedium: 5,
	entity.SeverityHigh:   10,
}

// Report is the outcome of one analysis pass.
type Report struct {
	Conflicts []*entity.Conflict `json:"conflicts"`
	TaskRisk  map[string]float64 `json:"task_risk"`
	PlanRisk  float64            `json:"plan_risk"`
	Feasible  bool               `json:"feasible"`
	Vetoes    []string           `json:"vetoes,omitempty"`
}

// ConflictsFor returns the conflicts a task participates in.
func (r *Report) ConflictsFor(taskID string) []*entity.Conflict {
	var out []*entity.Conflict
	for _, c := range r.Conflicts {
		if c.Involves(taskID) {
			out = append(out, c)
		}
	}
	return out
}

// CountBySeverity tallies conflicts per severity.
func (r *Report) CountBySeverity() map[entity.Severity]int {
	out := make(map[entity.Severity]int)
	for _, c := range r.Conflicts {
		out[c.Severity]++
	}
	return out
}

// Engine runs the layers over a task set.
type Engine struct {
	layers *dimension.Set
}

// NewEngine creates a pathing engine over the given layers.
func NewEngine(layers *dimension.Set) *Engine {
	return &Engine{layers: layers}
}

// Analyze annotates the risk of every candidate, collects layer-local and
// cross-dimensional conflicts, and writes each task's conflict list back.
// Unknown ids are ignored.
func (e *Engine) Analyze(tasks map[string]*entity.Task, ids []string) *Report {
	candidates := make([]*entity.Task, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		t, ok := tasks[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		e.layers.Impact.Annotate(t)
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	var all []*entity.Conflict
	for _, layer := range e.layers.All() {
		all = append(all, layer.DetectConflicts(candidates)...)
	}
	all = append(all, e.crossCheck(candidates)...)
	conflicts := dedupe(all)

	for _, t := range candidates {
		t.Conflicts = nil
	}
	for _, c := range conflicts {
		for _, id := range c.TaskIDs {
			t, ok := tasks[id]
			if !ok || !seen[id] {
				continue
			}
			t.Conflicts = append(t.Conflicts, entity.TaskConflict{
				ConflictID: c.ID,
				With:       c.Others(id),
				Dimension:  c.Dimension,
				Severity:   c.Severity,
				Blocking:   !c.CanProceed,
			})
		}
	}

	report := &Report{
		Conflicts: conflicts,
		TaskRisk:  make(map[string]float64, len(candidates)),
		Feasible:  true,
	}
	for _, t := range candidates {
		risk := t.Impact.RiskScore
		for _, tc := range t.Conflicts {
			risk += severityPenalty[tc.Severity]
		}
		t.Impact.EffectiveRisk = clamp(risk)
		report.TaskRisk[t.ID] = t.Impact.EffectiveRisk
	}

	var penalties float64
	for _, c := range conflicts {
		penalties += severityPenalty[c.Severity]
		if !c.CanProceed {
			report.Feasible = false
			report.Vetoes = append(report.Vetoes, c.ID)
		}
	}
	report.PlanRisk = clamp(aggregate(candidates) + penalties)
	return report
}

// aggregate blends the worst and the mean base impact risk, 60/40.
func aggregate(tasks []*entity.Task) float64 {
	if len(tasks) == 0 {
		return 0
	}
	var max, sum float64
	for _, t := range tasks {
		r := t.Impact.RiskScore
		sum += r
		max = math.Max(max, r)
	}
	return max*0.6 + (sum/float64(len(tasks)))*0.4
}

func (e *Engine) crossCheck(tasks []*entity.Task) []*entity.Conflict {
	var conflicts []*entity.Conflict
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			a, b := tasks[i], tasks[j]
			pair := []string{a.ID, b.ID}
			shared := dimension.SharedResources(a, b)

			if len(shared) > 0 {
				switch {
				case a.Impact.ChangeType == entity.ChangeArchitecture && b.Impact.ChangeType == entity.ChangeArchitecture:
					conflicts = append(conflicts, entity.NewConflict(
						entity.DimensionScope,
						entity.SeverityCritical,
						pair,
						fmt.Sprintf("competing architecture changes: %s and %s both restructure %s", a.ID, b.ID, strings.Join(shared, ", ")),
						"merge the changes into one task",
					))
				case incompatible(a.Impact.ChangeType, b.Impact.ChangeType):
					conflicts = append(conflicts, entity.NewConflict(
						entity.DimensionScope,
						entity.SeverityHigh,
						pair,
						fmt.Sprintf("incompatible change types: %s (%s) and %s (%s) overlap on %s",
							a.ID, a.Impact.ChangeType, b.ID, b.Impact.ChangeType, strings.Join(shared, ", ")),
						"order the structural change first and re-verify the other",
					))
				}

				if !ordered(a, b) && a.Mode.AllowsMode(entity.ModeLive) && b.Mode.AllowsMode(entity.ModeLive) {
					conflicts = append(conflicts, entity.NewConflict(
						entity.DimensionTemporal,
						entity.SeverityMedium,
						pair,
						fmt.Sprintf("temporal race: %s and %s may run live concurrently on %s", a.ID, b.ID, strings.Join(shared, ", ")),
						"add a dependency between the tasks",
					))
				}
			}

			if linked(a, b) && disjointModes(a, b) {
				conflicts = append(conflicts, entity.NewConflict(
					entity.DimensionMode,
					entity.SeverityCritical,
					pair,
					fmt.Sprintf("mode incompatibility: %s and %s are linked but share no execution mode", a.ID, b.ID),
					"align the allowed modes of dependent tasks",
				))
			}
		}
	}
	return conflicts
}

func incompatible(a, b entity.ChangeType) bool {
	return (a.IsStructural() && b != entity.ChangeUI) || (b.IsStructural() && a != entity.ChangeUI)
}

func linked(a, b *entity.Task) bool {
	return a.HasDependency(b.ID) || b.HasDependency(a.ID)
}

// ordered reports whether a dependency path exists between the two tasks in
// either direction. It relies on the derived ancestor sets when present.
func ordered(a, b *entity.Task) bool {
	if linked(a, b) {
		return true
	}
	return contains(a.Temporal.Ancestors, b.ID) || contains(b.Temporal.Ancestors, a.ID)
}

func disjointModes(a, b *entity.Task) bool {
	for _, m := range a.Mode.AllowedModes() {
		if b.Mode.AllowsMode(m) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func dedupe(in []*entity.Conflict) []*entity.Conflict {
	byID := make(map[string]*entity.Conflict, len(in))
	for _, c := range in {
		existing, ok := byID[c.ID]
		if !ok || c.Severity.Rank() > existing.Severity.Rank() {
			byID[c.ID] = c
		}
	}
	out := make([]*entity.Conflict, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
