package dimension

import (
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

var levelTiers = map[entity.ImpactLevel]float64{
	entity.ImpactSmall:    10,
	entity.ImpactMedium:   30,
	entity.ImpactLarge:    60,
	entity.ImpactCritical: 90,
}

var changeWeights = map[entity.ChangeType]float64{
	entity.ChangeUI:           5,
	entity.ChangeWiring:       10,
	entity.ChangeConfig:       15,
	entity.ChangeLogic:        20,
	entity.ChangeStorage:      40,
	entity.ChangeArchitecture: 40,
}

const (
	criticalAreaPenalty  = 10
	severeCascadePenalty = 15
	irreversiblePenalty  = 10
	rollbackFactor       = 0.1
)

// CascadeHop is one task reached by a cascade walk.
type CascadeHop struct {
	TaskID string `json:"task_id"`
	Via    string `json:"via"`
	Depth  int    `json:"depth"`
}

// ImpactLayer computes risk scores, rollback plans and cascade reach.
type ImpactLayer struct {
	criticalityThreshold int
	cascadeDepth         int
}

// NewImpactLayer creates an impact layer. Non-positive values fall back to the defaults.
func NewImpactLayer(criticalityThreshold, cascadeDepth int) *ImpactLayer {
	def := DefaultConfig()
	if criticalityThreshold <= 0 {
		criticalityThreshold = def.CriticalityThreshold
	}
	if cascadeDepth <= 0 {
		cascadeDepth = def.CascadeDepth
	}
	return &ImpactLayer{
		criticalityThreshold: criticalityThreshold,
		cascadeDepth:         cascadeDepth,
	}
}

// Name implements Layer.
func (l *ImpactLayer) Name() entity.Dimension {
	return entity.DimensionImpact
}

// RiskScore computes the 0-100 risk of a task without modifying it.
func (l *ImpactLayer) RiskScore(t *entity.Task) float64 {
	imp := t.Impact
	score := levelTiers[imp.Level] + changeWeights[imp.ChangeType]
	for _, area := range imp.AffectedAreas {
		if area.Criticality > l.criticalityThreshold {
			score += criticalAreaPenalty
		}
	}
	for _, effect := range imp.CascadeEffects {
		if effect.Severity.AtLeast(entity.SeverityHigh) {
			score += severeCascadePenalty
		}
	}
	if !imp.Reversible {
		score += irreversiblePenalty
	}
	score += float64(imp.RollbackComplexity) * rollbackFactor
	return clamp(score)
}

// Annotate writes the risk score back onto the task.
func (l *ImpactLayer) Annotate(t *entity.Task) float64 {
	t.Impact.RiskScore = l.RiskScore(t)
	t.Impact.EffectiveRisk = t.Impact.RiskScore
	return t.Impact.RiskScore
}

// Classify reports the risk zone and score.
func (l *ImpactLayer) Classify(t *entity.Task) Classification {
	score := l.RiskScore(t)
	var notes []string
	if !t.Impact.Reversible {
		notes = append(notes, "change is not reversible")
	}
	for _, area := range t.Impact.AffectedAreas {
		if area.Criticality > l.criticalityThreshold {
			notes = append(notes, fmt.Sprintf("critical area %s (%d)", area.Name, area.Criticality))
		}
	}
	return Classification{
		TaskID:    t.ID,
		Dimension: entity.DimensionImpact,
		Status:    string(entity.ZoneForScore(score)),
		Score:     score,
		Notes:     notes,
	}
}

// DetectConflicts reports pairs of large changes landing on the same affected area.
func (l *ImpactLayer) DetectConflicts(tasks []*entity.Task) []*entity.Conflict {
	sorted := sortedTasks(tasks)
	var conflicts []*entity.Conflict
	for i := 0; i < len(sorted); i++ {
		if !isLarge(sorted[i]) {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if !isLarge(b) {
				continue
			}
			shared := intersect(areaNames(a), areaNames(b))
			if len(shared) == 0 {
				continue
			}
			conflicts = append(conflicts, entity.NewConflict(
				entity.DimensionImpact,
				entity.SeverityHigh,
				[]string{a.ID, b.ID},
				fmt.Sprintf("overlapping large changes: %s and %s both change %v", a.ID, b.ID, shared),
				"split the changes or order them and verify in between",
			))
		}
	}
	return conflicts
}

type stepTemplate struct {
	kind     entity.RollbackStepType
	desc     string
	estimate time.Duration
}

var rollbackTemplates = map[entity.ChangeType][]stepTemplate{
	entity.ChangeUI: {
		{entity.StepRevertCode, "revert UI change", 5 * time.Minute},
		{entity.StepVerify, "check affected screens", 5 * time.Minute},
	},
	entity.ChangeWiring: {
		{entity.StepRevertCode, "restore previous wiring", 10 * time.Minute},
		{entity.StepVerify, "run integration checks", 10 * time.Minute},
	},
	entity.ChangeConfig: {
		{entity.StepRestoreConfig, "restore previous configuration", 5 * time.Minute},
		{entity.StepVerify, "confirm configuration is loaded", 5 * time.Minute},
	},
	entity.ChangeLogic: {
		{entity.StepRevertCode, "revert logic change", 15 * time.Minute},
		{entity.StepVerify, "run regression tests", 15 * time.Minute},
	},
	entity.ChangeStorage: {
		{entity.StepMigrateDown, "apply down migration", 30 * time.Minute},
		{entity.StepRestoreData, "restore data from backup", 45 * time.Minute},
		{entity.StepVerify, "verify data integrity", 20 * time.Minute},
	},
	entity.ChangeArchitecture: {
		{entity.StepRevertCode, "revert structural change", 30 * time.Minute},
		{entity.StepRestoreConfig, "restore previous topology configuration", 10 * time.Minute},
		{entity.StepRestoreData, "restore data from backup", 45 * time.Minute},
		{entity.StepVerify, "run end-to-end verification", 30 * time.Minute},
	},
}

// RollbackPlan derives the ordered remediation steps for a task. Estimates grow
// with rollback complexity.
func (l *ImpactLayer) RollbackPlan(t *entity.Task) *entity.RollbackPlan {
	plan := &entity.RollbackPlan{
		TaskID:         t.ID,
		RequiresBackup: t.Impact.ChangeType.IsStructural(),
	}
	factor := 1 + float64(t.Impact.RollbackComplexity)/100

	var templates []stepTemplate
	if plan.RequiresBackup {
		templates = append(templates, stepTemplate{entity.StepBackup, "confirm a pre-change backup exists", 5 * time.Minute})
	}
	steps, ok := rollbackTemplates[t.Impact.ChangeType]
	if !ok {
		steps = rollbackTemplates[entity.ChangeLogic]
	}
	templates = append(templates, steps...)
	if t.Impact.Level == entity.ImpactLarge || t.Impact.Level == entity.ImpactCritical || len(t.Impact.CascadeEffects) > 0 {
		templates = append(templates, stepTemplate{entity.StepNotify, "notify owners of affected areas", 5 * time.Minute})
	}

	for i, tpl := range templates {
		est := time.Duration(float64(tpl.estimate) * factor).Round(time.Second)
		plan.Steps = append(plan.Steps, entity.RollbackStep{
			Order:       i + 1,
			Type:        tpl.kind,
			Description: tpl.desc,
			Estimate:    est,
		})
		plan.TotalEstimate += est
	}
	return plan
}

// CascadeWalk follows cascade targets breadth-first: a task is reached when one
// of its resources, subsystems or affected areas is the target of an effect of
// an already reached task. The walk stops at the configured depth.
func (l *ImpactLayer) CascadeWalk(tasks map[string]*entity.Task, id string) []CascadeHop {
	start, ok := tasks[id]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(tasks))
	for tid := range tasks {
		ids = append(ids, tid)
	}
	sort.Strings(ids)

	visited := map[string]bool{id: true}
	frontier := []*entity.Task{start}
	var hops []CascadeHop

	for depth := 1; depth <= l.cascadeDepth && len(frontier) > 0; depth++ {
		var next []*entity.Task
		for _, src := range frontier {
			for _, effect := range src.Impact.CascadeEffects {
				for _, tid := range ids {
					if visited[tid] {
						continue
					}
					candidate := tasks[tid]
					if !touches(candidate, effect.Target) {
						continue
					}
					visited[tid] = true
					hops = append(hops, CascadeHop{TaskID: tid, Via: effect.Target, Depth: depth})
					next = append(next, candidate)
				}
			}
		}
		frontier = next
	}
	return hops
}

// CascadeDepth returns the configured walk bound.
func (l *ImpactLayer) CascadeDepth() int {
	return l.cascadeDepth
}

func touches(t *entity.Task, target string) bool {
	for _, r := range t.Scope.Resources {
		if r == target {
			return true
		}
	}
	for _, s := range t.Scope.Subsystems {
		if s == target {
			return true
		}
	}
	for _, a := range t.Impact.AffectedAreas {
		if a.Name == target {
			return true
		}
	}
	return false
}

func isLarge(t *entity.Task) bool {
	return t.Impact.Level == entity.ImpactLarge || t.Impact.Level == entity.ImpactCritical
}

func areaNames(t *entity.Task) []string {
	out := make([]string, 0, len(t.Impact.AffectedAreas))
	for _, a := range t.Impact.AffectedAreas {
		out = append(out, a.Name)
	}
	return out
}
