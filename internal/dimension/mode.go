package dimension

import (
	"fmt"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

var modeScores = map[entity.ExecutionMode]float64{
	entity.ModeDryRun:    10,
	entity.ModeSimulated: 40,
	entity.ModeLive:      80,
}

// ModeLayer checks tasks against the execution mode the plan runs under.
type ModeLayer struct {
	active entity.ExecutionMode
}

// NewModeLayer creates a mode layer for the given active mode, dry-run if empty.
func NewModeLayer(active entity.ExecutionMode) *ModeLayer {
	if active == "" {
		active = entity.ModeDryRun
	}
	return &ModeLayer{active: active}
}

// Name implements Layer.
func (l *ModeLayer) Name() entity.Dimension {
	return entity.DimensionMode
}

// ActiveMode returns the mode the plan runs under.
func (l *ModeLayer) ActiveMode() entity.ExecutionMode {
	return l.active
}

// Permits reports whether the task may run under mode.
func (l *ModeLayer) Permits(t *entity.Task, mode entity.ExecutionMode) bool {
	return t.Mode.AllowsMode(mode)
}

// Classify reports the most permissive allowed mode.
func (l *ModeLayer) Classify(t *entity.Task) Classification {
	best := entity.ModeDryRun
	for _, m := range t.Mode.AllowedModes() {
		if modeScores[m] > modeScores[best] {
			best = m
		}
	}
	var notes []string
	if !t.Mode.AllowsMode(l.active) {
		notes = append(notes, fmt.Sprintf("not permitted under %s", l.active))
	}
	for _, req := range l.UnmetRequirements(t) {
		notes = append(notes, "missing requirement "+req)
	}
	return Classification{
		TaskID:    t.ID,
		Dimension: entity.DimensionMode,
		Status:    string(best),
		Score:     modeScores[best],
		Notes:     notes,
	}
}

// UnmetRequirements lists the active-mode requirements without a passing
// safety check of the same name.
func (l *ModeLayer) UnmetRequirements(t *entity.Task) []string {
	reqs := t.Mode.Requirements[l.active]
	if len(reqs) == 0 {
		return nil
	}
	passed := make(map[string]bool, len(t.Safety.Checks))
	for _, c := range t.Safety.Checks {
		if c.Passed {
			passed[c.Name] = true
		}
	}
	var unmet []string
	for _, r := range reqs {
		if !passed[r] {
			unmet = append(unmet, r)
		}
	}
	return unmet
}

// DetectConflicts reports tasks the active mode does not permit and tasks with
// unmet mode requirements.
func (l *ModeLayer) DetectConflicts(tasks []*entity.Task) []*entity.Conflict {
	var conflicts []*entity.Conflict
	for _, t := range sortedTasks(tasks) {
		if !t.Mode.AllowsMode(l.active) {
			conflicts = append(conflicts, entity.NewConflict(
				entity.DimensionMode,
				entity.SeverityHigh,
				[]string{t.ID},
				fmt.Sprintf("mode not permitted: %s cannot run under %s", t.ID, l.active),
				"run the plan under a permitted mode or exclude the task",
			))
			continue
		}
		for _, req := range l.UnmetRequirements(t) {
			conflicts = append(conflicts, entity.NewConflict(
				entity.DimensionMode,
				entity.SeverityMedium,
				[]string{t.ID},
				fmt.Sprintf("unmet mode requirement %s: %s needs it under %s", req, t.ID, l.active),
				"record a passing safety check named "+req,
			))
		}
	}
	return conflicts
}
