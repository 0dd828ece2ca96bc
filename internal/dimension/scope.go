package dimension

import (
	"fmt"
	"strings"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

var layerWeights = map[entity.SystemLayer]float64{
	entity.LayerUI:             10,
	entity.LayerAPI:            20,
	entity.LayerService:        30,
	entity.LayerData:           50,
	entity.LayerInfrastructure: 60,
}

// ScopeLayer classifies how much of the system a task touches.
type ScopeLayer struct {
	protected map[entity.SystemLayer]bool
}

// NewScopeLayer creates a scope layer. Tasks touching a protected layer must
// require manual override.
func NewScopeLayer(protected []entity.SystemLayer) *ScopeLayer {
	p := make(map[entity.SystemLayer]bool, len(protected))
	for _, layer := range protected {
		p[layer] = true
	}
	return &ScopeLayer{protected: p}
}

// Name implements Layer.
func (l *ScopeLayer) Name() entity.Dimension {
	return entity.DimensionScope
}

// Classify scores breadth: layer weight, extra subsystems and resources.
func (l *ScopeLayer) Classify(t *entity.Task) Classification {
	weight, ok := layerWeights[t.Scope.Layer]
	if !ok {
		weight = 20
	}
	score := weight + 5*float64(len(t.Scope.Resources))
	if n := len(t.Scope.Subsystems); n > 1 {
		score += 10 * float64(n-1)
	}

	var notes []string
	if l.protected[t.Scope.Layer] {
		notes = append(notes, fmt.Sprintf("touches protected layer %s", t.Scope.Layer))
	}
	if len(t.Scope.Subsystems) > 1 {
		notes = append(notes, "spans subsystems "+strings.Join(t.Scope.Subsystems, ", "))
	}

	status := string(t.Scope.Layer)
	if status == "" {
		status = "unscoped"
	}
	return Classification{
		TaskID:    t.ID,
		Dimension: entity.DimensionScope,
		Status:    status,
		Score:     clamp(score),
		Notes:     notes,
	}
}

// IsProtected reports whether the layer is configured as protected.
func (l *ScopeLayer) IsProtected(layer entity.SystemLayer) bool {
	return l.protected[layer]
}

// DetectConflicts reports shared resources and unguarded protected-layer access.
func (l *ScopeLayer) DetectConflicts(tasks []*entity.Task) []*entity.Conflict {
	sorted := sortedTasks(tasks)
	var conflicts []*entity.Conflict

	for _, t := range sorted {
		if l.protected[t.Scope.Layer] && !t.Safety.ManualOverrideRequired {
			conflicts = append(conflicts, entity.NewConflict(
				entity.DimensionScope,
				entity.SeverityHigh,
				[]string{t.ID},
				fmt.Sprintf("protected layer: %s touches %s without manual override", t.ID, t.Scope.Layer),
				"mark the task as requiring manual override",
			))
		}
	}

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			shared := SharedResources(a, b)
			if len(shared) == 0 {
				continue
			}
			sev := entity.SeverityMedium
			if a.Impact.ChangeType.IsStructural() || b.Impact.ChangeType.IsStructural() ||
				(!a.Impact.Reversible && !b.Impact.Reversible) {
				sev = entity.SeverityHigh
			}
			conflicts = append(conflicts, entity.NewConflict(
				entity.DimensionResource,
				sev,
				[]string{a.ID, b.ID},
				fmt.Sprintf("shared resource: %s and %s both claim %s", a.ID, b.ID, strings.Join(shared, ", ")),
				"serialize the tasks with a dependency edge",
			))
		}
	}
	return conflicts
}
