package dimension

import (
	"sort"
	"time"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// Classification is one layer's verdict on one task.
type Classification struct {
	TaskID    string           `json:"task_id"`
	Dimension entity.Dimension `json:"dimension"`
	Status    string           `json:"status"`
	Score     float64          `json:"score"`
	Notes     []string         `json:"notes,omitempty"`
}

// Layer classifies tasks along a single axis and reports axis-local conflicts.
type Layer interface {
	Name() entity.Dimension
	Classify(t *entity.Task) Classification
	DetectConflicts(tasks []*entity.Task) []*entity.Conflict
}

// Config holds the tunables shared by the layers.
type Config struct {
	CriticalityThreshold int
	CascadeDepth         int
	ProtectedLayers      []entity.SystemLayer
	ActiveMode           entity.ExecutionMode
}

// DefaultConfig returns the stock layer configuration.
func DefaultConfig() Config {
	return Config{
		CriticalityThreshold: 70,
		CascadeDepth:         5,
		ActiveMode:           entity.ModeDryRun,
	}
}

// Set bundles the four layers of one plan.
type Set struct {
	Time   *TimeLayer
	Scope  *ScopeLayer
	Impact *ImpactLayer
	Mode   *ModeLayer
}

// NewSet builds all four layers from one configuration.
func NewSet(cfg Config, now func() time.Time) *Set {
	return &Set{
		Time:   NewTimeLayer(now),
		Scope:  NewScopeLayer(cfg.ProtectedLayers),
		Impact: NewImpactLayer(cfg.CriticalityThreshold, cfg.CascadeDepth),
		Mode:   NewModeLayer(cfg.ActiveMode),
	}
}

// All returns the layers in a fixed order.
func (s *Set) All() []Layer {
	return []Layer{s.Time, s.Scope, s.Impact, s.Mode}
}

// ClassifyAll runs every layer over one task.
func (s *Set) ClassifyAll(t *entity.Task) []Classification {
	layers := s.All()
	out := make([]Classification, 0, len(layers))
	for _, l := range layers {
		out = append(out, l.Classify(t))
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func sortedTasks(tasks []*entity.Task) []*entity.Task {
	out := append([]*entity.Task(nil), tasks...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, v := range b {
		if _, ok := set[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SharedResources returns the resources both tasks claim, sorted.
func SharedResources(a, b *entity.Task) []string {
	return intersect(a.Scope.Resources, b.Scope.Resources)
}
