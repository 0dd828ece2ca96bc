package graph

import (
	"time"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// Statistics is a read-only summary of the graph.
type Statistics struct {
	Tasks         int                       `json:"tasks"`
	Edges         int                       `json:"edges"`
	MaxDepth      int                       `json:"max_depth"`
	AvgFanIn      float64                   `json:"avg_fan_in"`
	AvgFanOut     float64                   `json:"avg_fan_out"`
	Layers        [][]string                `json:"layers"`
	CriticalPath  CriticalPath              `json:"critical_path"`
	TotalDuration time.Duration             `json:"total_duration"`
	ByStatus      map[entity.TaskStatus]int `json:"by_status"`
	ByPriority    map[entity.Priority]int   `json:"by_priority"`
	Conflicts     []entity.Conflict         `json:"conflicts"`
	PlanRisk      float64                   `json:"plan_risk"`
	Feasible      bool                      `json:"feasible"`
}

// Statistics summarizes the graph without side effects.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Statistics{
		Tasks:      len(e.tasks),
		Edges:      e.edges,
		ByStatus:   make(map[entity.TaskStatus]int),
		ByPriority: make(map[entity.Priority]int),
		CriticalPath: CriticalPath{
			TaskIDs:  append([]string(nil), e.critical.TaskIDs...),
			Duration: e.critical.Duration,
		},
		Feasible: true,
	}
	stats.Layers, _ = e.layersLocked()

	var fanIn, fanOut int
	for _, t := range e.tasks {
		fanIn += t.Temporal.FanIn
		fanOut += t.Temporal.FanOut
		if t.Temporal.Depth > stats.MaxDepth {
			stats.MaxDepth = t.Temporal.Depth
		}
		stats.TotalDuration += t.Temporal.EstimatedDuration
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
	}
	if n := len(e.tasks); n > 0 {
		stats.AvgFanIn = float64(fanIn) / float64(n)
		stats.AvgFanOut = float64(fanOut) / float64(n)
	}

	if e.report != nil {
		stats.PlanRisk = e.report.PlanRisk
		stats.Feasible = e.report.Feasible
		for _, c := range e.report.Conflicts {
			cc := *c
			cc.TaskIDs = append([]string(nil), c.TaskIDs...)
			stats.Conflicts = append(stats.Conflicts, cc)
		}
	}
	return stats
}
