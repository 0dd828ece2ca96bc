package graph

import (
	"sort"
	"time"

	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// CriticalPath is the root-to-leaf chain with the greatest summed estimated duration.
type CriticalPath struct {
	TaskIDs  []string      `json:"task_ids"`
	Duration time.Duration `json:"duration"`
}

// Contains reports whether the task lies on the path.
func (p CriticalPath) Contains(id string) bool {
	for _, t := range p.TaskIDs {
		if t == id {
			return true
		}
	}
	return false
}

// Priority tier thresholds on the priority score.
const (
	criticalPriorityScore = 80
	highPriorityScore     = 50
	mediumPriorityScore   = 20
	criticalPathBonus     = 50
)

// DetectCycles sweeps the whole graph. It must find nothing as long as every
// edge went through AddDependency.
func (e *Engine) DetectCycles() [][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return dimension.FindCycles(e.tasks)
}

// BuildTopologicalLayers groups tasks into layers with Kahn's algorithm. Every
// task sits in a layer strictly after the layers of all its dependencies.
func (e *Engine) BuildTopologicalLayers() ([][]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.layersLocked()
}

func (e *Engine) layersLocked() ([][]string, error) {
	inDegree := make(map[string]int, len(e.tasks))
	var current []string
	for id, t := range e.tasks {
		inDegree[id] = len(t.Temporal.Dependencies)
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var layers [][]string
	placed := 0
	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, dep := range e.tasks[id].Temporal.Dependents {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if placed != len(e.tasks) {
		var stuck []string
		for id, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return layers, cycleError(stuck)
	}
	return layers, nil
}

// BuildTransitiveClosure recomputes ancestors, descendants, fan-in, fan-out and depth.
func (e *Engine) BuildTransitiveClosure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closureLocked()
}

func (e *Engine) closureLocked() {
	for _, t := range e.tasks {
		t.Temporal.Ancestors = e.reachLocked(t.ID, func(x *entity.Task) []string { return x.Temporal.Dependencies })
		t.Temporal.Descendants = e.reachLocked(t.ID, func(x *entity.Task) []string { return x.Temporal.Dependents })
		t.Temporal.FanIn = len(t.Temporal.Dependencies)
		t.Temporal.FanOut = len(t.Temporal.Dependents)
		t.Temporal.Depth = 0
	}

	// Depth is the longest dependency chain above a task.
	layers, _ := e.layersLocked()
	for _, layer := range layers {
		for _, id := range layer {
			t := e.tasks[id]
			for _, dep := range t.Temporal.Dependencies {
				if d := e.tasks[dep].Temporal.Depth + 1; d > t.Temporal.Depth {
					t.Temporal.Depth = d
				}
			}
		}
	}
}

func (e *Engine) reachLocked(id string, next func(*entity.Task) []string) []string {
	seen := make(map[string]struct{})
	queue := append([]string(nil), next(e.tasks[id])...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		t, ok := e.tasks[cur]
		if !ok {
			continue
		}
		seen[cur] = struct{}{}
		queue = append(queue, next(t)...)
	}
	if len(seen) == 0 {
		return nil
	}
	return entity.SortedIDs(seen)
}

// FindCriticalPath returns the cached critical path.
func (e *Engine) FindCriticalPath() CriticalPath {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return CriticalPath{
		TaskIDs:  append([]string(nil), e.critical.TaskIDs...),
		Duration: e.critical.Duration,
	}
}

type pathMemo struct {
	duration time.Duration
	hops     int
	next     string
}

// criticalPathLocked runs a memoized DFS from every root. Ties go to the longer
// chain, then to the lexicographically smaller id.
func (e *Engine) criticalPathLocked() CriticalPath {
	memo := make(map[string]pathMemo, len(e.tasks))
	visiting := make(map[string]bool)

	var longest func(id string) pathMemo
	longest = func(id string) pathMemo {
		if m, ok := memo[id]; ok {
			return m
		}
		if visiting[id] {
			return pathMemo{}
		}
		visiting[id] = true

		t := e.tasks[id]
		best := pathMemo{}
		for _, dep := range t.Temporal.Dependents {
			sub := longest(dep)
			if better(sub, dep, best) {
				best = pathMemo{duration: sub.duration, hops: sub.hops, next: dep}
			}
		}
		m := pathMemo{
			duration: t.Temporal.EstimatedDuration + best.duration,
			hops:     best.hops + 1,
			next:     best.next,
		}
		visiting[id] = false
		memo[id] = m
		return m
	}

	var bestRoot string
	var best pathMemo
	for _, id := range e.sortedIDsLocked() {
		if len(e.tasks[id].Temporal.Dependencies) > 0 {
			continue
		}
		m := longest(id)
		if bestRoot == "" || better(m, id, pathMemo{duration: best.duration, hops: best.hops, next: bestRoot}) {
			best = m
			bestRoot = id
		}
	}
	if bestRoot == "" {
		return CriticalPath{}
	}

	path := CriticalPath{Duration: best.duration}
	for id := bestRoot; id != ""; id = memo[id].next {
		path.TaskIDs = append(path.TaskIDs, id)
	}
	return path
}

// better reports whether candidate (reached through id) beats current (reached
// through current.next).
func better(candidate pathMemo, id string, current pathMemo) bool {
	if current.next == "" && current.hops == 0 {
		return true
	}
	if candidate.duration != current.duration {
		return candidate.duration > current.duration
	}
	if candidate.hops != current.hops {
		return candidate.hops > current.hops
	}
	return id < current.next
}

// NormalizePriorities recomputes every priority and returns the raw scores.
func (e *Engine) NormalizePriorities() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.normalizeLocked()
	out := make(map[string]float64, len(e.scores))
	for k, v := range e.scores {
		out[k] = v
	}
	return out
}

func (e *Engine) normalizeLocked() {
	e.scores = make(map[string]float64, len(e.tasks))
	for id, t := range e.tasks {
		score := float64(t.Temporal.Depth)*10 +
			float64(t.Temporal.FanOut)*5 +
			t.Impact.Risk()*0.5
		if e.critical.Contains(id) {
			score += criticalPathBonus
		}
		e.scores[id] = score
		t.Priority = tierFor(score)
	}
}

func tierFor(score float64) entity.Priority {
	switch {
	case score >= criticalPriorityScore:
		return entity.PriorityCritical
	case score >= highPriorityScore:
		return entity.PriorityHigh
	case score >= mediumPriorityScore:
		return entity.PriorityMedium
	default:
		return entity.PriorityLow
	}
}
