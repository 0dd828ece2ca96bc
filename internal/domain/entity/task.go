package entity

import (
	"sort"
	"time"
)

// Task is the unit being scheduled. It is created by an external planning stage
// and annotated in place by the dimension layers and the graph engine.
type Task struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Command string `json:"command" yaml:"command"`

	Temporal TemporalDescriptor `json:"temporal" yaml:"temporal"`
	Scope    ScopeDescriptor    `json:"scope" yaml:"scope"`
	Impact   ImpactDescriptor   `json:"impact" yaml:"impact"`
	Mode     ModeDescriptor     `json:"mode" yaml:"mode"`
	Safety   SafetyDescriptor   `json:"safety" yaml:"safety"`

	Conflicts []TaskConflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`

	Status   TaskStatus `json:"status" yaml:"status"`
	Priority Priority   `json:"priority" yaml:"priority"`

	// Output and Error are recorded when the external executor reports an outcome.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// TemporalDescriptor holds ordering data. Everything below WaitForSignal and
// EstimatedDuration is derived by the graph engine and must not be authored.
type TemporalDescriptor struct {
	ExecutionOrder    int           `json:"execution_order" yaml:"execution_order"`
	Dependencies      []string      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Dependents        []string      `json:"dependents,omitempty" yaml:"dependents,omitempty"`
	WaitForSignal     bool          `json:"wait_for_signal" yaml:"wait_for_signal"`
	EstimatedDuration time.Duration `json:"estimated_duration" yaml:"estimated_duration"`

	Depth       int      `json:"depth" yaml:"depth"`
	FanIn       int      `json:"fan_in" yaml:"fan_in"`
	FanOut      int      `json:"fan_out" yaml:"fan_out"`
	Ancestors   []string `json:"ancestors,omitempty" yaml:"ancestors,omitempty"`
	Descendants []string `json:"descendants,omitempty" yaml:"descendants,omitempty"`

	StartedAt      *time.Time    `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ActualDuration time.Duration `json:"actual_duration,omitempty" yaml:"actual_duration,omitempty"`
}

// ScopeDescriptor describes which structural parts of the system a task touches.
type ScopeDescriptor struct {
	Layer      SystemLayer `json:"layer" yaml:"layer"`
	Subsystems []string    `json:"subsystems,omitempty" yaml:"subsystems,omitempty"`
	Resources  []string    `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// ImpactDescriptor describes how large and how risky a change is.
type ImpactDescriptor struct {
	ChangeType         ChangeType      `json:"change_type" yaml:"change_type"`
	Level              ImpactLevel     `json:"level" yaml:"level"`
	AffectedAreas      []AffectedArea  `json:"affected_areas,omitempty" yaml:"affected_areas,omitempty"`
	CascadeEffects     []CascadeEffect `json:"cascade_effects,omitempty" yaml:"cascade_effects,omitempty"`
	Reversible         bool            `json:"reversible" yaml:"reversible"`
	RollbackComplexity int             `json:"rollback_complexity" yaml:"rollback_complexity"`
	RiskScore          float64         `json:"risk_score" yaml:"risk_score"`
	// EffectiveRisk is RiskScore plus the penalties of the conflicts the task is in.
	EffectiveRisk      float64         `json:"effective_risk,omitempty" yaml:"effective_risk,omitempty"`
}

// Risk returns the conflict-adjusted risk, falling back to the base score
// before the task was analyzed.
func (i ImpactDescriptor) Risk() float64 {
	if i.EffectiveRisk > i.RiskScore {
		return i.EffectiveRisk
	}
	return i.RiskScore
}

// AffectedArea is a named area with a criticality score in [0,100].
type AffectedArea struct {
	Name        string `json:"name" yaml:"name"`
	Criticality int    `json:"criticality" yaml:"criticality"`
}

// CascadeEffect records that completing a task forces or invalidates another area.
type CascadeEffect struct {
	Target   string      `json:"target" yaml:"target"`
	Kind     CascadeKind `json:"kind" yaml:"kind"`
	Severity Severity    `json:"severity" yaml:"severity"`
}

// ModeDescriptor lists the execution modes a task may run under.
type ModeDescriptor struct {
	Allowed      []ExecutionMode            `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Requirements map[ExecutionMode][]string `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// SafetyDescriptor carries the safety metadata the approval gate snapshots.
type SafetyDescriptor struct {
	RiskLevel              RiskLevel     `json:"risk_level" yaml:"risk_level"`
	ConfirmationRequired   bool          `json:"confirmation_required" yaml:"confirmation_required"`
	ManualOverrideRequired bool          `json:"manual_override_required" yaml:"manual_override_required"`
	Checks                 []SafetyCheck `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// SafetyCheck is a named pass/fail check.
type SafetyCheck struct {
	Name          string `json:"name" yaml:"name"`
	Passed        bool   `json:"passed" yaml:"passed"`
	FailureReason string `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
}

// TaskConflict is the per-task view of a conflict record.
type TaskConflict struct {
	ConflictID string    `json:"conflict_id" yaml:"conflict_id"`
	With       []string  `json:"with" yaml:"with"`
	Dimension  Dimension `json:"dimension" yaml:"dimension"`
	Severity   Severity  `json:"severity" yaml:"severity"`
	Blocking   bool      `json:"blocking" yaml:"blocking"`
}

// Confidence returns the fraction of passed safety checks. A task without
// checks has full confidence.
func (s SafetyDescriptor) Confidence() float64 {
	if len(s.Checks) == 0 {
		return 1.0
	}
	passed := 0
	for _, c := range s.Checks {
		if c.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(s.Checks))
}

// FailedChecks returns the checks that did not pass.
func (s SafetyDescriptor) FailedChecks() []SafetyCheck {
	var failed []SafetyCheck
	for _, c := range s.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// AllowsMode reports whether the task may run under the given mode.
// A task with no declared modes is allowed to run as a dry run only.
func (m ModeDescriptor) AllowsMode(mode ExecutionMode) bool {
	if len(m.Allowed) == 0 {
		return mode == ModeDryRun
	}
	for _, allowed := range m.Allowed {
		if allowed == mode {
			return true
		}
	}
	return false
}

// AllowedModes returns the effective allowed modes.
func (m ModeDescriptor) AllowedModes() []ExecutionMode {
	if len(m.Allowed) == 0 {
		return []ExecutionMode{ModeDryRun}
	}
	out := make([]ExecutionMode, len(m.Allowed))
	copy(out, m.Allowed)
	return out
}

// HasDependency reports whether id is a direct dependency.
func (t *Task) HasDependency(id string) bool {
	for _, dep := range t.Temporal.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Temporal.Dependencies = cloneStrings(t.Temporal.Dependencies)
	c.Temporal.Dependents = cloneStrings(t.Temporal.Dependents)
	c.Temporal.Ancestors = cloneStrings(t.Temporal.Ancestors)
	c.Temporal.Descendants = cloneStrings(t.Temporal.Descendants)
	if t.Temporal.StartedAt != nil {
		ts := *t.Temporal.StartedAt
		c.Temporal.StartedAt = &ts
	}
	if t.Temporal.CompletedAt != nil {
		ts := *t.Temporal.CompletedAt
		c.Temporal.CompletedAt = &ts
	}
	c.Scope.Subsystems = cloneStrings(t.Scope.Subsystems)
	c.Scope.Resources = cloneStrings(t.Scope.Resources)
	if t.Impact.AffectedAreas != nil {
		c.Impact.AffectedAreas = append([]AffectedArea(nil), t.Impact.AffectedAreas...)
	}
	if t.Impact.CascadeEffects != nil {
		c.Impact.CascadeEffects = append([]CascadeEffect(nil), t.Impact.CascadeEffects...)
	}
	if t.Mode.Allowed != nil {
		c.Mode.Allowed = append([]ExecutionMode(nil), t.Mode.Allowed...)
	}
	if t.Mode.Requirements != nil {
		c.Mode.Requirements = make(map[ExecutionMode][]string, len(t.Mode.Requirements))
		for k, v := range t.Mode.Requirements {
			c.Mode.Requirements[k] = cloneStrings(v)
		}
	}
	if t.Safety.Checks != nil {
		c.Safety.Checks = append([]SafetyCheck(nil), t.Safety.Checks...)
	}
	if t.Conflicts != nil {
		c.Conflicts = make([]TaskConflict, len(t.Conflicts))
		for i, tc := range t.Conflicts {
			tc.With = cloneStrings(tc.With)
			c.Conflicts[i] = tc
		}
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// SortedIDs returns the keys of an id set in ascending order.
func SortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
