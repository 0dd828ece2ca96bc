package entity

// TaskStatus is a task lifecycle state owned by the time layer.
type TaskStatus string

const (
	TaskScheduled           TaskStatus = "SCHEDULED"
	TaskWaitingDependencies TaskStatus = "WAITING_DEPENDENCIES"
	TaskWaitingSignal       TaskStatus = "WAITING_SIGNAL"
	TaskReady               TaskStatus = "READY"
	TaskExecuting           TaskStatus = "EXECUTING"
	TaskCompleted           TaskStatus = "COMPLETED"
	TaskFailed              TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Priority is the derived scheduling tier.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities, critical highest.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// SystemLayer is the structural layer a task touches.
type SystemLayer string

const (
	LayerUI             SystemLayer = "ui"
	LayerAPI            SystemLayer = "api"
	LayerService        SystemLayer = "service"
	LayerData           SystemLayer = "data"
	LayerInfrastructure SystemLayer = "infrastructure"
)

// ChangeType is the category of change a task performs.
type ChangeType string

const (
	ChangeUI           ChangeType = "ui"
	ChangeWiring       ChangeType = "wiring"
	ChangeConfig       ChangeType = "config"
	ChangeLogic        ChangeType = "logic"
	ChangeStorage      ChangeType = "storage"
	ChangeArchitecture ChangeType = "architecture"
)

// IsStructural reports whether the change touches storage or architecture.
func (c ChangeType) IsStructural() bool {
	return c == ChangeStorage || c == ChangeArchitecture
}

// ImpactLevel is the coarse size of a change.
type ImpactLevel string

const (
	ImpactSmall    ImpactLevel = "small"
	ImpactMedium   ImpactLevel = "medium"
	ImpactLarge    ImpactLevel = "large"
	ImpactCritical ImpactLevel = "critical"
)

// CascadeKind describes how a cascade effect changes its target.
type CascadeKind string

const (
	CascadeForces      CascadeKind = "forces"
	CascadeInvalidates CascadeKind = "invalidates"
)

// ExecutionMode is an execution context a task can be allowed to run under.
type ExecutionMode string

const (
	ModeDryRun    ExecutionMode = "dry-run"
	ModeSimulated ExecutionMode = "simulated"
	ModeLive      ExecutionMode = "live"
)

// RiskLevel is the authored safety classification.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity grades conflicts and cascade effects.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, critical highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Dimension tags which classification axis produced a conflict.
type Dimension string

const (
	DimensionTemporal Dimension = "temporal"
	DimensionScope    Dimension = "scope"
	DimensionImpact   Dimension = "impact"
	DimensionMode     Dimension = "mode"
	DimensionResource Dimension = "resource"
)

// RiskZone buckets a numeric risk score for operators.
type RiskZone string

const (
	ZoneGreen  RiskZone = "green"
	ZoneYellow RiskZone = "yellow"
	ZoneRed    RiskZone = "red"
)

// ZoneForScore maps a 0-100 risk score onto a zone.
func ZoneForScore(score float64) RiskZone {
	switch {
	case score >= 70:
		return ZoneRed
	case score >= 30:
		return ZoneYellow
	default:
		return ZoneGreen
	}
}

// IsValid reports whether l is one of the known layers.
func (l SystemLayer) IsValid() bool {
	switch l {
	case LayerUI, LayerAPI, LayerService, LayerData, LayerInfrastructure:
		return true
	}
	return false
}

// IsValid reports whether m is one of the known modes.
func (m ExecutionMode) IsValid() bool {
	switch m {
	case ModeDryRun, ModeSimulated, ModeLive:
		return true
	}
	return false
}
