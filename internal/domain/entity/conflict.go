package entity

import (
	"sort"
	"strings"
)

// Conflict is a detected incompatibility between tasks along one dimension.
type Conflict struct {
	ID          string    `json:"id" yaml:"id"`
	Dimension   Dimension `json:"dimension" yaml:"dimension"`
	Severity    Severity  `json:"severity" yaml:"severity"`
	TaskIDs     []string  `json:"task_ids" yaml:"task_ids"`
	Description string    `json:"description" yaml:"description"`
	Resolution  string    `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	CanProceed  bool      `json:"can_proceed" yaml:"can_proceed"`
}

// NewConflict builds a conflict with a deterministic id. CanProceed is false
// only for critical severity.
func NewConflict(dim Dimension, sev Severity, taskIDs []string, description, resolution string) *Conflict {
	ids := append([]string(nil), taskIDs...)
	sort.Strings(ids)
	return &Conflict{
		ID:          conflictID(dim, description, ids),
		Dimension:   dim,
		Severity:    sev,
		TaskIDs:     ids,
		Description: description,
		Resolution:  resolution,
		CanProceed:  sev != SeverityCritical,
	}
}

// Involves reports whether the task participates in the conflict.
func (c *Conflict) Involves(taskID string) bool {
	for _, id := range c.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Others returns the participating ids except taskID.
func (c *Conflict) Others(taskID string) []string {
	out := make([]string, 0, len(c.TaskIDs))
	for _, id := range c.TaskIDs {
		if id != taskID {
			out = append(out, id)
		}
	}
	return out
}

func conflictID(dim Dimension, description string, ids []string) string {
	kind := description
	if i := strings.Index(kind, ":"); i > 0 {
		kind = kind[:i]
	}
	kind = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(kind), " ", "-"))
	return string(dim) + "/" + kind + "/" + strings.Join(ids, "+")
}
