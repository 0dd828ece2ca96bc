// Package cli renders plans, conflicts and graph statistics for the terminal.
package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
)

const (
	idColumnWidth       = 14
	layerColumnWidth    = 15
	riskColumnWidth     = 6
	durationColumnWidth = 9
	commandColumnWidth  = 44
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))

	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("7"))

	separatorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	criticalMarkStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	mutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("10"))

	failStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("9"))

	severityStyles = map[entity.Severity]lipgloss.Style{
		entity.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		entity.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		entity.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		entity.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
)

// TaskLookup resolves a task id to the annotated task
type TaskLookup func(id string) (*entity.Task, bool)

// RenderPlan prints the stages of a plan. Tasks on the critical path are starred.
func RenderPlan(plan *flow.ExecutionPlan, lookup TaskLookup, critical graph.CriticalPath) string {
	var b strings.Builder

	total := len(plan.TaskIDs())
	b.WriteString(titleStyle.Render(fmt.Sprintf("Plan %s: %d tasks in %d stages", shortID(plan.ID), total, len(plan.Stages))))
	b.WriteString("\n\n")

	headers := strings.Join([]string{
		padRight("Task", idColumnWidth),
		padRight("Layer", layerColumnWidth),
		padRight("Risk", riskColumnWidth),
		padRight("Estimate", durationColumnWidth),
		"Command",
	}, "  ")

	for _, stage := range plan.Stages {
		b.WriteString(headerStyle.Render(fmt.Sprintf("Stage %d", stage.Index+1)))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("  " + headers))
		b.WriteString("\n")
		for _, id := range stage.TaskIDs {
			t, ok := lookup(id)
			if !ok {
				continue
			}
			mark := " "
			if critical.Contains(id) {
				mark = criticalMarkStyle.Render("*")
			}
			b.WriteString(fmt.Sprintf("%s %s  %s  %s  %s  %s\n",
				mark,
				padRight(t.ID, idColumnWidth),
				padRight(string(t.Scope.Layer), layerColumnWidth),
				padRight(fmt.Sprintf("%.0f", t.Impact.Risk()), riskColumnWidth),
				padRight(formatDuration(t.Temporal.EstimatedDuration), durationColumnWidth),
				truncate(t.Command, commandColumnWidth),
			))
		}
		b.WriteString("\n")
	}

	if len(plan.Excluded) > 0 {
		b.WriteString(mutedStyle.Render("Excluded by branch: " + strings.Join(plan.Excluded, ", ")))
		b.WriteString("\n")
	}
	if len(critical.TaskIDs) > 0 {
		b.WriteString(fmt.Sprintf("Critical path (%s): %s\n",
			formatDuration(critical.Duration), strings.Join(critical.TaskIDs, " -> ")))
	}
	return b.String()
}

// RenderConflicts lists conflicts, most severe first.
func RenderConflicts(conflicts []entity.Conflict) string {
	var b strings.Builder

	if len(conflicts) == 0 {
		b.WriteString(okStyle.Render("No conflicts."))
		b.WriteString("\n")
		return b.String()
	}

	sorted := append([]entity.Conflict(nil), conflicts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})

	b.WriteString(titleStyle.Render(fmt.Sprintf("Conflicts (%d)", len(sorted))))
	b.WriteString("\n")
	b.WriteString(separatorStyle.Render(strings.Repeat("-", 60)))
	b.WriteString("\n")
	for _, c := range sorted {
		style, ok := severityStyles[c.Severity]
		if !ok {
			style = lipgloss.NewStyle()
		}
		b.WriteString(fmt.Sprintf("%s  %s  %s\n",
			style.Render(padRight(strings.ToUpper(string(c.Severity)), 8)),
			padRight(string(c.Dimension), 9),
			strings.Join(c.TaskIDs, ", "),
		))
		b.WriteString("    " + c.Description + "\n")
		if c.Resolution != "" {
			b.WriteString(mutedStyle.Render("    fix: "+c.Resolution) + "\n")
		}
	}
	return b.String()
}

// RenderStats prints the graph summary.
func RenderStats(s graph.Statistics) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Graph: %d tasks, %d edges, %d layers", s.Tasks, s.Edges, len(s.Layers))))
	b.WriteString("\n\n")

	rows := [][2]string{
		{"Max depth", fmt.Sprintf("%d", s.MaxDepth)},
		{"Avg fan-in", fmt.Sprintf("%.2f", s.AvgFanIn)},
		{"Avg fan-out", fmt.Sprintf("%.2f", s.AvgFanOut)},
		{"Total estimate", formatDuration(s.TotalDuration)},
		{"Critical path", fmt.Sprintf("%s (%s)", strings.Join(s.CriticalPath.TaskIDs, " -> "), formatDuration(s.CriticalPath.Duration))},
		{"Plan risk", fmt.Sprintf("%.1f", s.PlanRisk)},
	}
	for _, r := range rows {
		b.WriteString(headerStyle.Render(padRight(r[0], 16)))
		b.WriteString(r[1])
		b.WriteString("\n")
	}

	b.WriteString(headerStyle.Render(padRight("Feasible", 16)))
	if s.Feasible {
		b.WriteString(okStyle.Render("yes"))
	} else {
		b.WriteString(failStyle.Render("no"))
	}
	b.WriteString("\n")

	if len(s.ByStatus) > 0 {
		b.WriteString(headerStyle.Render(padRight("By status", 16)))
		b.WriteString(formatCounts(s.ByStatus))
		b.WriteString("\n")
	}
	if len(s.ByPriority) > 0 {
		b.WriteString(headerStyle.Render(padRight("By priority", 16)))
		b.WriteString(formatCounts(s.ByPriority))
		b.WriteString("\n")
	}
	return b.String()
}

// Verdict renders a one-line pass/fail result.
func Verdict(ok bool, msg string) string {
	if ok {
		return okStyle.Render("OK") + "  " + msg
	}
	return failStyle.Render("FAIL") + "  " + msg
}

func formatCounts[K ~string](counts map[K]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[K(k)]))
	}
	return strings.Join(parts, " ")
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}
