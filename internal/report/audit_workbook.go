// Package report renders the audit log as an xlsx workbook for compliance review.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/domain/entity"
)

const (
	// AuditSheet lists one row per audit entry
	AuditSheet = "Audit"
	// SummarySheet holds the aggregated statistics
	SummarySheet = "Summary"

	timeLayout = "2006-01-02 15:04:05"
)

var auditHeader = []interface{}{
	"Entry ID", "Request ID", "Task ID", "Command", "Decision", "Actor", "Reason",
	"Risk Zone", "Risk Score", "Confidence", "Warnings", "Requested At", "Decided At",
	"Latency (s)", "Outcome", "Outcome Error",
}

// AuditExporter writes audit entries to an Excel workbook
type AuditExporter struct {
	logger *zap.Logger
	loc    *time.Location
}

// NewAuditExporter creates a new exporter. Timestamps are rendered in loc,
// or UTC when loc is nil.
func NewAuditExporter(loc *time.Location, logger *zap.Logger) *AuditExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AuditExporter{logger: logger, loc: loc}
}

// Export renders entries (oldest first) and their statistics into an xlsx document
func (e *AuditExporter) Export(entries []*entity.AuditEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", AuditSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := e.writeEntries(f, entries, header); err != nil {
		return nil, err
	}
	if err := e.writeSummary(f, approval.ComputeAuditStats(entries), header); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Audit workbook exported",
		zap.Int("entries", len(entries)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (e *AuditExporter) writeEntries(f *excelize.File, entries []*entity.AuditEntry, header int) error {
	if err := f.SetSheetRow(AuditSheet, "A1", &auditHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(auditHeader), 1)
	if err := f.SetCellStyle(AuditSheet, "A1", last, header); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, entry := range entries {
		row := e.entryRow(entry)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(AuditSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	e.setWidth(f, AuditSheet, "A", "C", 38)
	e.setWidth(f, AuditSheet, "D", "D", 48)
	e.setWidth(f, AuditSheet, "G", "G", 40)
	e.setWidth(f, AuditSheet, "L", "M", 20)

	if err := f.SetPanes(AuditSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		e.logger.Warn("Failed to freeze header row", zap.Error(err))
	}
	return nil
}

func (e *AuditExporter) entryRow(entry *entity.AuditEntry) []interface{} {
	outcome, outcomeErr := "", ""
	if entry.Outcome != nil {
		outcome = "failed"
		if entry.Outcome.Success {
			outcome = "succeeded"
		}
		outcomeErr = entry.Outcome.Error
	}
	return []interface{}{
		entry.ID,
		entry.RequestID,
		entry.TaskID,
		entry.Command,
		string(entry.Decision),
		entry.Actor,
		entry.Reason,
		string(entry.RiskZone),
		entry.RiskScore,
		entry.Confidence,
		entry.WarningCount,
		e.format(entry.RequestedAt),
		e.format(entry.DecidedAt),
		entry.DecisionLatency().Seconds(),
		outcome,
		outcomeErr,
	}
}

func (e *AuditExporter) writeSummary(f *excelize.File, stats approval.AuditStats, header int) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Total entries", stats.Total},
		{"Approval rate", stats.ApprovalRate},
		{"Executed", stats.Executed},
		{"Succeeded", stats.Succeeded},
		{"Success rate", stats.SuccessRate},
		{"Mean decision latency (s)", stats.MeanDecisionLatency.Seconds()},
		{"Safety violations", stats.Violations},
	}

	decisions := make([]string, 0, len(stats.ByDecision))
	for d := range stats.ByDecision {
		decisions = append(decisions, string(d))
	}
	sort.Strings(decisions)
	for _, d := range decisions {
		rows = append(rows, []interface{}{"Decision: " + d, stats.ByDecision[entity.AuditDecision(d)]})
	}

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", header); err != nil {
		return fmt.Errorf("failed to style summary header: %w", err)
	}
	e.setWidth(f, SummarySheet, "A", "A", 30)
	return nil
}

func (e *AuditExporter) setWidth(f *excelize.File, sheet, from, to string, width float64) {
	if err := f.SetColWidth(sheet, from, to, width); err != nil {
		e.logger.Warn("Failed to set column width",
			zap.String("sheet", sheet),
			zap.String("columns", from+":"+to),
			zap.Error(err))
	}
}

func (e *AuditExporter) format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(e.loc).Format(timeLayout)
}

// FileName returns the export name for the given moment, e.g. audit-20250301-120000.xlsx
func FileName(at time.Time) string {
	return "audit-" + at.UTC().Format("20060102-150405") + ".xlsx"
}
