package http

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ApprovalGate is the part of the approval gate the UI drives
type ApprovalGate interface {
	Pending() []*entity.ApprovalRequest
	Request(id string) (*entity.ApprovalRequest, bool)
	Decide(ctx context.Context, requestID string, d approval.Decision) (*entity.ApprovalRequest, error)
	Cancel(ctx context.Context, requestID, actor, reason string) (*entity.ApprovalRequest, error)
	Revoke(ctx context.Context, requestID, actor, reason string) (*entity.ApprovalRequest, error)
	AssessBatch(requestIDs []string) (approval.BatchAssessment, error)
	ApproveBatch(ctx context.Context, requestIDs []string, actor, reason string) ([]*entity.ApprovalRequest, error)
	Violations() []entity.SafetyViolation
	Audit(ctx context.Context, filter port.AuditFilter) ([]*entity.AuditEntry, error)
	AuditStats(ctx context.Context, filter port.AuditFilter) (approval.AuditStats, error)
}

// TaskReader gives read access to the annotated tasks
type TaskReader interface {
	Task(id string) (*entity.Task, bool)
	Tasks() []*entity.Task
}

// AuditExporter renders audit entries into a downloadable document
type AuditExporter interface {
	Export(entries []*entity.AuditEntry) ([]byte, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
	now    func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger, now: time.Now}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// LoadTasksRequest replaces the plan's task set
type LoadTasksRequest struct {
	Tasks []*entity.Task `json:"tasks" binding:"required"`
}

// BuildPlanRequest carries the user's answers to decision conditions
type BuildPlanRequest struct {
	Decisions map[string]bool `json:"decisions"`
}

// CompleteRequest reports a successful execution
type CompleteRequest struct {
	Output string `json:"output"`
}

// FailRequest reports a failed execution
type FailRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// WaitRequest parks a task until a signal with Token arrives.
// Timeout is a Go duration string; empty means no timeout.
type WaitRequest struct {
	Token   string `json:"token" binding:"required"`
	Timeout string `json:"timeout"`
}

// SignalRequest releases a waiting task
type SignalRequest struct {
	Token string `json:"token" binding:"required"`
}

// ActorRequest is the body of cancel and revoke
type ActorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// BatchRequest names a set of approval requests
type BatchRequest struct {
	RequestIDs []string `json:"request_ids"`
	Actor      string   `json:"actor"`
	Reason     string   `json:"reason"`
}

// SnapshotRequest names a snapshot to save
type SnapshotRequest struct {
	Name string `json:"name" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	version := h.deps.Version
	if version == "" {
		version = "dev"
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: h.now().UTC().Format(time.RFC3339),
			Version:   version,
		},
	})
}

// LoadTasks handles POST /api/v1/plan/tasks
func (h *Handlers) LoadTasks(c *gin.Context) {
	var req LoadTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid task list: "+err.Error())
		return
	}

	analysis, err := h.deps.Planning.LoadTasks(c.Request.Context(), req.Tasks)
	if err != nil {
		h.fail(c, "load tasks", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: analysis})
}

// ListTasks handles GET /api/v1/plan/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.deps.Tasks.Tasks()})
}

// GetTask handles GET /api/v1/plan/tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	task, ok := h.deps.Tasks.Task(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: task})
}

// AddBranch handles POST /api/v1/plan/branches
func (h *Handlers) AddBranch(c *gin.Context) {
	var branch flow.Branch
	if err := c.ShouldBindJSON(&branch); err != nil {
		h.badRequest(c, "invalid branch: "+err.Error())
		return
	}
	if err := h.deps.Planning.AddBranch(c.Request.Context(), branch); err != nil {
		h.fail(c, "add branch", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: gin.H{"id": branch.ID}})
}

// Analyze handles GET /api/v1/plan/analysis
func (h *Handlers) Analyze(c *gin.Context) {
	analysis, err := h.deps.Planning.Analyze(c.Request.Context())
	if err != nil {
		h.fail(c, "analyze", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: analysis})
}

// BuildPlan handles POST /api/v1/plan
func (h *Handlers) BuildPlan(c *gin.Context) {
	var req BuildPlanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid decisions: "+err.Error())
			return
		}
	}

	plan, err := h.deps.Planning.BuildPlan(c.Request.Context(), req.Decisions)
	if err != nil {
		h.fail(c, "build plan", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: plan})
}

// GetPlan handles GET /api/v1/plan
func (h *Handlers) GetPlan(c *gin.Context) {
	plan, ok := h.deps.Planning.CurrentPlan()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no execution plan built"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: plan})
}

// RequestApprovals handles POST /api/v1/plan/approvals
func (h *Handlers) RequestApprovals(c *gin.Context) {
	reqs, err := h.deps.Planning.RequestApprovals(c.Request.Context())
	if err != nil {
		h.fail(c, "request approvals", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: reqs})
}

// StartTask handles POST /api/v1/tasks/:id/start
func (h *Handlers) StartTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Planning.StartTask(c.Request.Context(), id); err != nil {
		h.fail(c, "start task", err)
		return
	}
	h.respondTask(c, id)
}

// CompleteTask handles POST /api/v1/tasks/:id/complete
func (h *Handlers) CompleteTask(c *gin.Context) {
	var req CompleteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid body: "+err.Error())
			return
		}
	}

	id := c.Param("id")
	if err := h.deps.Planning.CompleteTask(c.Request.Context(), id, req.Output); err != nil {
		h.fail(c, "complete task", err)
		return
	}
	h.respondTask(c, id)
}

// FailTask handles POST /api/v1/tasks/:id/fail
func (h *Handlers) FailTask(c *gin.Context) {
	var req FailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "a failure reason is required")
		return
	}

	id := c.Param("id")
	if err := h.deps.Planning.FailTask(c.Request.Context(), id, req.Reason); err != nil {
		h.fail(c, "fail task", err)
		return
	}
	h.respondTask(c, id)
}

// RegisterWait handles POST /api/v1/tasks/:id/wait
func (h *Handlers) RegisterWait(c *gin.Context) {
	var req WaitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "a wait token is required")
		return
	}
	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			h.badRequest(c, "invalid timeout: "+req.Timeout)
			return
		}
		timeout = d
	}

	id := c.Param("id")
	if err := h.deps.Planning.RegisterWait(c.Request.Context(), id, req.Token, timeout); err != nil {
		h.fail(c, "register wait", err)
		return
	}
	h.respondTask(c, id)
}

// Signal handles POST /api/v1/tasks/:id/signal
func (h *Handlers) Signal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "a signal token is required")
		return
	}

	id := c.Param("id")
	if err := h.deps.Planning.Signal(c.Request.Context(), id, req.Token); err != nil {
		h.fail(c, "signal", err)
		return
	}
	h.respondTask(c, id)
}

func (h *Handlers) respondTask(c *gin.Context, id string) {
	task, _ := h.deps.Tasks.Task(id)
	c.JSON(http.StatusOK, Response{Success: true, Data: task})
}

// ListPending handles GET /api/v1/approvals
func (h *Handlers) ListPending(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.deps.Gate.Pending()})
}

// GetApproval handles GET /api/v1/approvals/:id
func (h *Handlers) GetApproval(c *gin.Context) {
	req, ok := h.deps.Gate.Request(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: approval.ErrRequestNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// Decide handles POST /api/v1/approvals/:id/decision
func (h *Handlers) Decide(c *gin.Context) {
	var d approval.Decision
	if err := c.ShouldBindJSON(&d); err != nil {
		h.badRequest(c, "invalid decision: "+err.Error())
		return
	}

	req, err := h.deps.Gate.Decide(c.Request.Context(), c.Param("id"), d)
	if err != nil {
		h.fail(c, "decide", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// Cancel handles POST /api/v1/approvals/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	h.terminate(c, "cancel", h.deps.Gate.Cancel)
}

// Revoke handles POST /api/v1/approvals/:id/revoke
func (h *Handlers) Revoke(c *gin.Context) {
	h.terminate(c, "revoke", h.deps.Gate.Revoke)
}

func (h *Handlers) terminate(c *gin.Context, op string, fn func(context.Context, string, string, string) (*entity.ApprovalRequest, error)) {
	var req ActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid body: "+err.Error())
		return
	}

	res, err := fn(c.Request.Context(), c.Param("id"), req.Actor, req.Reason)
	if err != nil {
		h.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: res})
}

// AssessBatch handles POST /api/v1/batch/assess
func (h *Handlers) AssessBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid batch: "+err.Error())
		return
	}

	assessment, err := h.deps.Gate.AssessBatch(req.RequestIDs)
	if err != nil {
		h.fail(c, "assess batch", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: assessment})
}

// ApproveBatch handles POST /api/v1/batch/approve
func (h *Handlers) ApproveBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid batch: "+err.Error())
		return
	}

	approved, err := h.deps.Gate.ApproveBatch(c.Request.Context(), req.RequestIDs, req.Actor, req.Reason)
	if err != nil {
		h.fail(c, "approve batch", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: approved})
}

// ListViolations handles GET /api/v1/violations
func (h *Handlers) ListViolations(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.deps.Gate.Violations()})
}

// ListAudit handles GET /api/v1/audit
func (h *Handlers) ListAudit(c *gin.Context) {
	filter, ok := h.auditFilter(c)
	if !ok {
		return
	}
	entries, err := h.deps.Gate.Audit(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "list audit", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// AuditStats handles GET /api/v1/audit/stats
func (h *Handlers) AuditStats(c *gin.Context) {
	filter, ok := h.auditFilter(c)
	if !ok {
		return
	}
	stats, err := h.deps.Gate.AuditStats(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "audit stats", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// ExportAudit handles GET /api/v1/audit/export. The workbook is also kept
// in file storage when one is configured.
func (h *Handlers) ExportAudit(c *gin.Context) {
	if h.deps.Exporter == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "audit export not configured"})
		return
	}
	filter, ok := h.auditFilter(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	entries, err := h.deps.Gate.Audit(ctx, filter)
	if err != nil {
		h.fail(c, "export audit", err)
		return
	}
	content, err := h.deps.Exporter.Export(entries)
	if err != nil {
		h.fail(c, "export audit", err)
		return
	}

	name := report.FileName(h.now())
	if h.deps.Storage != nil {
		if err := h.deps.Storage.Save(ctx, path.Join("audit", name), content); err != nil {
			h.logger.Error("Failed to store audit export", "file", name, "error", err)
		} else {
			h.logger.Info("Audit export stored", "file", name, "entries", len(entries))
		}
	}

	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, content)
}

// auditFilter reads the audit query string. On failure it has already responded.
func (h *Handlers) auditFilter(c *gin.Context) (port.AuditFilter, bool) {
	filter := port.AuditFilter{
		CommandContains: strings.TrimSpace(c.Query("command")),
		TaskID:          c.Query("task_id"),
		Decision:        entity.AuditDecision(c.Query("decision")),
		RiskZone:        entity.RiskZone(c.Query("risk_zone")),
	}

	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.badRequest(c, "invalid "+key+" time: "+raw)
			return port.AuditFilter{}, false
		}
		*dst = t
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.badRequest(c, "invalid limit: "+raw)
			return port.AuditFilter{}, false
		}
		filter.Limit = limit
	}
	return filter, true
}

// ListSnapshots handles GET /api/v1/snapshots
func (h *Handlers) ListSnapshots(c *gin.Context) {
	if h.deps.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "snapshot store not configured"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.badRequest(c, "invalid limit: "+raw)
			return
		}
		limit = n
	}

	snaps, err := h.deps.Snapshots.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "list snapshots", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: snaps})
}

// SaveSnapshot handles POST /api/v1/snapshots
func (h *Handlers) SaveSnapshot(c *gin.Context) {
	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "a snapshot name is required")
		return
	}

	snap, err := h.deps.Planning.SaveSnapshot(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, "save snapshot", err)
		return
	}
	snap.Payload = nil
	c.JSON(http.StatusCreated, Response{Success: true, Data: snap})
}

// RestoreSnapshot handles POST /api/v1/snapshots/:id/restore
func (h *Handlers) RestoreSnapshot(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Planning.RestoreSnapshot(c.Request.Context(), id); err != nil {
		h.fail(c, "restore snapshot", err)
		return
	}
	plan, _ := h.deps.Planning.CurrentPlan()
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"snapshot_id": id, "plan": plan}})
}
