package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/application/service"
	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/workflow"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
)

// statusRules is checked in order. ErrSafetyViolation comes first because
// a missing override wraps it together with ErrOverrideRequired.
var statusRules = []struct {
	status int
	errs   []error
}{
	{http.StatusForbidden, []error{approval.ErrSafetyViolation}},
	{http.StatusGone, []error{approval.ErrRequestExpired}},
	{http.StatusNotFound, []error{
		approval.ErrRequestNotFound,
		approval.ErrTaskNotFound,
		port.ErrSnapshotNotFound,
		port.ErrAuditEntryNotFound,
		graph.ErrUnknownTask,
		graph.ErrUnknownEdge,
		dimension.ErrTaskNotFound,
	}},
	{http.StatusConflict, []error{
		approval.ErrAlreadyDecided,
		approval.ErrNotApproved,
		approval.ErrBatchNotAllowed,
		service.ErrPlanVetoed,
		service.ErrNoPlan,
		service.ErrExecutionNotApproved,
		service.ErrNotInPlan,
		graph.ErrDuplicateTask,
		graph.ErrCycle,
		flow.ErrDuplicateBranch,
		workflow.ErrInvalidTransition,
		workflow.ErrGuardFailed,
		dimension.ErrSignalMismatch,
		dimension.ErrNoWait,
		port.ErrOutcomeRecorded,
	}},
	{http.StatusBadRequest, []error{
		approval.ErrMissingActor,
		approval.ErrInvalidAction,
		approval.ErrMissingCommand,
		graph.ErrInvalidTask,
		graph.ErrInvalidSnapshot,
		flow.ErrInvalidBranch,
		flow.ErrMalformedCondition,
	}},
}

// statusFor maps a domain error to an HTTP status code
func statusFor(err error) int {
	for _, rule := range statusRules {
		for _, target := range rule.errs {
			if errors.Is(err, target) {
				return rule.status
			}
		}
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the body of a failed request. Cycle carries the offending
// path when the graph rejected a dependency.
type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Cycle   []string `json:"cycle,omitempty"`
}

func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", op, "path", c.Request.URL.Path, "error", err)
	}

	resp := ErrorResponse{Error: err.Error()}
	var gerr *graph.GraphError
	if errors.As(err, &gerr) && len(gerr.Path) > 0 {
		resp.Cycle = gerr.Path
	}
	c.JSON(status, resp)
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
