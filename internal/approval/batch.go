package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// BatchAssessment tells the UI whether a set of requests may be approved in one step.
type BatchAssessment struct {
	RequestIDs        []string `json:"request_ids"`
	MaxRisk           float64  `json:"max_risk"`
	MeanRisk          float64  `json:"mean_risk"`
	CanApproveAsBatch bool     `json:"can_approve_as_batch"`
	Reasons           []string `json:"reasons,omitempty"`
}

// AssessBatch aggregates member risk. Batch approval is refused when any member
// needs a manual override or is critical, when the mean risk exceeds the
// configured threshold, or when a member is no longer pending.
func (g *Gate) AssessBatch(requestIDs []string) (BatchAssessment, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	a := BatchAssessment{RequestIDs: append([]string(nil), requestIDs...)}
	if len(requestIDs) == 0 {
		a.Reasons = append(a.Reasons, "batch is empty")
		return a, nil
	}

	seen := make(map[string]bool, len(requestIDs))
	var sum float64
	for _, id := range requestIDs {
		req, ok := g.requests[id]
		if !ok {
			return BatchAssessment{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		s := req.Snapshot
		sum += s.RiskScore
		if s.RiskScore > a.MaxRisk {
			a.MaxRisk = s.RiskScore
		}

		task := req.TaskID()
		if s.ManualOverrideRequired {
			a.Reasons = append(a.Reasons, fmt.Sprintf("task %s requires manual override", task))
		}
		if s.RiskLevel == entity.RiskCritical || s.RiskScore >= g.cfg.CriticalRiskScore {
			a.Reasons = append(a.Reasons, fmt.Sprintf("task %s is critical risk (%.0f)", task, s.RiskScore))
		}
		if req.Status != entity.ApprovalPending {
			a.Reasons = append(a.Reasons, fmt.Sprintf("request %s is %s", id, req.Status))
		}
	}
	a.MeanRisk = sum / float64(len(seen))
	if a.MeanRisk > g.cfg.BatchRiskThreshold {
		a.Reasons = append(a.Reasons, fmt.Sprintf("mean risk %.1f exceeds %.1f", a.MeanRisk, g.cfg.BatchRiskThreshold))
	}
	a.CanApproveAsBatch = len(a.Reasons) == 0
	return a, nil
}

// ApproveBatch approves every member individually, one audit entry each.
// When the batch is not allowed nothing is decided.
func (g *Gate) ApproveBatch(ctx context.Context, requestIDs []string, actor, reason string) ([]*entity.ApprovalRequest, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, ErrMissingActor
	}
	if g.IsAutomatedActor(actor) {
		var errs []error
		for _, id := range requestIDs {
			if _, err := g.Decide(ctx, id, Decision{Action: ActionApprove, Actor: actor, Reason: reason}); err != nil {
				errs = append(errs, err)
			}
		}
		return nil, errors.Join(errs...)
	}

	assessment, err := g.AssessBatch(requestIDs)
	if err != nil {
		return nil, err
	}
	if !assessment.CanApproveAsBatch {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotAllowed, strings.Join(assessment.Reasons, "; "))
	}

	decided := make([]*entity.ApprovalRequest, 0, len(requestIDs))
	var errs []error
	for _, id := range requestIDs {
		req, err := g.Decide(ctx, id, Decision{Action: ActionApprove, Actor: actor, Reason: reason})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		decided = append(decided, req)
	}
	return decided, errors.Join(errs...)
}
