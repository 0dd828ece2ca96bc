package service

import (
	"context"
	"time"

	"github.com/garyjia/execution-gate/internal/application/dispatcher"
	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/event"
)

// RequestLookup resolves approval requests by id
type RequestLookup interface {
	Request(id string) (*entity.ApprovalRequest, bool)
}

// NotificationService forwards gate events to human approvers
type NotificationService interface {
	// Register subscribes the service to the dispatcher
	Register(d dispatcher.Dispatcher)
	HandleApprovalRequested(ctx context.Context, evt *event.Event) error
	HandleSafetyViolation(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	requests RequestLookup
	notifier port.Notifier
	timeout  time.Duration
	logger   Logger
}

// NewNotificationService creates a new NotificationService. Each notification
// is bounded by timeout.
func NewNotificationService(requests RequestLookup, notifier port.Notifier, timeout time.Duration, logger Logger) NotificationService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &notificationServiceImpl{
		requests: requests,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeApprovalRequested, "notify-approval-requested", s.HandleApprovalRequested)
	d.SubscribeNamed(event.TypeSafetyViolation, "notify-safety-violation", s.HandleSafetyViolation)
}

// HandleApprovalRequested notifies approvers about a new request. Delivery
// failures are logged and swallowed so later handlers still run.
func (s *notificationServiceImpl) HandleApprovalRequested(ctx context.Context, evt *event.Event) error {
	req, ok := s.requests.Request(evt.RequestID)
	if !ok {
		s.logger.Error("Approval request vanished before notification", "request_id", evt.RequestID)
		return nil
	}
	if req.Status != entity.ApprovalPending {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.notifier.NotifyApprovalRequested(ctx, req); err != nil {
		s.logger.Error("Failed to notify approvers", "request_id", req.ID, "task_id", req.TaskID(), "error", err)
		return nil
	}
	s.logger.Info("Approvers notified", "request_id", req.ID, "task_id", req.TaskID())
	return nil
}

// HandleSafetyViolation alerts approvers that an automated actor tried to decide
func (s *notificationServiceImpl) HandleSafetyViolation(ctx context.Context, evt *event.Event) error {
	v := entity.SafetyViolation{
		RequestID:  evt.RequestID,
		TaskID:     evt.TaskID,
		Actor:      evt.GetPayloadString("actor"),
		Kind:       evt.GetPayloadString("kind"),
		Detail:     evt.GetPayloadString("detail"),
		OccurredAt: evt.Timestamp,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.notifier.NotifySafetyViolation(ctx, v); err != nil {
		s.logger.Error("Failed to report safety violation", "request_id", v.RequestID, "actor", v.Actor, "error", err)
		return nil
	}
	s.logger.Info("Safety violation reported", "request_id", v.RequestID, "actor", v.Actor, "kind", v.Kind)
	return nil
}
