package port

import (
	"context"

	"github.com/garyjia/execution-gate/internal/domain/entity"
)

// MessageSender defines chat message operations of an external messenger
type MessageSender interface {
	SendText(ctx context.Context, chatID string, content string) error
	SendCard(ctx context.Context, chatID string, card interface{}) error
}

// Notifier tells human approvers that the gate needs them
type Notifier interface {
	NotifyApprovalRequested(ctx context.Context, req *entity.ApprovalRequest) error
	NotifySafetyViolation(ctx context.Context, v entity.SafetyViolation) error
}
