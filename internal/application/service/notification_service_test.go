package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/execution-gate/internal/application/dispatcher"
	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/domain/event"
	"github.com/garyjia/execution-gate/internal/graph"
)

type mockNotifier struct {
	requestedFunc func(ctx context.Context, req *entity.ApprovalRequest) error
	requested     []*entity.ApprovalRequest
	violations    []entity.SafetyViolation
}

func (m *mockNotifier) NotifyApprovalRequested(ctx context.Context, req *entity.ApprovalRequest) error {
	m.requested = append(m.requested, req)
	if m.requestedFunc != nil {
		return m.requestedFunc(ctx, req)
	}
	return nil
}

func (m *mockNotifier) NotifySafetyViolation(ctx context.Context, v entity.SafetyViolation) error {
	m.violations = append(m.violations, v)
	return nil
}

func TestNotificationService_ForwardsGateEvents(t *testing.T) {
	engine := graph.NewEngine()
	require.NoError(t, engine.Load([]*entity.Task{task("deploy")}))
	engine.Annotate()

	d := dispatcher.NewDispatcher()
	gate := approval.NewGate(engine, nil, approval.WithDispatcher(d))
	notifier := &mockNotifier{}
	NewNotificationService(gate, notifier, time.Second, &mockLogger{}).Register(d)

	ctx := context.Background()
	req, err := gate.CreateRequest(ctx, "deploy")
	require.NoError(t, err)
	require.Len(t, notifier.requested, 1)
	assert.Equal(t, req.ID, notifier.requested[0].ID)

	_, err = gate.Decide(ctx, req.ID, approval.Decision{Action: approval.ActionApprove, Actor: "deploy-bot"})
	require.ErrorIs(t, err, approval.ErrSafetyViolation)
	require.Len(t, notifier.violations, 1)
	assert.Equal(t, "deploy-bot", notifier.violations[0].Actor)
	assert.Equal(t, req.ID, notifier.violations[0].RequestID)
	assert.Equal(t, entity.ViolationAutomatedApproval, notifier.violations[0].Kind)
}

func TestNotificationService_SwallowsDeliveryErrors(t *testing.T) {
	engine := graph.NewEngine()
	require.NoError(t, engine.Load([]*entity.Task{task("deploy")}))

	gate := approval.NewGate(engine, nil)
	req, err := gate.CreateRequest(context.Background(), "deploy")
	require.NoError(t, err)

	var deadline bool
	notifier := &mockNotifier{requestedFunc: func(ctx context.Context, _ *entity.ApprovalRequest) error {
		_, deadline = ctx.Deadline()
		return errors.New("lark unavailable")
	}}
	svc := NewNotificationService(gate, notifier, 0, &mockLogger{})

	evt := event.NewEvent(event.TypeApprovalRequested, req.ID, "deploy", nil)
	assert.NoError(t, svc.HandleApprovalRequested(context.Background(), evt))
	assert.True(t, deadline)

	// unknown and decided requests are skipped
	assert.NoError(t, svc.HandleApprovalRequested(context.Background(), event.NewEvent(event.TypeApprovalRequested, "ghost", "", nil)))
	assert.Len(t, notifier.requested, 1)
}
