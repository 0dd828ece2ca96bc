package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/execution-gate/internal/domain/event"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) has(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func (m *mockLogger) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newEvt(t event.Type) *event.Event {
	return event.NewEvent(t, "req-1", "task-1", nil)
}

func TestDispatch_RunsHandlersInOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string

	d.SubscribeNamed(event.TypeApprovalDecided, "first", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "first")
		return nil
	})
	d.SubscribeNamed(event.TypeApprovalDecided, "second", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "second")
		return nil
	})
	d.SubscribeNamed(AnyType, "audit", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "audit")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), newEvt(event.TypeApprovalDecided)))
	assert.Equal(t, []string{"first", "second", "audit"}, order)
}

func TestDispatch_WildcardSeesEveryType(t *testing.T) {
	d := NewDispatcher()
	var seen []event.Type
	d.Subscribe(AnyType, func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, evt.Type)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, newEvt(event.TypeApprovalRequested)))
	require.NoError(t, d.Dispatch(ctx, newEvt(event.TypeTaskStatusChanged)))
	assert.Equal(t, []event.Type{event.TypeApprovalRequested, event.TypeTaskStatusChanged}, seen)
}

func TestDispatch_StopsOnFirstError(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	boom := errors.New("boom")
	called := false

	d.SubscribeNamed(event.TypeApprovalExpired, "failing", func(ctx context.Context, evt *event.Event) error {
		return boom
	})
	d.SubscribeNamed(event.TypeApprovalExpired, "after", func(ctx context.Context, evt *event.Event) error {
		called = true
		return nil
	})

	err := d.Dispatch(context.Background(), newEvt(event.TypeApprovalExpired))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")
	assert.False(t, called)
	assert.Equal(t, 1, logger.errorCount())
}

func TestDispatch_RecoversPanics(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(event.TypeSafetyViolation, func(ctx context.Context, evt *event.Event) error {
		panic("handler exploded")
	})

	err := d.Dispatch(context.Background(), newEvt(event.TypeSafetyViolation))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var calls []string
	d.SubscribeNamed(event.TypeApprovalRevoked, "a", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "a")
		return nil
	})
	d.SubscribeNamed(event.TypeApprovalRevoked, "b", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "b")
		return nil
	})

	d.Unsubscribe(event.TypeApprovalRevoked, "a")
	require.NoError(t, d.Dispatch(context.Background(), newEvt(event.TypeApprovalRevoked)))
	assert.Equal(t, []string{"b"}, calls)
}

func TestSubscribe_GeneratesUniqueNames(t *testing.T) {
	d := NewDispatcher()
	noop := func(ctx context.Context, evt *event.Event) error { return nil }

	d.Subscribe(event.TypePlanCreated, noop)
	d.Subscribe(event.TypePlanCreated, noop)
	d.Unsubscribe(event.TypePlanCreated, "handler-0")
	d.Subscribe(event.TypePlanCreated, noop)

	handlers := d.ListHandlers(event.TypePlanCreated)
	require.Len(t, handlers, 2)
	assert.Equal(t, "handler-1", handlers[0].Name)
	assert.Equal(t, "handler-2", handlers[1].Name)
	assert.Nil(t, handlers[0].Handler)
}

func TestDispatchAsync_CloseWaits(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	var count atomic.Int32

	for i := 0; i < 3; i++ {
		d.SubscribeNamed(event.TypeTaskStatusChanged, fmt.Sprintf("slow-%d", i), func(ctx context.Context, evt *event.Event) error {
			time.Sleep(10 * time.Millisecond)
			count.Add(1)
			return nil
		})
	}

	d.DispatchAsync(context.Background(), newEvt(event.TypeTaskStatusChanged))
	require.NoError(t, d.Close())
	assert.Equal(t, int32(3), count.Load())
	assert.True(t, logger.has("Dispatcher closed"))
}

func TestClose(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))

	require.NoError(t, d.Close())
	assert.Error(t, d.Close())
	assert.ErrorIs(t, d.Dispatch(context.Background(), newEvt(event.TypePlanCreated)), ErrClosed)

	d.DispatchAsync(context.Background(), newEvt(event.TypePlanCreated))
	assert.Equal(t, 1, logger.errorCount())
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.SubscribeNamed(event.TypeApprovalDecided, fmt.Sprintf("h-%d", id), func(ctx context.Context, evt *event.Event) error {
				count.Add(1)
				return nil
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newEvt(event.TypeApprovalDecided))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), count.Load())
	assert.Len(t, d.ListHandlers(event.TypeApprovalDecided), 10)
}
