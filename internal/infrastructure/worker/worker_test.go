package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/dimension"
)

type mockWorker struct {
	name     string
	startErr error
	stopErr  error
	order    *[]string
	mu       *sync.Mutex
}

func (w *mockWorker) Start(ctx context.Context) error { return w.startErr }

func (w *mockWorker) Stop() error {
	w.mu.Lock()
	*w.order = append(*w.order, w.name)
	w.mu.Unlock()
	return w.stopErr
}

func (w *mockWorker) Name() string { return w.name }

func TestManager_Lifecycle(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)
	m := NewManager(zap.NewNop())
	m.Register(&mockWorker{name: "a", order: &order, mu: &mu})
	m.Register(&mockWorker{name: "broken", startErr: errors.New("boom"), order: &order, mu: &mu})
	m.Register(&mockWorker{name: "c", order: &order, mu: &mu})
	assert.Equal(t, 3, m.WorkerCount())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"c", "a"}, order)

	require.NoError(t, m.StopAll())
}

func TestManager_StopErrorsAreJoined(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)
	stopErr := errors.New("stuck")
	m := NewManager(nil)
	m.Register(&mockWorker{name: "a", stopErr: stopErr, order: &order, mu: &mu})

	require.NoError(t, m.StartAll(context.Background()))
	err := m.StopAll()
	assert.ErrorIs(t, err, stopErr)
}

type mockSweeper struct {
	calls atomic.Int32
	ids   []string
}

func (m *mockSweeper) SweepExpired(ctx context.Context, now time.Time) []string {
	m.calls.Add(1)
	return m.ids
}

func TestExpirySweeper_RunsImmediatelyAndOnTicks(t *testing.T) {
	gate := &mockSweeper{ids: []string{"req-1"}}
	s := NewExpirySweeper(gate, 5*time.Millisecond, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return gate.calls.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	calls := gate.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, gate.calls.Load())
	require.NoError(t, s.Stop())
}

func TestExpirySweeper_RejectsZeroInterval(t *testing.T) {
	s := NewExpirySweeper(&mockSweeper{}, 0, nil)
	assert.Error(t, s.Start(context.Background()))
}

type mockWaitSource struct {
	mu    sync.Mutex
	waits []dimension.WaitState
}

func (m *mockWaitSource) ExpiredWaits(now time.Time) []dimension.WaitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dimension.WaitState(nil), m.waits...)
}

func TestWaitMonitor_ReportsOnce(t *testing.T) {
	registered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &mockWaitSource{waits: []dimension.WaitState{
		{TaskID: "deploy", Token: "window", Timeout: time.Minute, RegisteredAt: registered},
	}}
	var expired []string
	m := NewWaitMonitor(source, time.Hour, func(w dimension.WaitState) {
		expired = append(expired, w.TaskID)
	}, nil)

	assert.Len(t, m.check(), 1)
	assert.Empty(t, m.check())
	assert.Equal(t, []string{"deploy"}, expired)

	// signalled, then re-registered
	source.waits = nil
	assert.Empty(t, m.check())
	source.waits = []dimension.WaitState{
		{TaskID: "deploy", Timeout: time.Minute, RegisteredAt: registered.Add(time.Hour)},
	}
	assert.Len(t, m.check(), 1)
	assert.Equal(t, []string{"deploy", "deploy"}, expired)
}
