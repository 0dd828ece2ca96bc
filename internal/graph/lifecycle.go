package graph

import (
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/dimension"
)

// Start moves a READY task to EXECUTING.
func (e *Engine) Start(id string) (dimension.StatusChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tasks[id]; !ok {
		return dimension.StatusChange{}, graphErrorf(ErrUnknownTask, "%s", id)
	}
	change, err := e.layers.Time.Start(e.tasks, id)
	if err != nil {
		return dimension.StatusChange{}, err
	}
	e.logger.Info("Task started", zap.String("task_id", id))
	return change, nil
}

// Complete marks an executing task completed and releases its dependents.
func (e *Engine) Complete(id, output string) ([]dimension.StatusChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tasks[id]; !ok {
		return nil, graphErrorf(ErrUnknownTask, "%s", id)
	}
	changes, err := e.layers.Time.Complete(e.tasks, id, output)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Task completed",
		zap.String("task_id", id),
		zap.Duration("actual_duration", e.tasks[id].Temporal.ActualDuration),
		zap.Int("released", len(changes)-1))
	return changes, nil
}

// Fail marks an executing task failed. Its dependents stay blocked.
func (e *Engine) Fail(id, reason string) (dimension.StatusChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tasks[id]; !ok {
		return dimension.StatusChange{}, graphErrorf(ErrUnknownTask, "%s", id)
	}
	change, err := e.layers.Time.Fail(e.tasks, id, reason)
	if err != nil {
		return dimension.StatusChange{}, err
	}
	e.logger.Error("Task failed",
		zap.String("task_id", id),
		zap.String("reason", reason),
		zap.Strings("blocked_dependents", e.tasks[id].Temporal.Descendants))
	return change, nil
}

// RegisterWait makes a task wait for a signal.
func (e *Engine) RegisterWait(id, token string, timeout time.Duration) ([]dimension.StatusChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tasks[id]; !ok {
		return nil, graphErrorf(ErrUnknownTask, "%s", id)
	}
	change, changed, err := e.layers.Time.RegisterWait(e.tasks, id, token, timeout)
	if err != nil || !changed {
		return nil, err
	}
	return []dimension.StatusChange{change}, nil
}

// Signal delivers a signal token to a waiting task.
func (e *Engine) Signal(id, token string) ([]dimension.StatusChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tasks[id]; !ok {
		return nil, graphErrorf(ErrUnknownTask, "%s", id)
	}
	change, changed, err := e.layers.Time.Signal(e.tasks, id, token)
	if err != nil {
		e.logger.Warn("Signal rejected", zap.String("task_id", id), zap.Error(err))
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	return []dimension.StatusChange{change}, nil
}

// ExpiredWaits lists waits whose timeout lapsed before now.
func (e *Engine) ExpiredWaits(now time.Time) []dimension.WaitState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.layers.Time.ExpiredWaits(now)
}
