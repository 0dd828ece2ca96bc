package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTask     = errors.New("invalid task")
	ErrDuplicateTask   = errors.New("duplicate task")
	ErrUnknownTask     = errors.New("unknown task")
	ErrUnknownEdge     = errors.New("dependency not found")
	ErrCycle           = errors.New("dependency cycle")
	ErrInvalidSnapshot = errors.New("invalid graph snapshot")
)

// GraphError reports a rejected structural operation. The graph is left unchanged.
type GraphError struct {
	Kind error
	Msg  string
	Path []string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func graphErrorf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycle, Msg: msg, Path: path}
}
