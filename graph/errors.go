package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycle        = errors.New("cycle detected")
)

// GraphConfigError is returned by Compile for a malformed graph. It is never
// produced once a run has started.
type GraphConfigError struct {
	Kind error
	Msg  string
}

func (e *GraphConfigError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphConfigError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphConfigError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphConfigError{Kind: ErrCycle, Msg: msg}
}

// NodeExecutionFault aborts a run. Node names the node whose body failed.
type NodeExecutionFault struct {
	Node     string
	Err      error
	Panicked bool
}

func (f *NodeExecutionFault) Error() string {
	if f == nil {
		return ""
	}
	if f.Panicked {
		return fmt.Sprintf("node %q panicked: %v", f.Node, f.Err)
	}
	return fmt.Sprintf("node %q failed: %v", f.Node, f.Err)
}

func (f *NodeExecutionFault) Unwrap() error { return f.Err }
