package graph

import "time"

type NodeStatus string

const (
	StatusExecuted NodeStatus = "executed"
	StatusSkipped  NodeStatus = "skipped"
	StatusFailed   NodeStatus = "failed"
)

// Observer is notified from the goroutine running each node, so
// implementations must be safe for concurrent use.
type Observer interface {
	NodeStarted(node string)
	NodeFinished(node string, status NodeStatus, elapsed time.Duration, err error)
}

type observers []Observer

func (o observers) NodeStarted(node string) {
	for _, obs := range o {
		obs.NodeStarted(node)
	}
}

func (o observers) NodeFinished(node string, status NodeStatus, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.NodeFinished(node, status, elapsed, err)
	}
}

type RunOption func(*runConfig)

type runConfig struct {
	observers observers
}

// WithObserver adds an observer for a single run. It may be given more than
// once.
func WithObserver(o Observer) RunOption {
	return func(c *runConfig) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}
