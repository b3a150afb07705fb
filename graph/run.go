package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// NodeRecord is one entry of a run trace.
type NodeRecord struct {
	Node     string
	Status   NodeStatus
	Duration time.Duration
}

// Result is the outcome of a completed run. Trace is in canonical topological
// order regardless of how the nodes were scheduled.
type Result struct {
	State State
	Trace []NodeRecord
}

// Skipped returns the nodes whose bodies were skipped by the error gate.
func (r *Result) Skipped() []string {
	var out []string
	for _, rec := range r.Trace {
		if rec.Status == StatusSkipped {
			out = append(out, rec.Node)
		}
	}
	return out
}

// Run executes the graph and returns the final state.
func (g *Graph) Run(ctx context.Context, initial State, opts ...RunOption) (State, error) {
	res, err := g.Execute(ctx, initial, opts...)
	if err != nil {
		return nil, err
	}
	return res.State, nil
}

type nodeResult struct {
	idx    int
	update State
	output State
	status NodeStatus
	took   time.Duration
	err    error
}

// Execute runs every node once. Successors whose predecessors have all
// finished are dispatched immediately, so independent branches overlap. On a
// fault no new node starts; nodes already running are waited for and their
// results dropped.
func (g *Graph) Execute(ctx context.Context, initial State, opts ...RunOption) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	base := initial.Clone()
	n := len(g.nodes)
	pending := make([]int, n)
	for i := range g.nodes {
		pending[i] = len(g.incoming[i])
	}
	updates := make([]State, n)
	outputs := make([]State, n)
	records := make([]NodeRecord, 0, n)

	results := make(chan nodeResult, n)
	var wg sync.WaitGroup
	inFlight := 0
	var fault error

	dispatch := func(idx int, input State) {
		if fault != nil {
			return
		}
		if err := ctx.Err(); err != nil {
			fault = &NodeExecutionFault{Node: g.nodes[idx].name, Err: err}
			return
		}
		inFlight++
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.invoke(ctx, idx, input, cfg.observers)
		}()
	}

	dispatch(g.entry, base.Clone())
	for inFlight > 0 {
		res := <-results
		inFlight--
		if fault != nil {
			continue
		}
		if res.err != nil {
			fault = res.err
			continue
		}

		updates[res.idx] = res.update
		outputs[res.idx] = res.output
		records = append(records, NodeRecord{
			Node:     g.nodes[res.idx].name,
			Status:   res.status,
			Duration: res.took,
		})

		for _, succ := range g.outgoing[res.idx] {
			pending[succ]--
			if pending[succ] == 0 {
				dispatch(succ, g.inputFor(succ, base, outputs, updates))
			}
		}
	}
	wg.Wait()

	if fault != nil {
		return nil, fault
	}
	if len(records) != n {
		return nil, fmt.Errorf("graph: %d of %d nodes finished", len(records), n)
	}

	rank := make([]int, n)
	for pos, i := range g.order {
		rank[i] = pos
	}
	sort.Slice(records, func(a, b int) bool {
		return rank[g.index[records[a].Node]] < rank[g.index[records[b].Node]]
	})

	final := g.merge(base, g.terminals, outputs, updates)
	return &Result{State: final, Trace: records}, nil
}

// inputFor builds the snapshot handed to a node whose predecessors are done.
func (g *Graph) inputFor(idx int, base State, outputs, updates []State) State {
	return g.merge(base, g.incoming[idx], outputs, updates)
}

// merge starts from what the latest ancestors shared by every source produced,
// then layers each source's own branch on top in the given order. A branch
// contributes the keys its branch-only nodes wrote, valued as the source saw
// them, so a conflict already settled at an earlier join stays settled.
// Writes that apply would drop are not counted as contributions.
func (g *Graph) merge(base State, sources []int, outputs, updates []State) State {
	if len(sources) == 1 {
		return outputs[sources[0]].Clone()
	}
	n := len(g.nodes)
	common := make([]bool, n)
	for m := range common {
		common[m] = true
		for _, s := range sources {
			if !g.closure[s][m] {
				common[m] = false
				break
			}
		}
	}

	var latest []int
	for _, m := range g.order {
		if !common[m] {
			continue
		}
		dominated := false
		for c := range common {
			if c != m && common[c] && g.closure[c][m] {
				dominated = true
				break
			}
		}
		if !dominated {
			latest = append(latest, m)
		}
	}

	out := base.Clone()
	if len(latest) > 0 {
		out = g.merge(base, latest, outputs, updates)
	}
	for _, s := range sources {
		for m := 0; m < n; m++ {
			if !g.closure[s][m] || common[m] {
				continue
			}
			for k, v := range updates[m] {
				if v == nil || (k == ErrorKey && errorText(v) == "") {
					continue
				}
				out.apply(State{k: outputs[s][k]})
			}
		}
	}
	return out
}

func (g *Graph) invoke(ctx context.Context, idx int, input State, obs observers) (res nodeResult) {
	spec := g.nodes[idx]
	res.idx = idx
	start := time.Now()
	obs.NodeStarted(spec.name)

	defer func() {
		res.took = time.Since(start)
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			res.err = &NodeExecutionFault{Node: spec.name, Err: err, Panicked: true}
		}
		if res.err != nil {
			res.status = StatusFailed
			var fault *NodeExecutionFault
			errors.As(res.err, &fault)
			obs.NodeFinished(spec.name, StatusFailed, res.took, fault.Err)
			return
		}
		obs.NodeFinished(spec.name, res.status, res.took, nil)
	}()

	if spec.gated && input.Err() != "" {
		res.status = StatusSkipped
		res.update = State{}
		res.output = input
		return res
	}

	update, err := spec.fn(ctx, input.Clone())
	if err != nil {
		res.err = &NodeExecutionFault{Node: spec.name, Err: err}
		return res
	}
	if update == nil {
		update = State{}
	}
	res.status = StatusExecuted
	res.update = update.Clone()
	res.output = input.Clone()
	res.output.apply(res.update)
	return res
}
