package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func set(kv ...any) NodeFunc {
	return func(ctx context.Context, _ State) (State, error) {
		out := State{}
		for i := 0; i+1 < len(kv); i += 2 {
			out[kv[i].(string)] = kv[i+1]
		}
		return out, nil
	}
}

func noop(ctx context.Context, _ State) (State, error) { return nil, nil }

func TestCompileRejectsMalformedGraphs(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
		kind  error
	}{
		{"empty", NewBuilder, ErrInvalidGraph},
		{"empty name", func() *Builder { return NewBuilder().AddNode(" ", noop) }, ErrInvalidGraph},
		{"reserved name", func() *Builder { return NewBuilder().AddNode(End, noop) }, ErrInvalidGraph},
		{"nil function", func() *Builder { return NewBuilder().AddNode("a", nil) }, ErrInvalidGraph},
		{"duplicate node", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddNode("a", noop)
		}, ErrInvalidGraph},
		{"unknown target", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddEdge("a", "b")
		}, ErrInvalidGraph},
		{"unknown source", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddEdge("x", "a")
		}, ErrInvalidGraph},
		{"self loop", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddEdge("a", "a")
		}, ErrInvalidGraph},
		{"duplicate edge", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddNode("b", noop).AddEdge("a", "b").AddEdge("a", "b")
		}, ErrInvalidGraph},
		{"edge out of end", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddEdge(End, "a")
		}, ErrInvalidGraph},
		{"end and successor", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddNode("b", noop).AddEdge("a", "b").AddEdge("a", End)
		}, ErrInvalidGraph},
		{"two entries", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddNode("b", noop).AddNode("c", noop).
				AddEdge("a", "c").AddEdge("b", "c")
		}, ErrInvalidGraph},
		{"cycle", func() *Builder {
			return NewBuilder().AddNode("a", noop).AddNode("b", noop).AddNode("c", noop).
				AddEdge("a", "b").AddEdge("b", "c").AddEdge("c", "b")
		}, ErrCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := tt.build().Compile()
			require.Error(t, err)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, tt.kind)

			var cfgErr *GraphConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestCompileReportsStableCycleWitness(t *testing.T) {
	build := func() *Builder {
		return NewBuilder().
			AddNode("a", noop).AddNode("b", noop).AddNode("c", noop).AddNode("d", noop).
			AddEdge("a", "b").AddEdge("b", "c").AddEdge("c", "d").AddEdge("d", "b")
	}
	_, err1 := build().Compile()
	_, err2 := build().Compile()
	require.Error(t, err1)
	assert.Contains(t, err1.Error(), "b -> c -> d -> b")
	assert.Equal(t, err1.Error(), err2.Error())
}

func TestCompileTopology(t *testing.T) {
	g, err := NewBuilder().
		AddNode("scan", noop).
		AddNode("right", noop).
		AddNode("left", noop).
		AddNode("join", noop).
		AddEdge("scan", "left").
		AddEdge("scan", "right").
		AddEdge("left", "join").
		AddEdge("right", "join").
		AddEdge("join", End).
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "scan", g.Entry())
	assert.Equal(t, []string{"join"}, g.Terminals())
	assert.Equal(t, []string{"scan", "right", "left", "join"}, g.Nodes())
	assert.Equal(t, []string{"left", "right"}, g.Predecessors("join"))
	assert.Nil(t, g.Predecessors("missing"))
}

func TestRunLinearChain(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", set("a", 1)).
		AddNode("b", func(ctx context.Context, s State) (State, error) {
			return State{"b": s["a"].(int) + 1}, nil
		}).
		AddEdge("a", "b").
		AddEdge("b", End).
		Compile()
	require.NoError(t, err)

	final, err := g.Run(context.Background(), State{"seed": "x"})
	require.NoError(t, err)
	assert.Equal(t, State{"seed": "x", "a": 1, "b": 2}, final)
}

// diamond builds scan -> {left, right} -> join with left's edge into join
// declared first. release controls which branch is allowed to finish first.
func diamond(t *testing.T, leftFirst bool, left, right State, seen *State) *Graph {
	t.Helper()
	leftDone := make(chan struct{})
	rightDone := make(chan struct{})

	g, err := NewBuilder().
		AddNode("scan", set("spot", 22000.0, "shared", "scan")).
		AddNode("left", func(ctx context.Context, _ State) (State, error) {
			defer close(leftDone)
			if !leftFirst {
				<-rightDone
			}
			return left, nil
		}).
		AddNode("right", func(ctx context.Context, _ State) (State, error) {
			defer close(rightDone)
			if leftFirst {
				<-leftDone
			}
			return right, nil
		}).
		AddNode("join", func(ctx context.Context, s State) (State, error) {
			*seen = s
			return nil, nil
		}).
		AddEdge("scan", "left").
		AddEdge("scan", "right").
		AddEdge("left", "join").
		AddEdge("right", "join").
		AddEdge("join", End).
		Compile()
	require.NoError(t, err)
	return g
}

func TestJoinMergeIgnoresCompletionOrder(t *testing.T) {
	left := State{"shared": "left", "research": "calm"}
	right := State{"shared": "right", "adjust": false}

	for _, leftFirst := range []bool{true, false} {
		var seen State
		g := diamond(t, leftFirst, left, right, &seen)

		final, err := g.Run(context.Background(), State{"run_id": "r1"})
		require.NoError(t, err)

		assert.Equal(t, "right", seen["shared"], "later-declared edge wins (leftFirst=%v)", leftFirst)
		assert.Equal(t, "calm", seen["research"])
		assert.Equal(t, false, seen["adjust"])
		assert.Equal(t, 22000.0, seen["spot"])
		assert.Equal(t, "r1", seen["run_id"])
		assert.Equal(t, seen, final)
	}
}

func TestNestedJoinKeepsEarlierResolution(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", set("x", "a")).
		AddNode("b", set("x", "b")).
		AddNode("c", set("x", "c")).
		AddNode("d", set("d", true)).
		AddNode("e", set("e", true)).
		AddNode("f", set("f", true)).
		AddNode("g", noop).
		AddEdge("a", "b").
		AddEdge("a", "c").
		AddEdge("c", "d").
		AddEdge("b", "d").
		AddEdge("d", "e").
		AddEdge("d", "f").
		AddEdge("e", "g").
		AddEdge("f", "g").
		AddEdge("g", End).
		Compile()
	require.NoError(t, err)

	final, err := g.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "b", final["x"], "resolution made at d must survive the join at g")
	assert.Equal(t, true, final["d"])
	assert.Equal(t, true, final["e"])
	assert.Equal(t, true, final["f"])
}

func TestJoinBranchNilDoesNotRevertSibling(t *testing.T) {
	g, err := NewBuilder().
		AddNode("start", set("k", "start")).
		AddNode("left", set("k", "left")).
		AddNode("right", set("k", nil, ErrorKey, "")).
		AddNode("join", noop).
		AddEdge("start", "left").
		AddEdge("start", "right").
		AddEdge("left", "join").
		AddEdge("right", "join").
		AddEdge("join", End).
		Compile()
	require.NoError(t, err)

	final, err := g.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "left", final["k"])
	assert.Empty(t, final.Err())
}

func TestJoinKeepsErrorSticky(t *testing.T) {
	tests := []struct {
		name  string
		left  State
		right State
		want  string
	}{
		{"error then empty", State{ErrorKey: "boom"}, State{ErrorKey: ""}, "boom"},
		{"error then nil", State{ErrorKey: "boom"}, State{ErrorKey: nil}, "boom"},
		{"empty then error", State{ErrorKey: ""}, State{ErrorKey: "bad"}, "bad"},
		{"two errors", State{ErrorKey: "first"}, State{ErrorKey: errors.New("second")}, "second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, leftFirst := range []bool{true, false} {
				var seen State
				g := diamond(t, leftFirst, tt.left, tt.right, &seen)
				final, err := g.Run(context.Background(), nil)
				require.NoError(t, err)
				assert.Equal(t, tt.want, seen.Err())
				assert.Equal(t, tt.want, final.Err())
			}
		})
	}
}

func TestSequentialErrorIsNotCleared(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", set(ErrorKey, "market data missing")).
		AddNode("b", set(ErrorKey, "", "b", true)).
		AddEdge("a", "b").
		Compile()
	require.NoError(t, err)

	final, err := g.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "market data missing", final.Err())
	assert.Equal(t, true, final["b"])
}

func TestForkBranchesRunConcurrently(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	wait := func(ctx context.Context, _ State) (State, error) {
		barrier.Done()
		done := make(chan struct{})
		go func() { barrier.Wait(); close(done) }()
		select {
		case <-done:
			return nil, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("sibling branch never started")
		}
	}

	g, err := NewBuilder().
		AddNode("scan", noop).
		AddNode("left", wait).
		AddNode("right", wait).
		AddNode("join", noop).
		AddEdge("scan", "left").AddEdge("scan", "right").
		AddEdge("left", "join").AddEdge("right", "join").
		Compile()
	require.NoError(t, err)

	_, err = g.Run(context.Background(), nil)
	require.NoError(t, err)
}

func TestGatedNodesSkipOnError(t *testing.T) {
	var gatedRan atomic.Bool
	g, err := NewBuilder().
		AddNode("scan", set(ErrorKey, "scan failed")).
		AddNode("monitor", func(ctx context.Context, _ State) (State, error) {
			gatedRan.Store(true)
			return State{"adjust": true}, nil
		}, Gated()).
		AddNode("research", set("research", "done")).
		AddNode("join", noop).
		AddEdge("scan", "monitor").AddEdge("scan", "research").
		AddEdge("monitor", "join").AddEdge("research", "join").
		AddEdge("join", End).
		Compile()
	require.NoError(t, err)

	res, err := g.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, gatedRan.Load())
	assert.Equal(t, []string{"monitor"}, res.Skipped())
	assert.Equal(t, "done", res.State["research"])
	assert.NotContains(t, res.State, "adjust")
	assert.Equal(t, "scan failed", res.State.Err())

	names := make([]string, 0, len(res.Trace))
	for _, rec := range res.Trace {
		names = append(names, rec.Node)
	}
	assert.Equal(t, g.Nodes(), names)
}

func TestGatedNodeRunsWithoutError(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", set("x", 1)).
		AddNode("b", set("y", 2), Gated()).
		AddEdge("a", "b").
		Compile()
	require.NoError(t, err)

	res, err := g.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Skipped())
	assert.Equal(t, 2, res.State["y"])
}

func TestNodeErrorAbortsRun(t *testing.T) {
	var downstream atomic.Int32
	g, err := NewBuilder().
		AddNode("a", noop).
		AddNode("b", func(ctx context.Context, _ State) (State, error) {
			return nil, errors.New("quote feed down")
		}).
		AddNode("c", func(ctx context.Context, _ State) (State, error) {
			downstream.Add(1)
			return nil, nil
		}).
		AddEdge("a", "b").AddEdge("b", "c").
		Compile()
	require.NoError(t, err)

	final, err := g.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, final)

	var fault *NodeExecutionFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "b", fault.Node)
	assert.False(t, fault.Panicked)
	assert.EqualError(t, fault.Err, "quote feed down")
	assert.Zero(t, downstream.Load())
}

func TestNodePanicBecomesFault(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", func(ctx context.Context, _ State) (State, error) {
			panic("nil chain")
		}).
		Compile()
	require.NoError(t, err)

	_, err = g.Run(context.Background(), nil)
	var fault *NodeExecutionFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "a", fault.Node)
	assert.True(t, fault.Panicked)
	assert.Contains(t, err.Error(), "nil chain")
}

func TestFaultDiscardsSiblingAndSkipsJoin(t *testing.T) {
	failed := make(chan struct{})
	var siblingFinished, joinRan atomic.Bool

	g, err := NewBuilder().
		AddNode("scan", noop).
		AddNode("left", func(ctx context.Context, _ State) (State, error) {
			defer close(failed)
			return nil, errors.New("research timeout")
		}).
		AddNode("right", func(ctx context.Context, _ State) (State, error) {
			<-failed
			siblingFinished.Store(true)
			return State{"right": true}, nil
		}).
		AddNode("join", func(ctx context.Context, _ State) (State, error) {
			joinRan.Store(true)
			return nil, nil
		}).
		AddEdge("scan", "left").AddEdge("scan", "right").
		AddEdge("left", "join").AddEdge("right", "join").
		Compile()
	require.NoError(t, err)

	res, err := g.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, siblingFinished.Load(), "in-flight sibling is waited for")
	assert.False(t, joinRan.Load())

	var fault *NodeExecutionFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "left", fault.Node)
}

func TestCancelledContextStopsDispatch(t *testing.T) {
	g, err := NewBuilder().AddNode("a", noop).AddNode("b", noop).AddEdge("a", "b").Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.Run(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var fault *NodeExecutionFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "a", fault.Node)
}

func TestCancelMidRunStopsSuccessors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var bRan atomic.Bool

	g, err := NewBuilder().
		AddNode("a", func(context.Context, State) (State, error) {
			cancel()
			return nil, nil
		}).
		AddNode("b", func(context.Context, State) (State, error) {
			bRan.Store(true)
			return nil, nil
		}).
		AddEdge("a", "b").
		Compile()
	require.NoError(t, err)

	_, err = g.Run(ctx, nil)
	var fault *NodeExecutionFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "b", fault.Node)
	assert.False(t, bRan.Load())
}

func TestSnapshotsAreIsolated(t *testing.T) {
	initial := State{"spot": 22000.0}
	g, err := NewBuilder().
		AddNode("a", func(ctx context.Context, s State) (State, error) {
			s["leak"] = true
			delete(s, "spot")
			return State{"a": 1}, nil
		}).
		AddNode("b", func(ctx context.Context, s State) (State, error) {
			_, leaked := s["leak"]
			return State{"saw_leak": leaked, "saw_spot": s["spot"]}, nil
		}).
		AddEdge("a", "b").
		Compile()
	require.NoError(t, err)

	final, err := g.Run(context.Background(), initial)
	require.NoError(t, err)
	assert.Equal(t, false, final["saw_leak"])
	assert.Equal(t, 22000.0, final["saw_spot"])
	assert.Equal(t, State{"spot": 22000.0}, initial)
}

func TestNilUpdateValuesAreIgnored(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", set("order", "legs")).
		AddNode("b", set("order", nil, "other", 1)).
		AddEdge("a", "b").
		Compile()
	require.NoError(t, err)

	final, err := g.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "legs", final["order"])
	assert.Equal(t, 1, final["other"])
}

func TestMultipleTerminalsMergeInEndEdgeOrder(t *testing.T) {
	g, err := NewBuilder().
		AddNode("start", set("k", "start")).
		AddNode("a", set("k", "a", "a", true)).
		AddNode("b", set("k", "b", "b", true)).
		AddEdge("start", "a").
		AddEdge("start", "b").
		AddEdge("b", End).
		AddEdge("a", End).
		Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, g.Terminals())

	final, err := g.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", final["k"])
	assert.Equal(t, true, final["a"])
	assert.Equal(t, true, final["b"])
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished map[string]NodeStatus
}

func (r *recordingObserver) NodeStarted(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, node)
}

func (r *recordingObserver) NodeFinished(node string, status NodeStatus, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = map[string]NodeStatus{}
	}
	r.finished[node] = status
}

func TestObserverSeesEveryNode(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", set(ErrorKey, "x")).
		AddNode("b", noop, Gated()).
		AddNode("c", func(context.Context, State) (State, error) { return nil, errors.New("down") }).
		AddEdge("a", "b").AddEdge("b", "c").
		Compile()
	require.NoError(t, err)

	obs := &recordingObserver{}
	_, err = g.Run(context.Background(), nil, WithObserver(obs), WithObserver(nil))
	require.Error(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, obs.started)
	assert.Equal(t, map[string]NodeStatus{
		"a": StatusExecuted,
		"b": StatusSkipped,
		"c": StatusFailed,
	}, obs.finished)
}

func TestGraphIsReusable(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", func(ctx context.Context, s State) (State, error) {
			return State{"out": s["in"]}, nil
		}).
		Compile()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			final, err := g.Run(context.Background(), State{"in": i})
			assert.NoError(t, err)
			assert.Equal(t, i, final["out"])
		}(i)
	}
	wg.Wait()
}
