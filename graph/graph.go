package graph

import (
	"context"
	"strings"
)

// End marks a terminal node: AddEdge(name, End).
const End = "__end__"

// NodeFunc is a node body. It receives a private snapshot of the state and
// returns the fields it wants to set. A non-nil error aborts the run; business
// failures belong in the ErrorKey field of the update instead.
type NodeFunc func(ctx context.Context, snapshot State) (State, error)

type NodeOption func(*nodeSpec)

// Gated makes a node skip its body while the snapshot carries an error.
func Gated() NodeOption {
	return func(n *nodeSpec) { n.gated = true }
}

type nodeSpec struct {
	name  string
	fn    NodeFunc
	gated bool
}

type edgeSpec struct {
	from, to string
}

// Builder collects nodes and edges. It is not safe for concurrent use.
type Builder struct {
	nodes []nodeSpec
	edges []edgeSpec
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) AddNode(name string, fn NodeFunc, opts ...NodeOption) *Builder {
	spec := nodeSpec{name: name, fn: fn}
	for _, opt := range opts {
		opt(&spec)
	}
	b.nodes = append(b.nodes, spec)
	return b
}

func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, edgeSpec{from: from, to: to})
	return b
}

// Graph is an immutable, validated topology. A Graph may be run any number of
// times, including concurrently.
type Graph struct {
	nodes []nodeSpec
	index map[string]int

	outgoing [][]int // edge declaration order
	incoming [][]int // edge declaration order
	entry    int

	terminals []int
	order     []int    // canonical topological order
	closure   [][]bool // closure[n][m]: m is n or an ancestor of n
}

// Compile validates the builder and freezes the topology.
func (b *Builder) Compile() (*Graph, error) {
	if len(b.nodes) == 0 {
		return nil, invalidf("graph has no nodes")
	}

	g := &Graph{
		nodes: make([]nodeSpec, len(b.nodes)),
		index: make(map[string]int, len(b.nodes)),
	}
	copy(g.nodes, b.nodes)

	for i, n := range g.nodes {
		if strings.TrimSpace(n.name) == "" {
			return nil, invalidf("node %d has an empty name", i)
		}
		if n.name == End {
			return nil, invalidf("node name %q is reserved", End)
		}
		if n.fn == nil {
			return nil, invalidf("node %q has no function", n.name)
		}
		if _, dup := g.index[n.name]; dup {
			return nil, invalidf("duplicate node %q", n.name)
		}
		g.index[n.name] = i
	}

	g.outgoing = make([][]int, len(g.nodes))
	g.incoming = make([][]int, len(g.nodes))
	toEnd := make([]bool, len(g.nodes))
	var endOrder []int
	seen := make(map[edgeSpec]struct{}, len(b.edges))

	for _, e := range b.edges {
		if e.from == End {
			return nil, invalidf("edge %s -> %s leaves the end marker", e.from, e.to)
		}
		from, ok := g.index[e.from]
		if !ok {
			return nil, invalidf("edge %s -> %s references unknown node %q", e.from, e.to, e.from)
		}
		if _, dup := seen[e]; dup {
			return nil, invalidf("duplicate edge %s -> %s", e.from, e.to)
		}
		seen[e] = struct{}{}

		if e.to == End {
			toEnd[from] = true
			endOrder = append(endOrder, from)
			continue
		}
		to, ok := g.index[e.to]
		if !ok {
			return nil, invalidf("edge %s -> %s references unknown node %q", e.from, e.to, e.to)
		}
		if from == to {
			return nil, invalidf("self-loop on %q", e.from)
		}
		g.outgoing[from] = append(g.outgoing[from], to)
		g.incoming[to] = append(g.incoming[to], from)
	}

	for i := range g.nodes {
		if toEnd[i] && len(g.outgoing[i]) > 0 {
			return nil, invalidf("node %q routes to the end marker and to other nodes", g.nodes[i].name)
		}
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	entries := make([]string, 0, 1)
	for i, n := range g.nodes {
		if len(g.incoming[i]) == 0 {
			entries = append(entries, n.name)
			g.entry = i
		}
	}
	if len(entries) != 1 {
		return nil, invalidf("graph must have exactly one entry node, found %d (%s)", len(entries), strings.Join(entries, ", "))
	}

	g.terminals = append(g.terminals, endOrder...)
	for i := range g.nodes {
		if len(g.outgoing[i]) == 0 && !toEnd[i] {
			g.terminals = append(g.terminals, i)
		}
	}

	g.buildClosure()
	return g, nil
}

// Nodes returns the node names in canonical topological order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.order))
	for _, i := range g.order {
		out = append(out, g.nodes[i].name)
	}
	return out
}

// Entry returns the name of the single node without predecessors.
func (g *Graph) Entry() string { return g.nodes[g.entry].name }

// Terminals returns the terminal node names in merge order.
func (g *Graph) Terminals() []string {
	out := make([]string, 0, len(g.terminals))
	for _, i := range g.terminals {
		out = append(out, g.nodes[i].name)
	}
	return out
}

// Predecessors returns the direct predecessors of name in edge declaration
// order.
func (g *Graph) Predecessors(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.incoming[i]))
	for _, p := range g.incoming[i] {
		out = append(out, g.nodes[p].name)
	}
	return out
}

func (g *Graph) buildClosure() {
	n := len(g.nodes)
	g.closure = make([][]bool, n)
	for _, i := range g.order {
		c := make([]bool, n)
		c[i] = true
		for _, p := range g.incoming[i] {
			for m, in := range g.closure[p] {
				if in {
					c[m] = true
				}
			}
		}
		g.closure[i] = c
	}
}
