// Package graph implements the Graph Executor (C5): a fixed directed
// acyclic graph of node functions connected by boolean-predicate edges,
// re-architected per the "dynamic agent dispatch → static graph"
// redesign flag rather than an LLM-driven router deciding the next
// node at runtime (§4.5).
package graph

import (
	"context"
	"fmt"

	"github.com/nexus-kernel/agentkernel/internal/nodes"
)

// NodeID names a node in the graph.
type NodeID string

// NodeFunc runs one node, returning the next state or an error. Most
// nodes in this kernel never actually return an error (failures are
// absorbed into a degraded State per §4.5's node-failure policy), but
// the signature stays error-returning for nodes that genuinely cannot
// proceed (e.g. missing required state).
type NodeFunc func(ctx context.Context, state *nodes.State) (*nodes.State, error)

// Predicate guards a conditional edge. A nil Predicate is treated as
// unconditionally true.
type Predicate func(state *nodes.State) bool

// BackgroundTask is spawned off the critical path at the point it is
// registered; it receives an immutable snapshot of the state at that
// instant (§4.5: "State is copy-on-write at node boundaries so
// background tasks observe an immutable snapshot").
type BackgroundTask func(ctx context.Context, snapshot *nodes.State)

type edge struct {
	to   NodeID
	when Predicate
}

// Graph is a fixed DAG of nodes with conditional edges, exactly one
// entry node, and implicit termination at any node with no matching
// outgoing edge (§4.5: "exactly one entry node and one terminal node
// per request").
type Graph struct {
	entry      NodeID
	nodeFns    map[NodeID]NodeFunc
	edges      map[NodeID][]edge
	background map[NodeID][]BackgroundTask
}

// New constructs an empty Graph with the given entry node ID.
func New(entry NodeID) *Graph {
	return &Graph{
		entry:      entry,
		nodeFns:    make(map[NodeID]NodeFunc),
		edges:      make(map[NodeID][]edge),
		background: make(map[NodeID][]BackgroundTask),
	}
}

// AddNode registers a node function under id.
func (g *Graph) AddNode(id NodeID, fn NodeFunc) {
	g.nodeFns[id] = fn
}

// AddEdge adds a directed edge from → to, evaluated in the order
// added; the first edge out of a node whose predicate matches (or is
// nil) is taken. A node with no matching edge terminates the walk.
func (g *Graph) AddEdge(from, to NodeID, when Predicate) {
	g.edges[from] = append(g.edges[from], edge{to: to, when: when})
}

// AddBackground registers a background task to spawn once the named
// node completes, detached from the critical path.
func (g *Graph) AddBackground(after NodeID, task BackgroundTask) {
	g.background[after] = append(g.background[after], task)
}

// Run walks the graph from its entry node until a node has no matching
// outgoing edge, returning the final state. Background tasks registered
// on traversed nodes are spawned as goroutines and never block the walk
// or affect its return value.
func (g *Graph) Run(ctx context.Context, initial *nodes.State) (*nodes.State, error) {
	current := g.entry
	state := initial

	for {
		fn, ok := g.nodeFns[current]
		if !ok {
			return nil, fmt.Errorf("graph: node %q is not registered", current)
		}

		next, err := fn(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("graph: node %q failed: %w", current, err)
		}
		state = next

		g.spawnBackground(ctx, current, state)

		to, ok := g.nextNode(current, state)
		if !ok {
			return state, nil
		}
		current = to
	}
}

func (g *Graph) nextNode(from NodeID, state *nodes.State) (NodeID, bool) {
	for _, e := range g.edges[from] {
		if e.when == nil || e.when(state) {
			return e.to, true
		}
	}
	return "", false
}

func (g *Graph) spawnBackground(ctx context.Context, after NodeID, state *nodes.State) {
	tasks := g.background[after]
	if len(tasks) == 0 {
		return
	}
	snapshot := state.Clone()
	for _, task := range tasks {
		go task(context.WithoutCancel(ctx), snapshot)
	}
}
