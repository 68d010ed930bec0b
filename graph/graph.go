package graph

import "fmt"

// EdgeType classifies how an edge selects its target.
type EdgeType string

const (
	// EdgeSequential always matches; the default successor.
	EdgeSequential EdgeType = "sequential"
	// EdgeBranch matches when its condition evaluates truthy.
	EdgeBranch EdgeType = "branch"
	// EdgeLoop is a bounded back-edge.
	EdgeLoop EdgeType = "loop"
)

// DefaultMaxIterations bounds a loop edge when the document omits the limit.
const DefaultMaxIterations = 5

// Condition guards a branch edge. Exactly one of Func or Expression is
// consulted: Func wins when set, otherwise Expression is evaluated by the
// sandboxed evaluator. Language must be "python" for the expression to be
// considered; anything else makes the branch never match.
type Condition struct {
	Func       BranchFunc
	Expression string
	Language   string
}

// LoopConfig bounds a loop edge. MaxIterations is the number of times the
// edge may be traversed within one run; the traversal after the limit
// raises ErrLoopLimit. UntilExpression, when truthy, stops the loop before
// the counter is consulted.
type LoopConfig struct {
	MaxIterations   int
	UntilExpression string
}

// Edge is a typed runtime edge. Condition is set only for branch edges and
// Loop only for loop edges.
type Edge struct {
	Source    string
	Target    string
	Type      EdgeType
	Condition *Condition
	Loop      *LoopConfig
}

// Graph is a runtime workflow graph: uniquely-identified nodes plus typed
// edges, with outgoing edges kept in declaration order per source. That
// order is the dispatch order during successor selection.
type Graph struct {
	ID        string
	Name      string
	StartNode string

	nodes     map[string]Node
	edges     []Edge
	adjacency map[string][]Edge
}

// NodeByID returns the node for the given identifier.
func (g *Graph) NodeByID(id string) (Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: node %q in graph %q", ErrNodeNotFound, id, g.ID)
	}
	return n, nil
}

// OutEdges returns the outgoing edges of a node in declaration order.
func (g *Graph) OutEdges(id string) []Edge {
	return g.adjacency[id]
}

// Edges returns all edges in declaration order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Nodes returns the node set keyed by id.
func (g *Graph) Nodes() map[string]Node {
	return g.nodes
}
