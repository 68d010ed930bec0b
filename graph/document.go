package graph

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ToolResolver resolves callable names to tool functions at graph load
// time. *tool.Registry implements it.
type ToolResolver interface {
	Has(name string) bool
	Get(name string) (ToolFunc, error)
}

// NodeDoc is the declarative node definition used for JSON ingestion.
type NodeDoc struct {
	ID       string         `json:"id"`
	Callable string         `json:"callable"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ConditionDoc is the declarative branch condition. Language defaults to
// "python"; expressions in any other language never match.
type ConditionDoc struct {
	Expression string `json:"expression"`
	Language   string `json:"language,omitempty"`
}

// LoopDoc is the declarative loop configuration.
type LoopDoc struct {
	MaxIterations   int    `json:"max_iterations,omitempty"`
	UntilExpression string `json:"until_expression,omitempty"`
}

// EdgeDoc is the declarative edge definition. From/to are the wire field
// names even though the runtime edge calls them source/target.
type EdgeDoc struct {
	From      string        `json:"from"`
	To        string        `json:"to"`
	Type      EdgeType      `json:"type,omitempty"`
	Condition *ConditionDoc `json:"condition,omitempty"`
	Loop      *LoopDoc      `json:"loop,omitempty"`
}

// Document is the declarative (wire-format) description of a workflow
// graph: nodes plus typed edges plus a start node.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartNode string    `json:"start_node"`
	Nodes     []NodeDoc `json:"nodes"`
	Edges     []EdgeDoc `json:"edges"`
}

// ParseDocument decodes a JSON graph document without validating it.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &doc, nil
}

// Validate checks the document structure without consulting a registry:
// required fields, known edge types, loop bounds, unique node ids,
// start node membership and edge endpoint membership.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: graph id is required", ErrValidation)
	}
	if d.StartNode == "" {
		return fmt.Errorf("%w: start_node is required", ErrValidation)
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("%w: at least one node is required", ErrValidation)
	}

	ids := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node id is required", ErrValidation)
		}
		if n.Callable == "" {
			return fmt.Errorf("%w: node %q has no callable", ErrValidation, n.ID)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrValidation, n.ID)
		}
		ids[n.ID] = struct{}{}
	}

	for _, e := range d.Edges {
		switch e.Type {
		case EdgeSequential, EdgeBranch, EdgeLoop, "":
		default:
			return fmt.Errorf("%w: unknown edge type %q", ErrValidation, e.Type)
		}
		if e.Loop != nil && e.Loop.MaxIterations != 0 &&
			(e.Loop.MaxIterations < 1 || e.Loop.MaxIterations > 100) {
			return fmt.Errorf("%w: max_iterations must be in [1,100], got %d",
				ErrValidation, e.Loop.MaxIterations)
		}
	}

	if _, ok := ids[d.StartNode]; !ok {
		return fmt.Errorf("%w: start node %q is not defined", ErrValidation, d.StartNode)
	}

	for _, e := range d.Edges {
		if _, ok := ids[e.From]; !ok {
			return fmt.Errorf("%w: edge references unknown node %q", ErrValidation, e.From)
		}
		if _, ok := ids[e.To]; !ok {
			return fmt.Errorf("%w: edge references unknown node %q", ErrValidation, e.To)
		}
	}
	return nil
}

// Build validates the document and assembles the runtime graph, resolving
// every node's callable through the registry. All failures surface as
// ErrValidation.
func (d *Document) Build(registry ToolResolver) (*Graph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	nodes := make(map[string]Node, len(d.Nodes))
	for _, nd := range d.Nodes {
		if !registry.Has(nd.Callable) {
			return nil, fmt.Errorf("%w: callable %q is not registered", ErrValidation, nd.Callable)
		}
		fn, err := registry.Get(nd.Callable)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		node := NewNode(nd.ID, nd.Name, fn, nd.Metadata)
		node.Callable = nd.Callable
		nodes[nd.ID] = node
	}

	edges := make([]Edge, 0, len(d.Edges))
	adjacency := make(map[string][]Edge)
	for _, ed := range d.Edges {
		edge := Edge{
			Source: ed.From,
			Target: ed.To,
			Type:   ed.Type,
		}
		if edge.Type == "" {
			edge.Type = EdgeSequential
		}
		if ed.Condition != nil {
			lang := ed.Condition.Language
			if lang == "" {
				lang = "python"
			}
			edge.Condition = &Condition{Expression: ed.Condition.Expression, Language: lang}
		}
		if ed.Loop != nil {
			loop := &LoopConfig{
				MaxIterations:   ed.Loop.MaxIterations,
				UntilExpression: ed.Loop.UntilExpression,
			}
			if loop.MaxIterations == 0 {
				loop.MaxIterations = DefaultMaxIterations
			}
			edge.Loop = loop
		} else if edge.Type == EdgeLoop {
			edge.Loop = &LoopConfig{MaxIterations: DefaultMaxIterations}
		}
		edges = append(edges, edge)
		adjacency[edge.Source] = append(adjacency[edge.Source], edge)
	}

	return &Graph{
		ID:        d.ID,
		Name:      d.Name,
		StartNode: d.StartNode,
		nodes:     nodes,
		edges:     edges,
		adjacency: adjacency,
	}, nil
}

// Document serializes the runtime graph back to its declarative form.
// Rebuilding the result against the same registry yields an equivalent
// graph (callable identity aside). Node order follows edge-independent
// sorted-by-first-appearance semantics: the start node first, then the
// remaining nodes in edge declaration order, then any unreferenced nodes.
func (g *Graph) Document() *Document {
	doc := &Document{
		ID:        g.ID,
		Name:      g.Name,
		StartNode: g.StartNode,
	}

	emitted := make(map[string]struct{}, len(g.nodes))
	emit := func(id string) {
		if _, done := emitted[id]; done {
			return
		}
		n, ok := g.nodes[id]
		if !ok {
			return
		}
		emitted[id] = struct{}{}
		doc.Nodes = append(doc.Nodes, NodeDoc{
			ID:       n.ID,
			Callable: n.Callable,
			Name:     n.Name,
			Metadata: n.Metadata,
		})
	}

	emit(g.StartNode)
	for _, e := range g.edges {
		emit(e.Source)
		emit(e.Target)
	}
	rest := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		if _, done := emitted[id]; !done {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		emit(id)
	}

	for _, e := range g.edges {
		ed := EdgeDoc{From: e.Source, To: e.Target, Type: e.Type}
		if e.Condition != nil && e.Condition.Func == nil {
			ed.Condition = &ConditionDoc{
				Expression: e.Condition.Expression,
				Language:   e.Condition.Language,
			}
		}
		if e.Loop != nil {
			ed.Loop = &LoopDoc{
				MaxIterations:   e.Loop.MaxIterations,
				UntilExpression: e.Loop.UntilExpression,
			}
		}
		doc.Edges = append(doc.Edges, ed)
	}
	return doc
}
