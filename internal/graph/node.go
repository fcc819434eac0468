package graph

import (
	"context"

	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
)

// Kind discriminates the three kinds of graph nodes.
type Kind string

const (
	KindPlain      Kind = "plain"
	KindGroup      Kind = "group"      // visual container only, never carries ports
	KindExpandable Kind = "expandable" // internal subgraph is fetched on demand
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPlain, KindGroup, KindExpandable:
		return true
	}
	return false
}

// Expander is the capability bound to an expandable node. Invoking it asks
// the expansion controller to fetch and merge the node's internal subgraph.
type Expander interface {
	Expand(ctx context.Context) error
}

// ExpandFunc adapts a plain function to Expander.
type ExpandFunc func(ctx context.Context) error

func (f ExpandFunc) Expand(ctx context.Context) error { return f(ctx) }

// Position is a presentation hint owned by the rendering collaborator.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one component instance in the diagram.
type Node struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	ParentID string    `json:"parentId,omitempty"`
	Kind     Kind      `json:"kind"`
	Inputs   int       `json:"inputs,omitempty"`
	Ports    []Port    `json:"ports,omitempty"`
	Expanded bool      `json:"expanded,omitempty"`
	Origin   string    `json:"origin,omitempty"` // boundary whose expansion added this node
	Position *Position `json:"position,omitempty"`

	expander Expander
}

// WithExpander returns a copy of n bound to e.
func (n Node) WithExpander(e Expander) Node {
	n.expander = e
	return n
}

// Expandable reports whether n is an expandable node with a bound capability.
func (n Node) Expandable() bool {
	return n.Kind == KindExpandable && n.expander != nil
}

// Expand invokes the bound expand capability.
func (n Node) Expand(ctx context.Context) error {
	if !n.Expandable() {
		return faults.New(faults.KindNotExpandable, "expand "+n.ID, "node kind %q has no expand capability", n.Kind)
	}
	return n.expander.Expand(ctx)
}

// Port looks up a port by id.
func (n Node) Port(id string) (Port, bool) {
	for _, p := range n.Ports {
		if p.ID == id {
			return p, true
		}
	}
	return Port{}, false
}

func (n Node) clone() Node {
	if n.Ports != nil {
		n.Ports = append([]Port(nil), n.Ports...)
	}
	if n.Position != nil {
		p := *n.Position
		n.Position = &p
	}
	return n
}

// Edge is a directed wire between two node ports.
// Port ids are optional when the node declares no explicit ports.
type Edge struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	SourcePort string `json:"sourcePort,omitempty"`
	Target     string `json:"target"`
	TargetPort string `json:"targetPort,omitempty"`
	Animated   bool   `json:"animated,omitempty"`
	Origin     string `json:"origin,omitempty"` // boundary whose expansion added this edge
}
