package graph

import (
	"encoding/json"
	"fmt"
	"io"
)

// Payload is the body of a subgraph fetch: {"nodes": [...], "edges": [...]}.
type Payload struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// wirePayload also accepts the older react-flow envelope, in which the
// lists are called initialNodes/initialEdges.
type wirePayload struct {
	Nodes        []wireNode `json:"nodes"`
	Edges        []wireEdge `json:"edges"`
	InitialNodes []wireNode `json:"initialNodes"`
	InitialEdges []wireEdge `json:"initialEdges"`
}

type wireNode struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	ParentID string    `json:"parentId"`
	Kind     Kind      `json:"kind"`
	Inputs   *int      `json:"inputs"`
	Ports    []Port    `json:"ports"`
	Expanded bool      `json:"expanded"`
	Origin   string    `json:"origin"`
	Position *Position `json:"position"`

	// react-flow shape
	Type       string `json:"type"`
	ParentNode string `json:"parentNode"`
	Data       *struct {
		Label        string `json:"label"`
		InputHandles *int   `json:"inputHandles"`
	} `json:"data"`
}

type wireEdge struct {
	Edge
	SourceHandle string `json:"sourceHandle"`
	TargetHandle string `json:"targetHandle"`
}

// DecodePayload reads a subgraph payload and normalises every node: a
// missing kind becomes plain, and non-group nodes without explicit ports get
// the ports derived from their label and input arity.
func DecodePayload(r io.Reader) (*Payload, error) {
	var w wirePayload
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	nodes, edges := w.Nodes, w.Edges
	if nodes == nil && edges == nil {
		nodes, edges = w.InitialNodes, w.InitialEdges
	}

	p := &Payload{
		Nodes: make([]Node, 0, len(nodes)),
		Edges: make([]Edge, 0, len(edges)),
	}
	for _, wn := range nodes {
		n, err := wn.node()
		if err != nil {
			return nil, err
		}
		p.Nodes = append(p.Nodes, n)
	}
	for _, we := range edges {
		e := we.Edge
		if e.SourcePort == "" {
			e.SourcePort = we.SourceHandle
		}
		if e.TargetPort == "" {
			e.TargetPort = we.TargetHandle
		}
		p.Edges = append(p.Edges, e)
	}
	return p, nil
}

func (w wireNode) node() (Node, error) {
	n := Node{
		ID:       w.ID,
		Label:    w.Label,
		ParentID: w.ParentID,
		Kind:     w.Kind,
		Ports:    w.Ports,
		Expanded: w.Expanded,
		Origin:   w.Origin,
		Position: w.Position,
	}
	if n.ParentID == "" {
		n.ParentID = w.ParentNode
	}
	inputs := w.Inputs
	if w.Data != nil {
		if n.Label == "" {
			n.Label = w.Data.Label
		}
		if inputs == nil {
			inputs = w.Data.InputHandles
		}
	}
	if n.Kind == "" {
		n.Kind = legacyKind(w.Type)
	}
	if inputs != nil {
		if *inputs < 0 {
			return Node{}, fmt.Errorf("node %s: negative input count %d", w.ID, *inputs)
		}
		n.Inputs = *inputs
	}
	if n.Kind != KindGroup && len(n.Ports) == 0 && (inputs != nil || n.Kind == KindExpandable) {
		n.Ports = BuildPorts(n.Label, n.Inputs)
	}
	if len(n.Ports) > 0 {
		n.Inputs = InputCount(n.Ports)
	}
	return n, nil
}

// legacyKind maps react-flow node types onto kinds.
func legacyKind(typ string) Kind {
	switch typ {
	case "group":
		return KindGroup
	case "customNode":
		return KindExpandable
	default:
		return KindPlain
	}
}
