package graph

import "encoding/json"

// Snapshot is an immutable view of the diagram at one point in time.
// Readers may hold on to a snapshot indefinitely; the store never mutates
// one after it has been published.
type Snapshot struct {
	version  uint64
	nodes    map[string]Node     // id → Node
	order    []string            // insertion order, for deterministic rendering
	children map[string][]string // parent id → ordered child ids
	edges    []Edge
	edgeIdx  map[string]int // edge id → position in edges
}

// newSnapshot indexes already validated nodes and edges.
func newSnapshot(version uint64, nodes []Node, edges []Edge) *Snapshot {
	s := &Snapshot{
		version:  version,
		nodes:    make(map[string]Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		children: make(map[string][]string),
		edges:    edges,
		edgeIdx:  make(map[string]int, len(edges)),
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n
		s.order = append(s.order, n.ID)
		if n.ParentID != "" {
			s.children[n.ParentID] = append(s.children[n.ParentID], n.ID)
		}
	}
	for i, e := range edges {
		s.edgeIdx[e.ID] = i
	}
	return s
}

// Version increases by one with every published snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// Node returns a node by id.
func (s *Snapshot) Node(id string) (Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Has reports whether a node with the given id exists.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.nodes[id]
	return ok
}

// Nodes returns all nodes in insertion order.
func (s *Snapshot) Nodes() []Node {
	out := make([]Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id].clone())
	}
	return out
}

// Edge returns an edge by id.
func (s *Snapshot) Edge(id string) (Edge, bool) {
	i, ok := s.edgeIdx[id]
	if !ok {
		return Edge{}, false
	}
	return s.edges[i], true
}

// Edges returns all edges in order.
func (s *Snapshot) Edges() []Edge {
	return append([]Edge(nil), s.edges...)
}

// Children returns the ids of the direct children of a node.
func (s *Snapshot) Children(id string) []string {
	return append([]string(nil), s.children[id]...)
}

// Roots returns the ids of nodes without a parent.
func (s *Snapshot) Roots() []string {
	var out []string
	for _, id := range s.order {
		if s.nodes[id].ParentID == "" {
			out = append(out, id)
		}
	}
	return out
}

// InSubtree reports whether id is root or one of its containment descendants.
func (s *Snapshot) InSubtree(root, id string) bool {
	for steps := 0; id != "" && steps <= len(s.nodes); steps++ {
		if id == root {
			return true
		}
		id = s.nodes[id].ParentID
	}
	return false
}

// NodeCount returns the number of nodes.
func (s *Snapshot) NodeCount() int { return len(s.nodes) }

// EdgeCount returns the number of edges.
func (s *Snapshot) EdgeCount() int { return len(s.edges) }

// MarshalJSON encodes the snapshot in the same shape as a fetch payload,
// plus its version.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Version uint64 `json:"version"`
		Nodes   []Node `json:"nodes"`
		Edges   []Edge `json:"edges"`
	}{s.version, s.Nodes(), s.Edges()})
}
