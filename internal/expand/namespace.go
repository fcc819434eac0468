package expand

import (
	"fmt"

	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
	"github.com/gyaneshwarpardhi/circuitscope/internal/graph"
)

// Separator joins a boundary id and a fetched id.
const Separator = "/"

// NamespacedID returns the id a fetched node or edge gets when merged under
// boundary.
func NamespacedID(boundary, id string) string {
	return boundary + Separator + id
}

// namespace turns a fetched payload into descriptors ready to merge under
// boundary:
//   - node and edge ids are prefixed with the boundary id, so two instances
//     of the same component never collide
//   - references between fetched nodes follow the renaming
//   - references to the empty id or to the fetched component itself point
//     at the boundary node
//   - every node records the boundary as its origin and expandable nodes
//     get their own expand capability
//
// The payload is not modified. A payload with empty node or edge ids is
// rejected, since the prefixed id would alias the boundary's namespace.
func (c *Controller) namespace(boundary graph.Node, p *graph.Payload) ([]graph.Node, []graph.Edge, error) {
	var errs []string
	local := make(map[string]struct{}, len(p.Nodes))
	for i, n := range p.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Sprintf("nodes[%d]: id is required", i))
			continue
		}
		local[n.ID] = struct{}{}
	}
	for i, e := range p.Edges {
		if e.ID == "" {
			errs = append(errs, fmt.Sprintf("edges[%d]: id is required", i))
		}
	}
	if err := faults.Validation("subgraph for "+boundary.ID, errs); err != nil {
		return nil, nil, err
	}
	resolve := func(ref string) string {
		if _, ok := local[ref]; ok {
			return NamespacedID(boundary.ID, ref)
		}
		if ref == "" || ref == boundary.Label {
			return boundary.ID
		}
		return ref
	}

	nodes := make([]graph.Node, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		m := n
		m.ID = NamespacedID(boundary.ID, n.ID)
		m.Ports = append([]graph.Port(nil), n.Ports...)
		if n.Position != nil {
			pos := *n.Position
			m.Position = &pos
		}
		m.ParentID = resolve(n.ParentID)
		if m.ParentID == boundary.ID {
			m.ParentID = "" // the store parents orphans under the boundary
		}
		m.Origin = boundary.ID
		m.Expanded = false
		nodes = append(nodes, c.bind(m))
	}

	edges := make([]graph.Edge, 0, len(p.Edges))
	for _, e := range p.Edges {
		edges = append(edges, graph.Edge{
			ID:         NamespacedID(boundary.ID, e.ID),
			Source:     resolve(e.Source),
			SourcePort: e.SourcePort,
			Target:     resolve(e.Target),
			TargetPort: e.TargetPort,
			Animated:   e.Animated,
			Origin:     boundary.ID,
		})
	}
	return nodes, edges, nil
}
