package graph

import "fmt"

// Validate checks a complete node/edge set for:
//   - required and duplicate node and edge ids
//   - unknown node kinds, and ports on group nodes
//   - port invariants (unique ids, contiguous indices)
//   - dangling parent references and containment cycles
//   - dangling edge endpoints and unknown endpoint ports
//
// It returns one message per violation, or nil when the set is valid.
func Validate(nodes []Node, edges []Edge) []string {
	var errs []string
	byID := make(map[string]Node, len(nodes))

	for i, n := range nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Sprintf("nodes[%d]: id is required", i))
			continue
		}
		if _, dup := byID[n.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		byID[n.ID] = n
		if !n.Kind.Valid() {
			errs = append(errs, fmt.Sprintf("node %s: unknown kind %q", n.ID, n.Kind))
		}
		if n.Kind == KindExpandable && n.Label == "" {
			errs = append(errs, fmt.Sprintf("node %s: expandable node needs a label to fetch by", n.ID))
		}
		if n.Kind == KindGroup && len(n.Ports) > 0 {
			errs = append(errs, fmt.Sprintf("node %s: group nodes cannot carry ports", n.ID))
		}
		errs = append(errs, ValidatePorts(n.ID, n.Ports)...)
	}

	for _, n := range byID {
		if n.ParentID == "" {
			continue
		}
		if n.ParentID == n.ID {
			errs = append(errs, fmt.Sprintf("node %s: node cannot be its own parent", n.ID))
			continue
		}
		if _, ok := byID[n.ParentID]; !ok {
			errs = append(errs, fmt.Sprintf("node %s: unknown parent %q", n.ID, n.ParentID))
		}
	}
	errs = append(errs, containmentCycles(nodes, byID)...)

	seenEdges := make(map[string]struct{}, len(edges))
	for i, e := range edges {
		if e.ID == "" {
			errs = append(errs, fmt.Sprintf("edges[%d]: id is required", i))
			continue
		}
		if _, dup := seenEdges[e.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate edge id %q", e.ID))
			continue
		}
		seenEdges[e.ID] = struct{}{}
		errs = append(errs, checkEndpoint(e.ID, "source", e.Source, e.SourcePort, byID)...)
		errs = append(errs, checkEndpoint(e.ID, "target", e.Target, e.TargetPort, byID)...)
	}
	return errs
}

func checkEndpoint(edgeID, side, nodeID, portID string, byID map[string]Node) []string {
	n, ok := byID[nodeID]
	if !ok {
		return []string{fmt.Sprintf("edge %s: unknown %s node %q", edgeID, side, nodeID)}
	}
	if portID == "" {
		return nil
	}
	if _, ok := n.Port(portID); !ok {
		return []string{fmt.Sprintf("edge %s: %s node %s has no port %q", edgeID, side, nodeID, portID)}
	}
	return nil
}

// containmentCycles walks each parent chain once. States: 0 unvisited,
// 1 on the current chain, 2 known to reach a root.
func containmentCycles(nodes []Node, byID map[string]Node) []string {
	var errs []string
	state := make(map[string]int, len(byID))
	for _, start := range nodes {
		if state[start.ID] != 0 {
			continue
		}
		var chain []string
		id := start.ID
		for id != "" && state[id] == 0 {
			n, ok := byID[id]
			if !ok {
				break // dangling parent, reported separately
			}
			state[id] = 1
			chain = append(chain, id)
			id = n.ParentID
		}
		if id != "" && state[id] == 1 {
			errs = append(errs, fmt.Sprintf("containment cycle through node %q", id))
		}
		for _, c := range chain {
			state[c] = 2
		}
	}
	return errs
}
