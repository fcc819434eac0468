package graph

import "fmt"

// Direction is the signal flow of a port.
type Direction string

const (
	DirInput  Direction = "input"
	DirOutput Direction = "output"
)

// Port is a named connection point on a node boundary.
type Port struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Index     int       `json:"index"`
}

// InputPortID returns the id of the i-th input port of a node labelled label.
func InputPortID(label string, i int) string {
	return fmt.Sprintf("%s.in[%d]", label, i)
}

// OutputPortID returns the id of the output port of a node labelled label.
func OutputPortID(label string) string {
	return label + ".out"
}

// BuildPorts returns inputs input ports followed by exactly one output port.
// The ids depend only on label and index so edges resolve the same way on
// every fetch.
func BuildPorts(label string, inputs int) []Port {
	ports := make([]Port, 0, inputs+1)
	for i := range inputs {
		ports = append(ports, Port{ID: InputPortID(label, i), Direction: DirInput, Index: i})
	}
	return append(ports, Port{ID: OutputPortID(label), Direction: DirOutput, Index: 0})
}

// InputCount returns the number of input ports.
func InputCount(ports []Port) int {
	n := 0
	for _, p := range ports {
		if p.Direction == DirInput {
			n++
		}
	}
	return n
}

// ValidatePorts checks that ids are unique and that indices are contiguous
// from 0 within each direction. It returns one message per violation.
func ValidatePorts(nodeID string, ports []Port) []string {
	var errs []string
	seen := make(map[string]struct{}, len(ports))
	indices := map[Direction]map[int]struct{}{
		DirInput:  {},
		DirOutput: {},
	}
	for _, p := range ports {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("node %s: port id is required", nodeID))
			continue
		}
		if _, dup := seen[p.ID]; dup {
			errs = append(errs, fmt.Sprintf("node %s: duplicate port id %q", nodeID, p.ID))
			continue
		}
		seen[p.ID] = struct{}{}
		set, ok := indices[p.Direction]
		if !ok {
			errs = append(errs, fmt.Sprintf("node %s: port %q has unknown direction %q", nodeID, p.ID, p.Direction))
			continue
		}
		if _, dup := set[p.Index]; dup {
			errs = append(errs, fmt.Sprintf("node %s: port %q reuses %s index %d", nodeID, p.ID, p.Direction, p.Index))
			continue
		}
		set[p.Index] = struct{}{}
	}
	for _, dir := range []Direction{DirInput, DirOutput} {
		set := indices[dir]
		for i := range len(set) {
			if _, ok := set[i]; !ok {
				errs = append(errs, fmt.Sprintf("node %s: %s port indices are not contiguous from 0", nodeID, dir))
				break
			}
		}
	}
	return errs
}
