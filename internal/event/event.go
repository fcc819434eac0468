package event

import "time"

// Op names the store mutation that produced a Change.
type Op string

const (
	OpReplace    Op = "replace"
	OpMerge      Op = "merge"
	OpPrune      Op = "prune"
	OpMove       Op = "move"
	OpConnect    Op = "connect"
	OpDisconnect Op = "disconnect"
)

// Change is emitted to store subscribers after every successful mutation.
type Change struct {
	Version    uint64    `json:"version"`
	Op         Op        `json:"op"`
	Target     string    `json:"target,omitempty"` // boundary node, moved node or edge id
	Nodes      int       `json:"nodes"`            // node count of the new snapshot
	Edges      int       `json:"edges"`            // edge count of the new snapshot
	OccurredAt time.Time `json:"occurred_at"`
}
