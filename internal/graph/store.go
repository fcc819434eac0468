package graph

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/circuitscope/internal/event"
	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
)

// Store owns the current Snapshot.
//
// Writers are serialised on mu and publish a whole new snapshot with an
// atomic swap, so a reader sees either the previous graph or the next one,
// never a node without its edges. Subscribers run after the swap, outside
// the write lock.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	subMu   sync.RWMutex
	subs    map[int]func(event.Change)
	subSeq  int
	subKeys []int // registration order
}

// NewStore creates a Store holding an empty snapshot.
func NewStore() *Store {
	s := &Store{subs: make(map[int]func(event.Change))}
	s.current.Store(newSnapshot(0, nil, nil))
	return s
}

// Snapshot returns the current snapshot. It has no side effects.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Subscribe registers fn to be called after every successful mutation.
// Call the returned function to unsubscribe.
func (s *Store) Subscribe(fn func(event.Change)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subSeq++
	key := s.subSeq
	s.subs[key] = fn
	s.subKeys = append(s.subKeys, key)
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, key)
		for i, k := range s.subKeys {
			if k == key {
				s.subKeys = append(s.subKeys[:i], s.subKeys[i+1:]...)
				break
			}
		}
	}
}

// Replace atomically installs a full new graph. The update is rejected as a
// whole with a validation error if any invariant is violated.
func (s *Store) Replace(nodes []Node, edges []Edge) (*Snapshot, error) {
	nodes = cloneNodes(nodes)
	edges = append([]Edge(nil), edges...)
	if err := faults.Validation("replace", Validate(nodes, edges)); err != nil {
		return nil, err
	}
	return s.commit(event.OpReplace, "", func(_ *Snapshot) ([]Node, []Edge, error) {
		return nodes, edges, nil
	})
}

// Merge installs nodes and edges inside boundaryID's subtree and marks the
// boundary expanded. New nodes without a parent become children of the
// boundary. A new node may only be parented by the boundary, another new
// node, or a node already inside the boundary's subtree. Existing nodes and
// edges are left untouched apart from the boundary's expanded flag.
func (s *Store) Merge(nodes []Node, edges []Edge, boundaryID string) (*Snapshot, error) {
	nodes = cloneNodes(nodes)
	return s.commit(event.OpMerge, boundaryID, func(cur *Snapshot) ([]Node, []Edge, error) {
		if !cur.Has(boundaryID) {
			return nil, nil, faults.New(faults.KindNotFound, "merge", "boundary node %q not in graph", boundaryID)
		}
		fresh := make(map[string]struct{}, len(nodes))
		for _, n := range nodes {
			fresh[n.ID] = struct{}{}
		}
		var errs []string
		for i := range nodes {
			n := &nodes[i]
			if n.ParentID == "" {
				n.ParentID = boundaryID
				continue
			}
			if _, ok := fresh[n.ParentID]; ok {
				continue
			}
			if cur.Has(n.ParentID) && !cur.InSubtree(boundaryID, n.ParentID) {
				errs = append(errs, fmt.Sprintf("node %s: parent %q is outside boundary %q", n.ID, n.ParentID, boundaryID))
			}
		}

		all := make([]Node, 0, cur.NodeCount()+len(nodes))
		for _, n := range cur.Nodes() {
			if n.ID == boundaryID {
				n.Expanded = true
			}
			all = append(all, n)
		}
		all = append(all, nodes...)
		allEdges := append(cur.Edges(), edges...)

		errs = append(errs, Validate(all, allEdges)...)
		if err := faults.Validation("merge into "+boundaryID, errs); err != nil {
			return nil, nil, err
		}
		return all, allEdges, nil
	})
}

// Prune removes every node and edge introduced by expanding boundaryID,
// directly or through a nested expansion, drops edges left touching a
// removed node, and clears the boundary's expanded flag. It returns the removed node ids.
func (s *Store) Prune(boundaryID string) (*Snapshot, []string, error) {
	var removed []string
	snap, err := s.commit(event.OpPrune, boundaryID, func(cur *Snapshot) ([]Node, []Edge, error) {
		if !cur.Has(boundaryID) {
			return nil, nil, faults.New(faults.KindNotFound, "prune", "node %q not in graph", boundaryID)
		}
		gone := map[string]struct{}{}
		origins := map[string]struct{}{boundaryID: {}}
		// Origins chain downwards: a node added by expanding a pruned node is pruned too.
		for changed := true; changed; {
			changed = false
			for _, n := range cur.Nodes() {
				if _, ok := gone[n.ID]; ok {
					continue
				}
				if _, ok := origins[n.Origin]; ok && n.Origin != "" {
					gone[n.ID] = struct{}{}
					origins[n.ID] = struct{}{}
					removed = append(removed, n.ID)
					changed = true
				}
			}
		}
		var keep []Node
		for _, n := range cur.Nodes() {
			if _, ok := gone[n.ID]; ok {
				continue
			}
			if n.ID == boundaryID {
				n.Expanded = false
			}
			keep = append(keep, n)
		}
		var keepEdges []Edge
		for _, e := range cur.Edges() {
			_, src := gone[e.Source]
			_, dst := gone[e.Target]
			_, added := origins[e.Origin]
			if !src && !dst && !added {
				keepEdges = append(keepEdges, e)
			}
		}
		return keep, keepEdges, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, removed, nil
}

// Move records a new position hint for a node.
func (s *Store) Move(id string, pos Position) (*Snapshot, error) {
	return s.commit(event.OpMove, id, func(cur *Snapshot) ([]Node, []Edge, error) {
		if !cur.Has(id) {
			return nil, nil, faults.New(faults.KindNotFound, "move", "node %q not in graph", id)
		}
		nodes := cur.Nodes()
		for i := range nodes {
			if nodes[i].ID == id {
				p := pos
				nodes[i].Position = &p
			}
		}
		return nodes, cur.Edges(), nil
	})
}

// Connect adds an edge created by the user.
func (s *Store) Connect(e Edge) (*Snapshot, error) {
	return s.commit(event.OpConnect, e.ID, func(cur *Snapshot) ([]Node, []Edge, error) {
		nodes := cur.Nodes()
		edges := append(cur.Edges(), e)
		if err := faults.Validation("connect", Validate(nodes, edges)); err != nil {
			return nil, nil, err
		}
		return nodes, edges, nil
	})
}

// Disconnect removes an edge by id.
func (s *Store) Disconnect(edgeID string) (*Snapshot, error) {
	return s.commit(event.OpDisconnect, edgeID, func(cur *Snapshot) ([]Node, []Edge, error) {
		if _, ok := cur.Edge(edgeID); !ok {
			return nil, nil, faults.New(faults.KindNotFound, "disconnect", "edge %q not in graph", edgeID)
		}
		var edges []Edge
		for _, e := range cur.Edges() {
			if e.ID != edgeID {
				edges = append(edges, e)
			}
		}
		return cur.Nodes(), edges, nil
	})
}

// commit runs build against the current snapshot under the write lock and
// publishes the result. Nothing is published when build fails.
func (s *Store) commit(op event.Op, target string, build func(cur *Snapshot) ([]Node, []Edge, error)) (*Snapshot, error) {
	s.mu.Lock()
	cur := s.current.Load()
	nodes, edges, err := build(cur)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	next := newSnapshot(cur.version+1, nodes, edges)
	s.current.Store(next)
	s.mu.Unlock()

	s.notify(event.Change{
		Version:    next.version,
		Op:         op,
		Target:     target,
		Nodes:      next.NodeCount(),
		Edges:      next.EdgeCount(),
		OccurredAt: time.Now(),
	})
	return next, nil
}

func (s *Store) notify(c event.Change) {
	s.subMu.RLock()
	fns := make([]func(event.Change), 0, len(s.subKeys))
	for _, k := range s.subKeys {
		fns = append(fns, s.subs[k])
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

func cloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.clone()
	}
	return out
}
