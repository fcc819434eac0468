// Package expand implements on-demand expansion of composite nodes.
//
// Each expandable node moves through collapsed → loading → expanded. The
// fetch of a node's subgraph is the only blocking step; while it runs,
// further expand requests for that node are no-ops, and requests for other
// nodes proceed concurrently. A failed or cancelled fetch reverts the node
// to collapsed and leaves the graph untouched.
package expand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/event"
	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
	"github.com/gyaneshwarpardhi/circuitscope/internal/graph"
	"github.com/gyaneshwarpardhi/circuitscope/internal/metrics"
)

// Fetcher retrieves the subgraph of a component by name.
type Fetcher interface {
	FetchSubgraph(ctx context.Context, component string) (*graph.Payload, error)
}

// State is the expansion state of a node.
type State string

const (
	StateCollapsed State = "collapsed"
	StateLoading   State = "loading"
	StateExpanded  State = "expanded"
)

// Result is the outcome of an expand or collapse request.
type Result struct {
	NodeID     string `json:"node_id"`
	State      State  `json:"state"`
	Noop       bool   `json:"noop,omitempty"` // request ignored: already loading or expanded
	AddedNodes int    `json:"added_nodes,omitempty"`
	AddedEdges int    `json:"added_edges,omitempty"`
	Removed    int    `json:"removed_nodes,omitempty"`
	Version    uint64 `json:"version"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type entry struct {
	state  State
	gen    uint64
	cancel context.CancelFunc
}

// Controller drives expansions against a Store.
type Controller struct {
	store   *graph.Store
	fetcher Fetcher
	conf    config.SessionConf

	// mu guards nodes and is held across Store.Merge and Store.Prune so a
	// collapse cannot slip in between the staleness check and the commit.
	// Store subscribers must therefore not call back into the controller
	// synchronously.
	mu    sync.Mutex
	nodes map[string]*entry
	gen   uint64

	pool    *workerPool[string]
	stopped atomic.Bool
	unsub   func()
}

// New creates a Controller and starts its async expand workers.
func New(ctx context.Context, store *graph.Store, fetcher Fetcher, conf config.SessionConf) *Controller {
	c := &Controller{
		store:   store,
		fetcher: fetcher,
		conf:    conf,
		nodes:   make(map[string]*entry),
	}
	c.pool = newWorkerPool(ctx, conf.ExpandWorkers, conf.QueueDepth, func(ctx context.Context, id string) {
		if _, err := c.Expand(ctx, id); err != nil {
			slog.Warn("async expand failed", "node", id, "kind", faults.KindOf(err), "err", err)
		}
	})
	c.unsub = store.Subscribe(func(ch event.Change) {
		metrics.GraphNodes.Set(float64(ch.Nodes))
		metrics.GraphEdges.Set(float64(ch.Edges))
	})
	return c
}

// Load fetches the root component and installs it as the whole graph, with
// ids exactly as supplied. Any in-flight expansion is abandoned.
func (c *Controller) Load(ctx context.Context, component string) (*graph.Snapshot, error) {
	p, err := c.fetch(ctx, component)
	if err != nil {
		return nil, err
	}
	nodes := make([]graph.Node, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		nodes = append(nodes, c.bind(n))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.store.Replace(nodes, p.Edges)
	if err != nil {
		return nil, err
	}
	for id, e := range c.nodes {
		if e.cancel != nil {
			e.cancel()
		}
		delete(c.nodes, id)
	}
	slog.Info("graph loaded", "component", component, "nodes", snap.NodeCount(), "edges", snap.EdgeCount())
	return snap, nil
}

// Expand fetches and merges the subgraph of an expandable node. Requests
// for a node that is already loading or expanded return a no-op Result.
func (c *Controller) Expand(ctx context.Context, id string) (*Result, error) {
	start := time.Now()
	n, ok := c.store.Snapshot().Node(id)
	if !ok {
		return nil, faults.New(faults.KindNotFound, "expand", "node %q not in graph", id)
	}
	if n.Kind != graph.KindExpandable {
		return nil, faults.New(faults.KindNotExpandable, "expand "+id, "node kind is %q", n.Kind)
	}

	c.mu.Lock()
	if st := c.stateLocked(id, n); st != StateCollapsed {
		c.mu.Unlock()
		metrics.ExpansionsCoalesced.Inc()
		return &Result{NodeID: id, State: st, Noop: true, Version: c.store.Snapshot().Version()}, nil
	}
	c.gen++
	gen := c.gen
	fctx, cancel := context.WithCancel(ctx)
	c.nodes[id] = &entry{state: StateLoading, gen: gen, cancel: cancel}
	c.mu.Unlock()
	defer cancel()

	metrics.ExpansionsStarted.Inc()
	slog.Debug("expanding", "node", id, "component", n.Label)

	p, ferr := c.fetch(fctx, n.Label)

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.nodes[id]
	if e == nil || e.gen != gen {
		// Collapsed (or reloaded) while the fetch was in flight.
		metrics.ExpansionsFinished.WithLabelValues(string(faults.KindCanceled)).Inc()
		return nil, faults.New(faults.KindCanceled, "expand "+id, "node collapsed before its subgraph arrived")
	}
	if ferr != nil {
		delete(c.nodes, id)
		metrics.ExpansionsFinished.WithLabelValues(string(faults.KindOf(ferr))).Inc()
		return nil, ferr
	}

	nodes, edges, err := c.namespace(n, p)
	if err != nil {
		delete(c.nodes, id)
		metrics.ExpansionsFinished.WithLabelValues(string(faults.KindValidation)).Inc()
		return nil, fmt.Errorf("expand %s: %w", id, err)
	}
	snap, err := c.store.Merge(nodes, edges, id)
	if err != nil {
		delete(c.nodes, id)
		metrics.ExpansionsFinished.WithLabelValues(string(faults.KindOf(err))).Inc()
		return nil, fmt.Errorf("expand %s: %w", id, err)
	}
	e.state = StateExpanded
	e.cancel = nil
	metrics.ExpansionsFinished.WithLabelValues(string(StateExpanded)).Inc()
	slog.Info("node expanded", "node", id, "component", n.Label, "added_nodes", len(nodes), "added_edges", len(edges))

	return &Result{
		NodeID:     id,
		State:      StateExpanded,
		AddedNodes: len(nodes),
		AddedEdges: len(edges),
		Version:    snap.Version(),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// Collapse cancels an in-flight expansion, or removes the subgraph merged
// by a completed one. Collapsing a collapsed node is a no-op.
func (c *Controller) Collapse(id string) (*Result, error) {
	n, ok := c.store.Snapshot().Node(id)
	if !ok {
		return nil, faults.New(faults.KindNotFound, "collapse", "node %q not in graph", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.stateLocked(id, n) {
	case StateLoading:
		c.nodes[id].cancel()
		delete(c.nodes, id)
		slog.Info("expansion cancelled", "node", id)
		return &Result{NodeID: id, State: StateCollapsed, Version: c.store.Snapshot().Version()}, nil
	case StateExpanded:
		snap, removed, err := c.store.Prune(id)
		if err != nil {
			return nil, err
		}
		delete(c.nodes, id)
		for _, r := range removed {
			if e := c.nodes[r]; e != nil {
				if e.cancel != nil {
					e.cancel()
				}
				delete(c.nodes, r)
			}
		}
		slog.Info("node collapsed", "node", id, "removed_nodes", len(removed))
		return &Result{NodeID: id, State: StateCollapsed, Removed: len(removed), Version: snap.Version()}, nil
	default:
		return &Result{NodeID: id, State: StateCollapsed, Noop: true, Version: c.store.Snapshot().Version()}, nil
	}
}

// State reports the expansion state of a node.
func (c *Controller) State(id string) State {
	n, _ := c.store.Snapshot().Node(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(id, n)
}

func (c *Controller) stateLocked(id string, n graph.Node) State {
	if e, ok := c.nodes[id]; ok {
		return e.state
	}
	if n.Expanded {
		return StateExpanded
	}
	return StateCollapsed
}

// ExpandAsync queues an expansion on the worker pool. It returns false when
// the queue is full or the controller is shut down.
func (c *Controller) ExpandAsync(id string) bool {
	if c.stopped.Load() || !c.pool.Submit(id) {
		metrics.ExpansionsDropped.Inc()
		return false
	}
	metrics.QueueUtilization.Set(c.pool.Utilization())
	return true
}

// ExpandMany expands several nodes concurrently, at most expand_workers at
// a time. Results are in the order of ids; a failed node's result carries
// its error message and current state, and the error is also joined into
// the returned error.
func (c *Controller) ExpandMany(ctx context.Context, ids []string) ([]*Result, error) {
	results := make([]*Result, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(max(c.conf.ExpandWorkers, 1))
	for i, id := range ids {
		g.Go(func() error {
			res, err := c.Expand(ctx, id)
			if err != nil {
				res = &Result{NodeID: id, State: c.State(id), Error: err.Error()}
			}
			results[i], errs[i] = res, err
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// QueueUtilization returns the async expand queue fill ratio (0–1).
func (c *Controller) QueueUtilization() float64 {
	return c.pool.Utilization()
}

// Shutdown stops accepting async work and waits for queued expansions.
func (c *Controller) Shutdown() {
	c.stopped.Store(true)
	c.pool.Drain()
	c.unsub()
}

func (c *Controller) fetch(ctx context.Context, component string) (*graph.Payload, error) {
	if c.conf.FetchTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.conf.FetchTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	start := time.Now()
	p, err := c.fetcher.FetchSubgraph(ctx, component)
	status := "ok"
	if err != nil {
		status = "error"
		if faults.KindOf(err) == "" {
			err = faults.Wrap(faults.KindFetch, "fetch "+component, err, "subgraph fetch failed")
		}
	}
	metrics.FetchDuration.WithLabelValues(status).Observe(float64(time.Since(start).Milliseconds()))
	return p, err
}

// bind attaches an expand capability to expandable nodes.
func (c *Controller) bind(n graph.Node) graph.Node {
	if n.Kind != graph.KindExpandable {
		return n
	}
	id := n.ID
	return n.WithExpander(graph.ExpandFunc(func(ctx context.Context) error {
		_, err := c.Expand(ctx, id)
		return err
	}))
}
