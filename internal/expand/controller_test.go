package expand_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/expand"
	"github.com/gyaneshwarpardhi/circuitscope/internal/faults"
	"github.com/gyaneshwarpardhi/circuitscope/internal/fetch"
	"github.com/gyaneshwarpardhi/circuitscope/internal/graph"
)

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string]*graph.Payload
	errs     map[string]error
	calls    map[string]int
	gate     chan struct{} // when set, fetches block until it is closed
	entered  chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: map[string]*graph.Payload{"main": seedPayload()},
		errs:     map[string]error{},
		calls:    map[string]int{},
		entered:  make(chan string, 16),
	}
}

func (f *fakeFetcher) FetchSubgraph(ctx context.Context, component string) (*graph.Payload, error) {
	f.mu.Lock()
	f.calls[component]++
	gate := f.gate
	p, err := f.payloads[component], f.errs[component]
	f.mu.Unlock()

	f.entered <- component
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, faults.New(faults.KindFetch, "fetch "+component, "HTTP 404")
	}
	return p, nil
}

func (f *fakeFetcher) callCount(component string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[component]
}

func seedPayload() *graph.Payload {
	return &graph.Payload{
		Nodes: []graph.Node{
			{ID: "1", Label: "Node 0", Kind: graph.KindPlain},
			{ID: "2", Label: "Group A", Kind: graph.KindPlain},
			{ID: "2a", Label: "Node A.1", Kind: graph.KindPlain, ParentID: "2"},
			{ID: "3", Label: "Node 1", Kind: graph.KindPlain},
			{ID: "4", Label: "Group B", Kind: graph.KindGroup},
			{ID: "4a", Label: "Node B.1", Kind: graph.KindPlain, ParentID: "4"},
			{ID: "4b", Label: "4b", Kind: graph.KindExpandable, ParentID: "4", Inputs: 1, Ports: graph.BuildPorts("4b", 1)},
			{ID: "4b1", Label: "Node B.A.1", Kind: graph.KindPlain, ParentID: "4b"},
			{ID: "4b2", Label: "Node B.A.2", Kind: graph.KindPlain, ParentID: "4b"},
		},
		Edges: []graph.Edge{
			{ID: "e1-2", Source: "1", Target: "2", Animated: true},
			{ID: "e1-3", Source: "1", Target: "3"},
			{ID: "e2a-4a", Source: "2a", Target: "4a"},
			{ID: "e3-4b", Source: "3", Target: "4b"},
			{ID: "e4a-4b1", Source: "4a", Target: "4b1"},
			{ID: "e4a-4b2", Source: "4a", Target: "4b2"},
			{ID: "e4b1-4b2", Source: "4b1", Target: "4b2"},
		},
	}
}

func testConf() config.SessionConf {
	return config.SessionConf{Root: "main", FetchTimeoutMs: 2000, ExpandWorkers: 2, QueueDepth: 8}
}

func loaded(t *testing.T, f expand.Fetcher) (*expand.Controller, *graph.Store) {
	t.Helper()
	store := graph.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := expand.New(ctx, store, f, testConf())
	t.Cleanup(func() {
		cancel()
		ctrl.Shutdown()
	})
	if _, err := ctrl.Load(context.Background(), "main"); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return ctrl, store
}

func nodeIDs(s *graph.Snapshot) []string {
	var ids []string
	for _, n := range s.Nodes() {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestLoad_InstallsPayloadAsIs(t *testing.T) {
	_, store := loaded(t, newFakeFetcher())
	snap := store.Snapshot()

	want := []string{"1", "2", "2a", "3", "4", "4a", "4b", "4b1", "4b2"}
	got := nodeIDs(snap)
	if len(got) != len(want) {
		t.Fatalf("nodes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("nodes = %v, want %v", got, want)
		}
	}
	for _, id := range []string{"e1-2", "e1-3", "e2a-4a", "e3-4b", "e4a-4b1", "e4a-4b2", "e4b1-4b2"} {
		if _, ok := snap.Edge(id); !ok {
			t.Errorf("missing edge %s", id)
		}
	}
	if n, _ := snap.Node("4b"); !n.Expandable() {
		t.Errorf("4b should carry an expand capability after load")
	}
}

func TestExpand_EndToEnd(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}}}
	ctrl, store := loaded(t, f)

	res, err := ctrl.Expand(context.Background(), "4b")
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if res.State != expand.StateExpanded || res.AddedNodes != 1 || res.Noop {
		t.Errorf("unexpected result: %+v", res)
	}

	snap := store.Snapshot()
	for _, id := range []string{"4b1", "4b2", "4b/X"} {
		if !snap.Has(id) {
			t.Errorf("expected node %s in merged snapshot", id)
		}
	}
	x, _ := snap.Node("4b/X")
	if x.ParentID != "4b" || x.Origin != "4b" {
		t.Errorf("unexpected namespaced node: %+v", x)
	}
	if b, _ := snap.Node("4b"); !b.Expanded {
		t.Errorf("4b.expanded should be true")
	}
	if ctrl.State("4b") != expand.StateExpanded {
		t.Errorf("state = %s, want expanded", ctrl.State("4b"))
	}
	if f.callCount("4b") != 1 {
		t.Errorf("expected one fetch for 4b, got %d", f.callCount("4b"))
	}
}

func TestExpand_Idempotent(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}}}
	ctrl, store := loaded(t, f)

	if _, err := ctrl.Expand(context.Background(), "4b"); err != nil {
		t.Fatalf("first Expand error: %v", err)
	}
	first := store.Snapshot()

	res, err := ctrl.Expand(context.Background(), "4b")
	if err != nil {
		t.Fatalf("second Expand error: %v", err)
	}
	if !res.Noop || res.State != expand.StateExpanded {
		t.Errorf("second expand should be a no-op, got %+v", res)
	}
	if store.Snapshot() != first {
		t.Errorf("second expand must not change the snapshot")
	}
	if f.callCount("4b") != 1 {
		t.Errorf("expected one fetch, got %d", f.callCount("4b"))
	}
}

func TestExpand_ReentrantWhileLoading(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}}}
	ctrl, store := loaded(t, f)
	<-f.entered // initial load

	f.mu.Lock()
	f.gate = make(chan struct{})
	gate := f.gate
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Expand(context.Background(), "4b")
		done <- err
	}()
	<-f.entered

	before := store.Snapshot()
	res, err := ctrl.Expand(context.Background(), "4b")
	if err != nil {
		t.Fatalf("reentrant Expand error: %v", err)
	}
	if !res.Noop || res.State != expand.StateLoading {
		t.Errorf("expected no-op while loading, got %+v", res)
	}
	if store.Snapshot() != before {
		t.Errorf("reentrant expand changed the snapshot")
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("original Expand error: %v", err)
	}
	if f.callCount("4b") != 1 {
		t.Errorf("expected one fetch, got %d", f.callCount("4b"))
	}
	if !store.Snapshot().Has("4b/X") {
		t.Errorf("original request should complete the merge")
	}
}

func TestExpand_FetchFailureReverts(t *testing.T) {
	f := newFakeFetcher()
	f.errs["4b"] = faults.New(faults.KindFetch, "fetch 4b", "HTTP 500")
	ctrl, store := loaded(t, f)
	before := store.Snapshot()

	_, err := ctrl.Expand(context.Background(), "4b")
	if !faults.Is(err, faults.KindFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if ctrl.State("4b") != expand.StateCollapsed {
		t.Errorf("state = %s, want collapsed", ctrl.State("4b"))
	}
	if store.Snapshot() != before {
		t.Errorf("failed expand must leave the snapshot unchanged")
	}

	// Retry is permitted once the backend recovers.
	f.mu.Lock()
	delete(f.errs, "4b")
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}}}
	f.mu.Unlock()
	if _, err := ctrl.Expand(context.Background(), "4b"); err != nil {
		t.Fatalf("retry Expand error: %v", err)
	}
	if ctrl.State("4b") != expand.StateExpanded {
		t.Errorf("state after retry = %s", ctrl.State("4b"))
	}
}

func TestExpand_PlainErrorBecomesFetchError(t *testing.T) {
	f := newFakeFetcher()
	f.errs["4b"] = context.DeadlineExceeded
	ctrl, _ := loaded(t, f)
	if _, err := ctrl.Expand(context.Background(), "4b"); !faults.Is(err, faults.KindFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestExpand_InvalidSubgraphRejected(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{
		Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}},
		Edges: []graph.Edge{{ID: "e", Source: "X", Target: "ghost"}},
	}
	ctrl, store := loaded(t, f)
	before := store.Snapshot()

	_, err := ctrl.Expand(context.Background(), "4b")
	if !faults.Is(err, faults.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.Snapshot() != before || store.Snapshot().Has("4b/X") {
		t.Errorf("invalid subgraph must not be partially merged")
	}
	if ctrl.State("4b") != expand.StateCollapsed {
		t.Errorf("state = %s, want collapsed", ctrl.State("4b"))
	}
}

func TestExpand_NotExpandable(t *testing.T) {
	ctrl, _ := loaded(t, newFakeFetcher())
	if _, err := ctrl.Expand(context.Background(), "1"); !faults.Is(err, faults.KindNotExpandable) {
		t.Fatalf("expected not_expandable, got %v", err)
	}
	if _, err := ctrl.Expand(context.Background(), "missing"); !faults.Is(err, faults.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestExpand_RewiresToBoundary(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{
		Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}},
		Edges: []graph.Edge{
			{ID: "in", Source: "", SourcePort: "4b.in[0]", Target: "X"},
			{ID: "out", Source: "X", Target: "4b", TargetPort: "4b.out"},
		},
	}
	ctrl, store := loaded(t, f)
	if _, err := ctrl.Expand(context.Background(), "4b"); err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	snap := store.Snapshot()
	in, ok := snap.Edge("4b/in")
	if !ok || in.Source != "4b" || in.Target != "4b/X" {
		t.Errorf("unexpected rewired input edge: %+v", in)
	}
	out, ok := snap.Edge("4b/out")
	if !ok || out.Source != "4b/X" || out.Target != "4b" {
		t.Errorf("unexpected rewired output edge: %+v", out)
	}
}

func TestCollapse_WhileLoadingDiscardsResult(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}}}
	ctrl, store := loaded(t, f)
	<-f.entered

	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Expand(context.Background(), "4b")
		done <- err
	}()
	<-f.entered
	before := store.Snapshot()

	res, err := ctrl.Collapse("4b")
	if err != nil {
		t.Fatalf("Collapse error: %v", err)
	}
	if res.State != expand.StateCollapsed {
		t.Errorf("unexpected collapse result: %+v", res)
	}

	if err := <-done; !faults.Is(err, faults.KindCanceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if store.Snapshot() != before {
		t.Errorf("cancelled fetch must not change the snapshot")
	}
	if ctrl.State("4b") != expand.StateCollapsed {
		t.Errorf("state = %s, want collapsed", ctrl.State("4b"))
	}
}

func TestCollapse_ExpandedThenReexpand(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}}}
	ctrl, store := loaded(t, f)

	if _, err := ctrl.Expand(context.Background(), "4b"); err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	res, err := ctrl.Collapse("4b")
	if err != nil {
		t.Fatalf("Collapse error: %v", err)
	}
	if res.Removed != 1 || store.Snapshot().Has("4b/X") {
		t.Errorf("expected 4b/X pruned, result %+v", res)
	}
	if !store.Snapshot().Has("4b1") {
		t.Errorf("initially loaded children must survive collapse")
	}
	if _, err := ctrl.Expand(context.Background(), "4b"); err != nil {
		t.Fatalf("re-Expand error: %v", err)
	}
	if f.callCount("4b") != 2 {
		t.Errorf("expected a second fetch after collapse, got %d", f.callCount("4b"))
	}
}

func TestCollapse_DropsBoundaryToBoundaryEdges(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{
		Nodes: []graph.Node{},
		Edges: []graph.Edge{{ID: "thru", Source: "", SourcePort: "4b.in[0]", Target: "", TargetPort: "4b.out"}},
	}
	ctrl, store := loaded(t, f)

	if _, err := ctrl.Expand(context.Background(), "4b"); err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if e, ok := store.Snapshot().Edge("4b/thru"); !ok || e.Source != "4b" || e.Target != "4b" {
		t.Fatalf("pass-through edge not rewired to the boundary: %+v", e)
	}
	if _, err := ctrl.Collapse("4b"); err != nil {
		t.Fatalf("Collapse error: %v", err)
	}
	if _, ok := store.Snapshot().Edge("4b/thru"); ok {
		t.Errorf("edge 4b/thru survived collapse")
	}
	if _, err := ctrl.Expand(context.Background(), "4b"); err != nil {
		t.Fatalf("re-Expand error: %v", err)
	}
	if ctrl.State("4b") != expand.StateExpanded {
		t.Errorf("state = %s, want expanded", ctrl.State("4b"))
	}
}

func TestExpand_RejectsEmptyNodeID(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "", Label: "X", Kind: graph.KindPlain}}}
	ctrl, store := loaded(t, f)
	before := store.Snapshot()

	_, err := ctrl.Expand(context.Background(), "4b")
	if !faults.Is(err, faults.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "id is required") || strings.Contains(err.Error(), "cycle") {
		t.Errorf("unexpected message: %v", err)
	}
	if store.Snapshot() != before {
		t.Errorf("rejected subgraph must not change the snapshot")
	}
	if ctrl.State("4b") != expand.StateCollapsed {
		t.Errorf("state = %s, want collapsed", ctrl.State("4b"))
	}
}

func TestExpandMany_IndependentCopies(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["main"] = &graph.Payload{Nodes: []graph.Node{
		{ID: "a", Label: "Mul", Kind: graph.KindExpandable},
		{ID: "b", Label: "Mul", Kind: graph.KindExpandable},
	}}
	f.payloads["Mul"] = &graph.Payload{
		Nodes: []graph.Node{
			{ID: "x", Label: "Inner", Kind: graph.KindExpandable},
			{ID: "y", Label: "Leaf", Kind: graph.KindPlain, ParentID: "x"},
		},
		Edges: []graph.Edge{{ID: "e", Source: "x", Target: "y"}},
	}
	f.payloads["Inner"] = &graph.Payload{Nodes: []graph.Node{{ID: "z", Label: "Z", Kind: graph.KindPlain}}}
	ctrl, store := loaded(t, f)

	results, err := ctrl.ExpandMany(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("ExpandMany error: %v", err)
	}
	if len(results) != 2 || results[0].NodeID != "a" || results[1].NodeID != "b" {
		t.Fatalf("unexpected results: %+v", results)
	}

	snap := store.Snapshot()
	for _, id := range []string{"a/x", "a/y", "b/x", "b/y", "a/e", "b/e"} {
		if !snap.Has(id) {
			if _, ok := snap.Edge(id); !ok {
				t.Errorf("missing %s", id)
			}
		}
	}
	if y, _ := snap.Node("b/y"); y.ParentID != "b/x" {
		t.Errorf("nested parent not renamed: %+v", y)
	}

	// Children carry their own capability.
	inner, _ := snap.Node("a/x")
	if err := inner.Expand(context.Background()); err != nil {
		t.Fatalf("nested Expand error: %v", err)
	}
	if !store.Snapshot().Has("a/x/z") {
		t.Errorf("expected a/x/z after nested expansion")
	}
	if store.Snapshot().Has("b/x/z") {
		t.Errorf("expanding a/x must not touch b/x")
	}
}

func TestExpandMany_ReportsFailures(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}}}
	ctrl, _ := loaded(t, f)

	results, err := ctrl.ExpandMany(context.Background(), []string{"4b", "1"})
	if !faults.Is(err, faults.KindNotExpandable) {
		t.Fatalf("expected joined not_expandable error, got %v", err)
	}
	if results[0].Error != "" || results[0].State != expand.StateExpanded {
		t.Errorf("4b result = %+v", results[0])
	}
	if results[1].NodeID != "1" || results[1].Error == "" || results[1].State != expand.StateCollapsed {
		t.Errorf("failed result = %+v", results[1])
	}
}

func TestExpandAsync(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["4b"] = &graph.Payload{Nodes: []graph.Node{{ID: "X", Label: "X", Kind: graph.KindPlain}}}
	ctrl, store := loaded(t, f)

	if !ctrl.ExpandAsync("4b") {
		t.Fatalf("ExpandAsync rejected")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !store.Snapshot().Has("4b/X") {
		if time.Now().After(deadline) {
			t.Fatalf("async expansion did not complete")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExpand_HTTPFailureScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/graph-data/main":
			_, _ = w.Write([]byte(`{
				"nodes": [
					{"id": "3", "label": "Node 1"},
					{"id": "4b", "label": "4b", "kind": "expandable"}
				],
				"edges": [{"id": "e3-4b", "source": "3", "target": "4b"}]
			}`))
		default:
			http.Error(w, "internal", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client, err := fetch.New(srv.URL, fetch.WithRetries(0, time.Millisecond))
	if err != nil {
		t.Fatalf("fetch.New error: %v", err)
	}
	ctrl, store := loaded(t, client)
	before := store.Snapshot()

	_, err = ctrl.Expand(context.Background(), "4b")
	if !faults.Is(err, faults.KindFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if ctrl.State("4b") != expand.StateCollapsed || store.Snapshot() != before {
		t.Errorf("4b should stay collapsed with the snapshot unchanged")
	}
}
