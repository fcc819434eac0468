package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/circuitscope/internal/catalog"
	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/event"
	"github.com/gyaneshwarpardhi/circuitscope/internal/expand"
	"github.com/gyaneshwarpardhi/circuitscope/internal/graph"
	"github.com/gyaneshwarpardhi/circuitscope/internal/metrics"
)

const maxSourceBytes = 8 << 20

// Handler holds all HTTP handler dependencies.
type Handler struct {
	loader *config.Loader
	live   *catalog.Live
	store  *graph.Store
	ctrl   *expand.Controller
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes: the graph-data
// backend, the debugging session, and health/metrics endpoints.
func New(loader *config.Loader, live *catalog.Live, store *graph.Store, ctrl *expand.Controller) http.Handler {
	h := &Handler{loader: loader, live: live, store: store, ctrl: ctrl, mux: http.NewServeMux()}

	// Graph-data backend.
	h.mux.HandleFunc("GET /graph-data/{component}", h.graphData)
	h.mux.HandleFunc("GET /get_file", h.getFile)
	h.mux.HandleFunc("GET /v1/templates", h.listTemplates)
	h.mux.HandleFunc("GET /v1/templates/{name}", h.getTemplate)
	h.mux.HandleFunc("POST /v1/catalog/reload", h.reloadCatalog)

	// Session.
	h.mux.HandleFunc("GET /v1/graph", h.getGraph)
	h.mux.HandleFunc("GET /v1/graph/events", h.graphEvents)
	h.mux.HandleFunc("POST /v1/nodes/{id}/expand", h.expandNode)
	h.mux.HandleFunc("POST /v1/nodes/{id}/collapse", h.collapseNode)
	h.mux.HandleFunc("GET /v1/nodes/{id}/state", h.nodeState)
	h.mux.HandleFunc("PUT /v1/nodes/{id}/position", h.moveNode)
	h.mux.HandleFunc("POST /v1/edges", h.connect)
	h.mux.HandleFunc("DELETE /v1/edges/{id}", h.disconnect)

	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// GET /graph-data/{component} — subgraph payload for one component.
func (h *Handler) graphData(w http.ResponseWriter, r *http.Request) {
	p, err := h.live.Current().Subgraph(r.PathValue("component"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /get_file — source text of the active circuit file.
func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	path := h.loader.Config().Source.Path
	if path == "" {
		writeError(w, http.StatusNotFound, "no source file configured")
		return
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, fmt.Sprintf("source file %s not found", path))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case info.Size() > maxSourceBytes:
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("source file exceeds %d bytes", maxSourceBytes))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GET /v1/templates — catalog listing.
func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	c := h.live.Current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"main":      c.Main(),
		"templates": c.Names(),
		"used":      c.UsedTemplates(),
	})
}

// GET /v1/templates/{name} — signals, components and wires of one template.
func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	t, ok := h.live.Current().Template(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown template %q", name))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// POST /v1/catalog/reload — re-read the config and rebuild the catalog.
func (h *Handler) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	c, err := h.live.Reload(cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":        true,
		"templates_count": len(c.Names()),
	})
}

// GET /v1/graph — current snapshot.
func (h *Handler) getGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// GET /v1/graph/events — server-sent stream of snapshot changes. The first
// event carries the version current at subscription time.
func (h *Handler) graphEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	changes := make(chan event.Change, 32)
	cancel := h.store.Subscribe(func(c event.Change) {
		select {
		case changes <- c:
		default: // slow reader; it can resync from /v1/graph
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap := h.store.Snapshot()
	writeEvent(w, "snapshot", event.Change{Version: snap.Version(), Nodes: snap.NodeCount(), Edges: snap.EdgeCount()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case c := <-changes:
			writeEvent(w, "change", c)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, c event.Change) {
	data, _ := json.Marshal(c)
	fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", name, c.Version, data)
}

// POST /v1/nodes/{id}/expand — synchronous by default; ?async=true queues it.
func (h *Handler) expandNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.URL.Query().Get("async") == "true" {
		if !h.ctrl.ExpandAsync(id) {
			writeError(w, http.StatusTooManyRequests, "expand queue full")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"node_id": id, "queued": true})
		return
	}
	res, err := h.ctrl.Expand(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/nodes/{id}/collapse
func (h *Handler) collapseNode(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctrl.Collapse(r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/nodes/{id}/state
func (h *Handler) nodeState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.store.Snapshot().Has(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("node %q not in graph", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"node_id": id, "state": h.ctrl.State(id)})
}

// PUT /v1/nodes/{id}/position — drag/reposition from the renderer.
func (h *Handler) moveNode(w http.ResponseWriter, r *http.Request) {
	var pos graph.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	snap, err := h.store.Move(r.PathValue("id"), pos)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": snap.Version()})
}

// POST /v1/edges — manual edge creation.
func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	var e graph.Edge
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	snap, err := h.store.Connect(e)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"edge": e, "version": snap.Version()})
}

// DELETE /v1/edges/{id}
func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Disconnect(r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": snap.Version()})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 until the root component is loaded or if the expand
// queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.ctrl.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	loaded := h.store.Snapshot().NodeCount() > 0
	if !loaded || util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "unavailable",
			"graph_loaded":      loaded,
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
