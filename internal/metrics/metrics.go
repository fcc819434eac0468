package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExpansionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuitscope_expansions_started_total",
		Help: "Total number of expansions that entered the loading state.",
	})

	ExpansionsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuitscope_expansions_coalesced_total",
		Help: "Total number of expand requests ignored because the node was already loading or expanded.",
	})

	ExpansionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuitscope_expansions_finished_total",
		Help: "Total number of finished expansions, labelled by outcome (expanded or an error kind).",
	}, []string{"outcome"})

	ExpansionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuitscope_expansions_dropped_total",
		Help: "Total number of async expand requests rejected due to a full queue.",
	})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "circuitscope_fetch_duration_ms",
		Help:    "Subgraph fetch latency in milliseconds, labelled by status.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"status"})

	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "circuitscope_graph_nodes",
		Help: "Number of nodes in the current snapshot.",
	})

	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "circuitscope_graph_edges",
		Help: "Number of edges in the current snapshot.",
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "circuitscope_expand_queue_utilization_ratio",
		Help: "Current async expand queue utilization (0–1).",
	})
)
