package node

import (
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pallaschain/pallas/internal/core"
)

// Metrics exposes the node's consensus health over Prometheus:
// commit and view-change counters plus the chain's current position.
type Metrics struct {
	blocksCommitted prometheus.Counter
	macroCommitted  prometheus.Counter
	viewTimeouts    prometheus.Counter
	behindEvents    prometheus.Counter
	evidenceTotal   prometheus.Counter
	chainHeight     prometheus.Gauge
	chainEpoch      prometheus.Gauge

	registry *prometheus.Registry
	logger   *log.Logger
}

// NewMetrics registers every gauge/counter against a private registry
// so multiple Nodes in the same process (as in a test harness running
// several validators) don't collide on the default global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		blocksCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pallas_blocks_committed_total",
			Help: "Micro- and macro-blocks appended to the chain.",
		}),
		macroCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pallas_macro_blocks_committed_total",
			Help: "Macro-blocks (epoch boundaries) appended to the chain.",
		}),
		viewTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pallas_view_changes_total",
			Help: "View-change timeouts observed at the current height.",
		}),
		behindEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "pallas_behind_events_total",
			Help: "Times this node detected it was behind and invoked the chain loader.",
		}),
		evidenceTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pallas_equivocation_evidence_total",
			Help: "Equivocation evidence records surfaced by the consensus engine.",
		}),
		chainHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pallas_chain_offset",
			Help: "Current block offset within the active epoch.",
		}),
		chainEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pallas_chain_epoch",
			Help: "Current epoch number.",
		}),
		registry: reg,
		logger:   log.New(os.Stdout, "METRICS: ", log.LstdFlags),
	}
	return m
}

// ObserveCommit updates the commit counters/gauges from a just-
// appended block; wired to core.ChainState.OnCommit.
func (m *Metrics) ObserveCommit(b core.Block) {
	m.blocksCommitted.Inc()
	if b.IsMacro() {
		m.macroCommitted.Inc()
	}
	h := b.Header().Height
	m.chainEpoch.Set(float64(h.Epoch))
	m.chainHeight.Set(float64(h.Offset))
}

// ObserveViewTimeout records a view-change timeout firing.
func (m *Metrics) ObserveViewTimeout() { m.viewTimeouts.Inc() }

// ObserveBehind records this node switching to loader mode.
func (m *Metrics) ObserveBehind() { m.behindEvents.Inc() }

// ObserveEvidence records a surfaced equivocation.
func (m *Metrics) ObserveEvidence() { m.evidenceTotal.Inc() }

// Serve runs the metrics HTTP endpoint until the listener fails;
// intended to be run in its own goroutine by the composition root.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.logger.Printf("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		m.logger.Printf("metrics server stopped: %v", err)
	}
}
