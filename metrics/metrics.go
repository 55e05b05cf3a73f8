// Package metrics exposes the engine's pool and connection counters as
// Prometheus instruments. Nothing in conn, pool, or driver depends on
// Prometheus directly - they talk to the Recorder interface, so a caller
// that does not want metrics at all gets NoOp with zero wiring cost.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder receives the engine's observability signals: pool occupancy,
// wait durations, and counts of connections opened and closed (by reason).
type Recorder interface {
	SetActive(n float64)
	SetIdle(n float64)
	ObserveQueueWait(seconds float64)
	IncConnectionsOpened()
	IncConnectionsClosed(reason string)
}

// NoOp discards every observation. It is the default Recorder so callers
// who never configure metrics pay nothing beyond an interface call.
type NoOp struct{}

func (NoOp) SetActive(float64)            {}
func (NoOp) SetIdle(float64)              {}
func (NoOp) ObserveQueueWait(float64)     {}
func (NoOp) IncConnectionsOpened()        {}
func (NoOp) IncConnectionsClosed(string)  {}

// Prometheus is the Prometheus-backed Recorder, registering its
// instruments against the supplied registerer (pass prometheus.DefaultRegisterer
// to use the global one).
type Prometheus struct {
	active           prometheus.Gauge
	idle             prometheus.Gauge
	queueWaitSeconds prometheus.Histogram
	opened           prometheus.Counter
	closed           *prometheus.CounterVec
}

// NewPrometheus registers and returns a Prometheus recorder. namespace
// prefixes every metric name, e.g. "pyhttpclient".
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	p := &Prometheus{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "active_connections",
			Help: "Connections currently bound to a worker thread.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "idle_connections",
			Help: "Connections held open and available for reuse.",
		}),
		queueWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pool", Name: "queue_wait_seconds",
			Help:    "Time a request spent waiting for a connection slot.",
			Buckets: prometheus.DefBuckets,
		}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "connections_opened_total",
			Help: "Connections successfully dialed.",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "connections_closed_total",
			Help: "Connections torn down, labeled by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(p.active, p.idle, p.queueWaitSeconds, p.opened, p.closed)
	return p
}

func (p *Prometheus) SetActive(n float64)        { p.active.Set(n) }
func (p *Prometheus) SetIdle(n float64)          { p.idle.Set(n) }
func (p *Prometheus) ObserveQueueWait(s float64) { p.queueWaitSeconds.Observe(s) }
func (p *Prometheus) IncConnectionsOpened()      { p.opened.Inc() }
func (p *Prometheus) IncConnectionsClosed(reason string) {
	p.closed.WithLabelValues(reason).Inc()
}
