package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Collector counts workflow outcomes. It implements orders.Observer and the
// sweeper's observer.
type Collector struct {
	Registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	movements    *prometheus.CounterVec
	sweepExpired prometheus.Counter
	sweepRuns    *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "order_transitions_total",
			Help:      "Order lifecycle events by outcome.",
		}, []string{"event", "result"}),
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "stock_movements_total",
			Help:      "Committed stock movements by kind.",
		}, []string{"kind"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "sweep_expired_total",
			Help:      "Orders expired by the reservation sweeper.",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "sweep_runs_total",
			Help:      "Sweeper passes by result.",
		}, []string{"result"}),
	}
	c.Registry.MustRegister(
		c.transitions, c.movements, c.sweepExpired, c.sweepRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

var _ orders.Observer = (*Collector)(nil)

func (c *Collector) Transition(ev orders.Event, result string) {
	c.transitions.WithLabelValues(string(ev), result).Inc()
}

func (c *Collector) StockMoved(kind inventory.MovementKind, n int) {
	c.movements.WithLabelValues(string(kind)).Add(float64(n))
}

func (c *Collector) SweepRun(result string, expired int) {
	c.sweepRuns.WithLabelValues(result).Inc()
	c.sweepExpired.Add(float64(expired))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}
