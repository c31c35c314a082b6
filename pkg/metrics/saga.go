package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Saga holds the order service's counters. A nil *Saga records nothing.
type Saga struct {
	ordersCreated    *prometheus.CounterVec
	creationFailures *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	cartClearFailed  prometheus.Counter
	requests         *prometheus.CounterVec
	latencyMS        *prometheus.HistogramVec
}

func NewSaga(reg prometheus.Registerer) *Saga {
	m := &Saga{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_service",
			Name:      "orders_created_total",
			Help:      "Orders placed, by payment method.",
		}, []string{"method"}),
		creationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_service",
			Name:      "order_creation_failures_total",
			Help:      "Failed order creations, by error kind.",
		}, []string{"kind"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_service",
			Name:      "payment_callbacks_total",
			Help:      "Payment callbacks reconciled, by outcome.",
		}, []string{"outcome"}),
		cartClearFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_service",
			Name:      "cart_clear_failures_total",
			Help:      "Cart clears that failed after an order was placed.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "order_service",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		latencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "order_service",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	reg.MustRegister(m.ordersCreated, m.creationFailures, m.callbacks, m.cartClearFailed, m.requests, m.latencyMS)
	return m
}

func (m *Saga) OrderCreated(method string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(method).Inc()
}

func (m *Saga) OrderCreationFailed(kind string) {
	if m == nil {
		return
	}
	m.creationFailures.WithLabelValues(kind).Inc()
}

func (m *Saga) CallbackProcessed(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Saga) CartClearFailed() {
	if m == nil {
		return
	}
	m.cartClearFailed.Inc()
}

func (m *Saga) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latencyMS.WithLabelValues(route).Observe(float64(elapsed.Microseconds()) / 1000)
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
