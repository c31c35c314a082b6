package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSagaCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSaga(reg)

	m.OrderCreated("COD")
	m.OrderCreated("COD")
	m.OrderCreationFailed("price_mismatch")
	m.CallbackProcessed("applied")
	m.CartClearFailed()
	m.ObserveRequest("/api/orders", http.StatusCreated, 12*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersCreated.WithLabelValues("COD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.creationFailures.WithLabelValues("price_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbacks.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cartClearFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/orders", "201")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "order_service_orders_created_total")
}

func TestNilSagaIsSafe(t *testing.T) {
	var m *Saga
	assert.NotPanics(t, func() {
		m.OrderCreated("COD")
		m.OrderCreationFailed("x")
		m.CallbackProcessed("noop")
		m.CartClearFailed()
		m.ObserveRequest("/", 200, time.Millisecond)
	})
}
