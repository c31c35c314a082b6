package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/products/P1":
			_, _ = w.Write([]byte(`{"id":"P1","name":"Keyboard","imageUrl":"k.png","price":"100000","stockQuantity":5}`))
		case "/api/products/P2":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	p, err := c.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", p.Name)
	assert.Equal(t, "k.png", p.Image)
	assert.Equal(t, 5, p.StockQuantity)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(100000)))

	_, err = c.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = c.GetProduct(ctx, "P2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrProductNotFound)
}
