package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/shopspring/decimal"
)

type productResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ImageURL      string          `json:"imageUrl"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
}

// Client reads authoritative product data from the catalog service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ orderapp.CatalogClient = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) GetProduct(ctx context.Context, productID string) (orderapp.Product, error) {
	endpoint := c.baseURL + "/api/products/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return orderapp.Product{}, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return orderapp.Product{}, fmt.Errorf("error calling catalog-service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return orderapp.Product{}, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return orderapp.Product{}, domain.Errorf(domain.KindProductNotFound, "product %s not found", productID)
	}
	if resp.StatusCode != http.StatusOK {
		return orderapp.Product{}, fmt.Errorf("catalog-service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p productResponse
	if err := json.Unmarshal(body, &p); err != nil {
		return orderapp.Product{}, fmt.Errorf("error unmarshalling product response: %w", err)
	}
	if p.ID == "" {
		p.ID = productID
	}
	return orderapp.Product{
		ID:            p.ID,
		Name:          p.Name,
		Image:         p.ImageURL,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
	}, nil
}
