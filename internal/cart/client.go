package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
)

// Client talks to the cart service on behalf of the caller; the caller's
// token is forwarded untouched.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ orderapp.CartClient = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) GetCart(ctx context.Context, token string) (orderapp.Cart, error) {
	var cart orderapp.Cart
	if err := c.do(ctx, http.MethodGet, token, nil, &cart); err != nil {
		return orderapp.Cart{}, fmt.Errorf("cart: get: %w", err)
	}
	return cart, nil
}

func (c *Client) ClearCart(ctx context.Context, token string) error {
	if err := c.do(ctx, http.MethodDelete, token, nil, nil); err != nil {
		return fmt.Errorf("cart: clear: %w", err)
	}
	return nil
}

// RestoreCart replaces the cart contents with snapshot.
func (c *Client) RestoreCart(ctx context.Context, token string, snapshot orderapp.Cart) error {
	if err := c.do(ctx, http.MethodPut, token, snapshot, nil); err != nil {
		return fmt.Errorf("cart: restore: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/carts", body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", bearer(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling cart-service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound && out != nil {
		// No cart yet reads as an empty cart.
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cart-service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error unmarshalling cart response: %w", err)
	}
	return nil
}

func bearer(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}
