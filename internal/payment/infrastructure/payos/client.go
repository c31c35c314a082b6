package payos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
)

var ErrProvider = errors.New("payos: provider rejected request")

const codeOK = "00"

type Config struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
}

type Client struct {
	log  *slog.Logger
	cfg  Config
	http *http.Client
}

func NewClient(log *slog.Logger, cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{log: log, cfg: cfg, http: httpClient}
}

type envelope struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) CreatePaymentLink(ctx context.Context, req domain.LinkRequest) (domain.Link, error) {
	req.Signature = Sign(linkRequestFields(req), c.cfg.ChecksumKey)

	var link domain.Link
	if err := c.do(ctx, http.MethodPost, "/v2/payment-requests", req, &link); err != nil {
		return domain.Link{}, fmt.Errorf("payos: create link for %d: %w", req.OrderCode, err)
	}
	if link.PaymentLinkID == "" || link.CheckoutURL == "" {
		return domain.Link{}, fmt.Errorf("payos: create link for %d: %w: incomplete link", req.OrderCode, ErrProvider)
	}
	return link, nil
}

func (c *Client) CancelPaymentLink(ctx context.Context, linkID, reason string) error {
	body := map[string]string{"cancellationReason": reason}
	path := "/v2/payment-requests/" + url.PathEscape(linkID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("payos: cancel link %s: %w", linkID, err)
	}
	return nil
}

func (c *Client) VerifyWebhook(body []byte) (domain.Webhook, error) {
	return VerifyWebhook(body, c.cfg.ChecksumKey)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %d", ErrProvider, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	if env.Code != codeOK {
		c.log.WarnContext(ctx, "payos rejected request", "path", path, "code", env.Code, "desc", env.Desc)
		return fmt.Errorf("%w: code %s: %s", ErrProvider, env.Code, env.Desc)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
