package payos

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
)

// Sign computes the provider signature: HMAC-SHA256 over key=value pairs
// sorted by key and joined with '&'.
func Sign(fields map[string]string, checksumKey string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}

	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func linkRequestFields(req domain.LinkRequest) map[string]string {
	return map[string]string{
		"amount":      fmt.Sprint(req.Amount),
		"cancelUrl":   req.CancelURL,
		"description": req.Description,
		"orderCode":   fmt.Sprint(req.OrderCode),
		"returnUrl":   req.ReturnURL,
	}
}

// VerifyWebhook parses body and checks its signature against every field of
// data, including ones this package does not model.
func VerifyWebhook(body []byte, checksumKey string) (domain.Webhook, error) {
	var envelope struct {
		Data      json.RawMessage `json:"data"`
		Signature string          `json:"signature"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.Webhook{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
	}
	if len(envelope.Data) == 0 || envelope.Signature == "" {
		return domain.Webhook{}, fmt.Errorf("%w: missing data or signature", domain.ErrMalformedWebhook)
	}

	fields, err := flatten(envelope.Data)
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
	}
	want := Sign(fields, checksumKey)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(envelope.Signature))) {
		return domain.Webhook{}, domain.ErrInvalidSignature
	}

	var w domain.Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return domain.Webhook{}, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
	}
	return w, nil
}

func flatten(raw json.RawMessage) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case nil:
			fields[k] = ""
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = fmt.Sprint(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			fields[k] = string(b)
		}
	}
	return fields, nil
}
