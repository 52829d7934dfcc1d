// Package paymentgateway calls an external payment provider over HTTP.
package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Apurer/order-fulfillment/internal/domains/payments/ports"
)

var _ ports.Gateway = (*Client)(nil)

// Client posts charges to {baseURL}/charges with an Idempotency-Key header.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New instantiates the client with a bounded default timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("payment gateway base URL is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

type chargeRequest struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Amount     string `json:"amount"`
}

type chargeResponse struct {
	ChargeID string `json:"chargeId"`
}

type errorBody struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// Charge captures the payment. A 4xx other than 408 and 429 is reported as
// ports.ErrDeclined; anything else is retryable.
func (c *Client) Charge(ctx context.Context, req ports.ChargeRequest) (string, error) {
	if c == nil || c.httpClient == nil {
		return "", errors.New("payment gateway client not configured")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return "", errors.New("idempotency key is required")
	}
	body, err := json.Marshal(chargeRequest{
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Amount:     req.Amount.StringFixed(2),
	})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call payment gateway: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read payment gateway response: %w", err)
	}

	switch status := resp.StatusCode; {
	case status == http.StatusOK || status == http.StatusCreated:
		var out chargeResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("decode payment gateway response: %w", err)
		}
		if strings.TrimSpace(out.ChargeID) == "" {
			return "", errors.New("payment gateway returned no charge id")
		}
		return out.ChargeID, nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return "", fmt.Errorf("payment gateway busy: %s", errorMessage(raw, resp.Status))
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return "", fmt.Errorf("%w: %s", ports.ErrDeclined, errorMessage(raw, resp.Status))
	default:
		return "", fmt.Errorf("payment gateway error: %s", errorMessage(raw, resp.Status))
	}
}

func errorMessage(raw []byte, fallback string) string {
	var body errorBody
	if len(raw) == 0 || json.Unmarshal(raw, &body) != nil {
		return fallback
	}
	for _, msg := range []string{body.Detail, body.Message, body.Title} {
		if msg = strings.TrimSpace(msg); msg != "" {
			return msg
		}
	}
	return fallback
}
