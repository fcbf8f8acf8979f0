// Package whop talks to the payment provider: transfers out of the platform
// account, payment lookups for manual reconciliation and company lookups for
// payout destinations.
package whop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whop: status %d", e.StatusCode)
	}
	return fmt.Sprintf("whop: status %d: %s", e.StatusCode, e.Message)
}

// TransferRequest moves Amount from Origin to Destination. The provider
// dedupes on IdempotencyKey.
type TransferRequest struct {
	Amount         decimal.Decimal
	Currency       string
	OriginID       string
	DestinationID  string
	IdempotencyKey string
	Notes          string
	Metadata       map[string]string
}

type Transfer struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
}

// Payment is the subset of the provider payment object reconciliation needs.
// Raw keeps the full body for audit.
type Payment struct {
	ID        string              `json:"id"`
	Total     decimal.NullDecimal `json:"total"`
	Currency  string              `json:"currency"`
	Status    string              `json:"status"`
	Substatus string              `json:"substatus"`
	Raw       json.RawMessage     `json:"-"`
}

type Company struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Raw   json.RawMessage `json:"-"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type transferBody struct {
	Amount         json.Number       `json:"amount"`
	Currency       string            `json:"currency"`
	OriginID       string            `json:"origin_id"`
	DestinationID  string            `json:"destination_id"`
	IdempotenceKey string            `json:"idempotence_key"`
	Notes          string            `json:"notes,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CreateTransfer posts a transfer. A transfer without an id is reported as an error.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body := transferBody{
		Amount:         json.Number(req.Amount.String()),
		Currency:       strings.ToLower(req.Currency),
		OriginID:       req.OriginID,
		DestinationID:  req.DestinationID,
		IdempotenceKey: req.IdempotencyKey,
		Notes:          req.Notes,
		Metadata:       req.Metadata,
	}
	var t Transfer
	if _, err := c.do(ctx, http.MethodPost, "/transfers", body, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, fmt.Errorf("whop: transfer response without id")
	}
	return &t, nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	raw, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, &p)
	if err != nil {
		return nil, err
	}
	p.Raw = raw
	return &p, nil
}

func (c *Client) GetCompany(ctx context.Context, id string) (*Company, error) {
	var co Company
	raw, err := c.do(ctx, http.MethodGet, "/companies/"+url.PathEscape(id), nil, &co)
	if err != nil {
		return nil, err
	}
	if co.ID == "" {
		return nil, fmt.Errorf("whop: company response without id")
	}
	co.Raw = raw
	return &co, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (json.RawMessage, error) {
	var rdr io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whop %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Message string `json:"message"`
			Error   struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &body) == nil {
			apiErr.Message = body.Message
			if apiErr.Message == "" {
				apiErr.Message = body.Error.Message
			}
		}
		return nil, apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return raw, nil
}
