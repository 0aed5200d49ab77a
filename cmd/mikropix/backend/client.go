package backend

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

// APIError is a non-2xx answer of the MikroPix backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend API: status %d: %s", e.Status, e.Body)
}

// Client talks to the MikroPix backend API that owns payments, withdrawals
// and the WireGuard server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type Payment struct {
	PaymentID string          `json:"paymentId"`
	QRCode    string          `json:"qrCode"`
	PixCode   string          `json:"pixCode"`
	Amount    decimal.Decimal `json:"amount"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func (c *Client) CreatePayment(ctx context.Context, accountID, planID string) (*Payment, error) {
	var p Payment
	body := map[string]string{"accountId": accountID, "planId": planID}
	if err := c.doRequest(ctx, http.MethodPost, "/payments", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type RemoteWithdrawal struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) CreateWithdrawal(ctx context.Context, withdrawalID, pixKey string, amount decimal.Decimal) (*RemoteWithdrawal, error) {
	var w RemoteWithdrawal
	body := map[string]interface{}{"reference": withdrawalID, "pixKey": pixKey, "amount": amount}
	if err := c.doRequest(ctx, http.MethodPost, "/withdrawals", body, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) ApproveWithdrawal(ctx context.Context, remoteID string) error {
	return c.doRequest(ctx, http.MethodPatch, "/withdrawals/"+url.PathEscape(remoteID)+"/approve", nil, nil)
}

func (c *Client) RejectWithdrawal(ctx context.Context, remoteID, reason string) error {
	return c.doRequest(ctx, http.MethodPatch, "/withdrawals/"+url.PathEscape(remoteID)+"/reject", map[string]string{"reason": reason}, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
