// Package payment creates and inspects one-time payments through the YooKassa API.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/metrics"
)

const (
	DefaultAPIURL  = "https://api.yookassa.ru/v3"
	DefaultTimeout = 20 * time.Second
)

var (
	ErrNotConfigured = errors.New("payment gateway is not configured")
	ErrGateway       = errors.New("payment gateway error")
	ErrNotFound      = errors.New("payment not found")
)

type Config struct {
	APIURL    string
	ShopID    string
	SecretKey string
	Timeout   time.Duration
}

type CreateParams struct {
	Amount      float64
	Currency    string
	Description string
	ReturnURL   string
	ClientID    string
	Type        string
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Description  string            `json:"description,omitempty"`
	Confirmation *Confirmation     `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
}

func (p *Payment) ConfirmationURL() string {
	if p.Confirmation == nil {
		return ""
	}
	return p.Confirmation.ConfirmationURL
}

type createRequest struct {
	Amount       Amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description,omitempty"`
	Confirmation Confirmation      `json:"confirmation"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Client talks to YooKassa over the default, fully verified TLS transport.
type Client struct {
	httpClient *http.Client
	apiURL     string
	shopID     string
	secretKey  string
	timeout    time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{},
		apiURL:     cfg.APIURL,
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		timeout:    cfg.Timeout,
	}
}

func (c *Client) CreatePayment(ctx context.Context, p CreateParams) (*Payment, error) {
	metadata := map[string]string{"type": p.Type}
	if p.ClientID != "" {
		metadata["client_id"] = p.ClientID
	}

	body, err := json.Marshal(createRequest{
		Amount:      Amount{Value: strconv.FormatFloat(p.Amount, 'f', 2, 64), Currency: p.Currency},
		Capture:     true,
		Description: p.Description,
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: p.ReturnURL,
		},
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}

	var out Payment
	if err := c.do(ctx, "create_payment", http.MethodPost, "/payments", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.ConfirmationURL() == "" {
		return nil, fmt.Errorf("%w: response has no payment id or confirmation url", ErrGateway)
	}
	return &out, nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var out Payment
	if err := c.do(ctx, "get_payment", http.MethodGet, "/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, call, method, path string, body []byte, out any) error {
	if c.shopID == "" || c.secretKey == "" {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", call, err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", uuid.NewString())
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(call, outcome).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "network"
		return fmt.Errorf("%w: %s: %v", ErrGateway, call, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		outcome = "network"
		return fmt.Errorf("%w: failed to read %s response: %v", ErrGateway, call, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		outcome = "not_found"
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = "status_" + strconv.Itoa(resp.StatusCode)
		logger.Error.Printf("YooKassa %s returned %d: %s", call, resp.StatusCode, string(respBody))
		return fmt.Errorf("%w: %s returned HTTP %d", ErrGateway, call, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		outcome = "malformed"
		return fmt.Errorf("%w: failed to parse %s response: %v", ErrGateway, call, err)
	}
	return nil
}
