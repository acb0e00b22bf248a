// Package gateway creates online payment links through a checkout-preference API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"courtdesk/internal/config"
	"courtdesk/internal/models"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned when the gateway has no base URL or token.
var ErrNotConfigured = errors.New("payment gateway is not configured")

type preferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type backURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type payer struct {
	Email string `json:"email,omitempty"`
	Phone struct {
		Number string `json:"number,omitempty"`
	} `json:"phone,omitempty"`
}

type preferenceRequest struct {
	Items               []preferenceItem `json:"items"`
	ExternalReference   string           `json:"external_reference"`
	Payer               *payer           `json:"payer,omitempty"`
	BackURLs            *backURLs        `json:"back_urls,omitempty"`
	AutoReturn          string           `json:"auto_return,omitempty"`
	NotificationURL     string           `json:"notification_url,omitempty"`
	StatementDescriptor string           `json:"statement_descriptor,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
	Message   string `json:"message"`
}

// Client implements domain.PaymentLinkProvider.
type Client struct {
	cfg    config.GatewayConfig
	http   *http.Client
	logger *zerolog.Logger
}

func NewClient(cfg config.GatewayConfig, logger *zerolog.Logger) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout
	l := logger.With().Str("component", "gateway").Logger()
	return &Client{cfg: cfg, http: httpClient, logger: &l}
}

// CreatePaymentLink registers a checkout preference and returns its init point.
func (c *Client) CreatePaymentLink(ctx context.Context, req models.PaymentLinkRequest) (string, error) {
	if c.cfg.BaseURL == "" || c.cfg.AccessToken == "" {
		return "", ErrNotConfigured
	}

	ref := strconv.FormatInt(req.ReservationID, 10)
	body := preferenceRequest{
		Items: []preferenceItem{{
			ID:         ref,
			Title:      req.Title,
			Quantity:   1,
			UnitPrice:  req.Amount.InexactFloat64(),
			CurrencyID: c.cfg.Currency,
		}},
		ExternalReference:   ref,
		StatementDescriptor: c.cfg.StatementDescriptor,
	}
	if req.PayerEmail != "" || req.PayerPhone != "" {
		body.Payer = &payer{Email: req.PayerEmail}
		body.Payer.Phone.Number = req.PayerPhone
	}
	if c.cfg.ReturnURL != "" {
		body.BackURLs = &backURLs{Success: c.cfg.ReturnURL, Failure: c.cfg.ReturnURL, Pending: c.cfg.ReturnURL}
		body.AutoReturn = "approved"
	}
	if c.cfg.NotificationURL != "" {
		body.NotificationURL = fmt.Sprintf("%s?tenant_id=%d", c.cfg.NotificationURL, req.TenantID)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal preference: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/preferences"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build preference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("create preference: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read preference response: %w", err)
	}

	var out preferenceResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return "", fmt.Errorf("decode preference response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, out.Message)
	}
	if out.InitPoint == "" {
		return "", errors.New("gateway response has no init_point")
	}

	c.logger.Info().
		Int64("tenant_id", req.TenantID).
		Int64("reservation_id", req.ReservationID).
		Str("preference_id", out.ID).
		Msg("Payment link created")
	return out.InitPoint, nil
}
