// Package cryptopay is a minimal client for the Crypto Pay API: invoices and
// idempotent transfers keyed by a caller-chosen spend id.
package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/domain"
	"github.com/shopspring/decimal"
)

const tokenHeader = "Crypto-Pay-API-Token"

// maxResponseSize caps how much of a provider response is read
const maxResponseSize = 1 << 20

// Client calls the Crypto Pay API
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	latency    metrics.Timer
}

// NewClient creates a new Crypto Pay client
func NewClient(cfg *config.ProviderConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger,
		latency: metrics.GetOrRegisterTimer("provider.latency", metrics.DefaultRegistry),
	}
}

// apiResponse is the envelope every method returns
type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error"`
}

type apiError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type invoice struct {
	InvoiceID     int64           `json:"invoice_id"`
	Status        string          `json:"status"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	PayURL        string          `json:"pay_url"`
	BotInvoiceURL string          `json:"bot_invoice_url"`
	CreatedAt     time.Time       `json:"created_at"`
}

type transfer struct {
	TransferID  int64           `json:"transfer_id"`
	SpendID     string          `json:"spend_id"`
	UserID      int64           `json:"user_id"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	CompletedAt time.Time       `json:"completed_at"`
}

// App describes the provider application behind the token
type App struct {
	AppID                        int64  `json:"app_id"`
	Name                         string `json:"name"`
	PaymentProcessingBotUsername string `json:"payment_processing_bot_username"`
}

// GetMe checks the token and returns the application info
func (c *Client) GetMe(ctx context.Context) (*App, error) {
	var app App
	if err := c.call(ctx, "getMe", nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// CreateInvoice opens a new invoice at the provider
func (c *Client) CreateInvoice(ctx context.Context, asset string, amount decimal.Decimal, description string) (*domain.Invoice, error) {
	params := map[string]any{
		"asset":  asset,
		"amount": amount.String(),
	}
	if description != "" {
		params["description"] = description
	}

	var inv invoice
	if err := c.call(ctx, "createInvoice", params, &inv); err != nil {
		return nil, err
	}
	return inv.toDomain(), nil
}

// GetInvoice looks up a single invoice by id
func (c *Client) GetInvoice(ctx context.Context, invoiceID int64) (*domain.Invoice, error) {
	params := map[string]any{
		"invoice_ids": strconv.FormatInt(invoiceID, 10),
	}

	var result struct {
		Items []invoice `json:"items"`
	}
	if err := c.call(ctx, "getInvoices", params, &result); err != nil {
		return nil, err
	}

	for _, inv := range result.Items {
		if inv.InvoiceID == invoiceID {
			return inv.toDomain(), nil
		}
	}
	return nil, &domain.NotFoundError{Kind: "invoice", Key: strconv.FormatInt(invoiceID, 10)}
}

// Transfer sends coins to a provider user. The provider accepts at most one
// transfer per spend id.
func (c *Client) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	params := map[string]any{
		"user_id":  req.UserID,
		"asset":    req.Asset,
		"amount":   req.Amount.String(),
		"spend_id": req.SpendID,
	}
	if req.Comment != "" {
		params["comment"] = req.Comment
	}

	var t transfer
	if err := c.call(ctx, "transfer", params, &t); err != nil {
		return nil, err
	}
	return &domain.Transfer{
		TransferID:  t.TransferID,
		UserID:      t.UserID,
		Asset:       t.Asset,
		Amount:      t.Amount,
		SpendID:     t.SpendID,
		Status:      t.Status,
		CompletedAt: t.CompletedAt,
	}, nil
}

// call posts params to an API method and decodes the result into out
func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return &domain.ProviderError{Op: method, Err: fmt.Errorf("marshaling params: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, body)
	if err != nil {
		return &domain.ProviderError{Op: method, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.latency.UpdateSince(start)
	if err != nil {
		return &domain.ProviderError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &domain.ProviderError{Op: method, Err: fmt.Errorf("reading response: %w", err)}
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &domain.ProviderError{
			Op:   method,
			Code: resp.StatusCode,
			Err:  fmt.Errorf("decoding response: %w", err),
		}
	}

	if !envelope.OK {
		perr := &domain.ProviderError{Op: method, Code: resp.StatusCode}
		if envelope.Error != nil {
			perr.Code = envelope.Error.Code
			perr.Name = envelope.Error.Name
		}
		c.logger.Debug("provider rejected request", "method", method, "code", perr.Code, "name", perr.Name)
		return perr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &domain.ProviderError{Op: method, Err: fmt.Errorf("decoding result: %w", err)}
	}
	return nil
}

func (inv *invoice) toDomain() *domain.Invoice {
	payURL := inv.BotInvoiceURL
	if payURL == "" {
		payURL = inv.PayURL
	}
	return &domain.Invoice{
		InvoiceID:   inv.InvoiceID,
		Asset:       inv.Asset,
		Amount:      inv.Amount,
		Description: inv.Description,
		Status:      statusFromProvider(inv.Status),
		PayURL:      payURL,
		CreatedAt:   inv.CreatedAt,
	}
}

func statusFromProvider(status string) domain.InvoiceStatus {
	switch status {
	case "paid":
		return domain.InvoiceStatusPaid
	case "expired":
		return domain.InvoiceStatusExpired
	default:
		return domain.InvoiceStatusPending
	}
}
