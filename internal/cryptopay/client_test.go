package cryptopay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.ProviderConfig{
		BaseURL: srv.URL + "/api/",
		Token:   "test-token",
		Timeout: time.Second,
	}
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func decodeParams(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var params map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
	return params
}

func TestCreateInvoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/createInvoice", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get(tokenHeader))

		params := decodeParams(t, r)
		assert.Equal(t, "TON", params["asset"])
		assert.Equal(t, "1.5", params["amount"])
		assert.Equal(t, "deposit", params["description"])

		w.Write([]byte(`{"ok":true,"result":{"invoice_id":77,"status":"active","asset":"TON","amount":"1.5",
			"bot_invoice_url":"https://t.me/CryptoBot?start=IVabc","created_at":"2026-10-18T10:00:00.000Z"}}`))
	})

	inv, err := client.CreateInvoice(context.Background(), "TON", decimal.RequireFromString("1.5"), "deposit")
	require.NoError(t, err)
	assert.Equal(t, int64(77), inv.InvoiceID)
	assert.Equal(t, domain.InvoiceStatusPending, inv.Status)
	assert.Equal(t, "https://t.me/CryptoBot?start=IVabc", inv.PayURL)
	assert.True(t, inv.Amount.Equal(decimal.RequireFromString("1.5")))
}

func TestCreateInvoiceRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error":{"code":400,"name":"ASSET_INVALID"}}`))
	})

	_, err := client.CreateInvoice(context.Background(), "XXX", decimal.NewFromInt(1), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProvider))

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "ASSET_INVALID", perr.Name)
	assert.Equal(t, 400, perr.Code)
}

func TestGetInvoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/getInvoices", r.URL.Path)
		params := decodeParams(t, r)
		assert.Equal(t, "77", params["invoice_ids"])

		w.Write([]byte(`{"ok":true,"result":{"items":[{"invoice_id":77,"status":"paid","asset":"TON","amount":"1.5"}]}}`))
	})

	inv, err := client.GetInvoice(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
}

func TestGetInvoiceNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":{"items":[]}}`))
	})

	_, err := client.GetInvoice(context.Background(), 1)
	assert.True(t, domain.IsNotFoundError(err))
}

func TestTransfer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transfer", r.URL.Path)
		params := decodeParams(t, r)
		assert.Equal(t, float64(42), params["user_id"])
		assert.Equal(t, "0.015", params["amount"])
		assert.Equal(t, "game_9", params["spend_id"])

		w.Write([]byte(`{"ok":true,"result":{"transfer_id":5,"spend_id":"game_9","user_id":42,"asset":"TON",
			"amount":"0.015","status":"completed","completed_at":"2026-10-18T10:00:00.000Z"}}`))
	})

	tr, err := client.Transfer(context.Background(), domain.TransferRequest{
		UserID:  42,
		Asset:   "TON",
		Amount:  decimal.RequireFromString("0.015"),
		SpendID: "game_9",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), tr.TransferID)
	assert.Equal(t, "completed", tr.Status)
}

func TestTransferTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client.timeout = 50 * time.Millisecond

	_, err := client.Transfer(context.Background(), domain.TransferRequest{UserID: 1, Asset: "TON", Amount: decimal.NewFromInt(1), SpendID: "game_1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProvider))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := client.GetMe(context.Background())
	assert.True(t, errors.Is(err, domain.ErrProvider))
}
