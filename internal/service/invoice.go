package service

import (
	"context"
	"log/slog"

	"github.com/rps-rewards/internal/domain"
)

// InvoiceManager creates deposit invoices and reports their status.
// It never polls in the background; callers re-check on their own cadence.
type InvoiceManager struct {
	provider InvoiceProvider
	identity *IdentityRegistry
	logger   *slog.Logger
}

// NewInvoiceManager creates a new invoice manager
func NewInvoiceManager(provider InvoiceProvider, identity *IdentityRegistry, logger *slog.Logger) *InvoiceManager {
	return &InvoiceManager{
		provider: provider,
		identity: identity,
		logger:   logger,
	}
}

// CreateInvoice opens an invoice at the provider. When the request carries
// both a user id and a wallet address the wallet mapping is refreshed first.
func (m *InvoiceManager) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.WalletAddress != "" && req.UserID != 0 {
		if err := m.identity.UpsertWallet(ctx, req.UserID, req.WalletAddress); err != nil {
			return nil, err
		}
	}

	invoice, err := m.provider.CreateInvoice(ctx, req.Asset, req.Amount, req.Description)
	if err != nil {
		m.logger.Error("failed to create invoice",
			"asset", req.Asset,
			"amount", req.Amount.String(),
			"error", err,
		)
		return nil, err
	}

	m.logger.Info("invoice created",
		"invoice_id", invoice.InvoiceID,
		"asset", invoice.Asset,
		"amount", invoice.Amount.String(),
	)
	return invoice, nil
}

// GetInvoiceStatus polls the provider once for an invoice's status
func (m *InvoiceManager) GetInvoiceStatus(ctx context.Context, invoiceID int64) (domain.InvoiceStatus, error) {
	if invoiceID <= 0 {
		return "", domain.Missing("invoiceId")
	}

	invoice, err := m.provider.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	return invoice.Status, nil
}
