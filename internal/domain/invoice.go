package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the provider-owned state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusExpired InvoiceStatus = "expired"
)

// Invoice is a deposit request created at the payment provider
type Invoice struct {
	InvoiceID   int64           `json:"invoiceId"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Status      InvoiceStatus   `json:"status"`
	PayURL      string          `json:"payUrl"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// CreateInvoiceRequest represents a request to open a deposit invoice.
// UserID and WalletAddress are optional; when both are present the wallet
// mapping is refreshed before the invoice is created.
type CreateInvoiceRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Asset         string          `json:"asset"`
	Description   string          `json:"description"`
	UserID        int64           `json:"userId"`
	WalletAddress string          `json:"walletAddress"`
}

// Validate checks asset and amount
func (r CreateInvoiceRequest) Validate() error {
	if r.Asset == "" {
		return Missing("asset")
	}
	if !r.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return nil
}
