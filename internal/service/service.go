package service

import (
	"context"

	"github.com/rps-rewards/internal/domain"
	"github.com/shopspring/decimal"
)

// GameStore persists game records and derives stats from them
type GameStore interface {
	InsertGame(ctx context.Context, game *domain.GameRecord) error
	GetStats(ctx context.Context) (*domain.Stats, error)
	ListGames(ctx context.Context, limit int) ([]domain.GameRecord, error)
}

// WalletStore owns the identity mapping: each wallet address points at one
// provider user id, and the latest upsert for an address wins. Mappings are
// written when a deposit invoice names both a user and a wallet.
type WalletStore interface {
	UpsertWallet(ctx context.Context, userID int64, walletAddress string) error
	ResolveUserID(ctx context.Context, walletAddress string) (int64, error)
}

// PayoutStore keeps the local audit trail of reward transfers
type PayoutStore interface {
	MarkPayoutRequested(ctx context.Context, payout *domain.PayoutRecord) error
	MarkPayoutConfirmed(ctx context.Context, gameID string, transferID int64) (first bool, err error)
	MarkPayoutFailed(ctx context.Context, gameID, reason string) error
	GetPayout(ctx context.Context, gameID string) (*domain.PayoutRecord, error)
}

// InvoiceProvider creates and looks up invoices at the payment provider
type InvoiceProvider interface {
	CreateInvoice(ctx context.Context, asset string, amount decimal.Decimal, description string) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int64) (*domain.Invoice, error)
}

// TransferProvider sends coins, deduplicating by spend id
type TransferProvider interface {
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Transfer, error)
}

// PayoutLocker guards against concurrent settle calls for one game
type PayoutLocker interface {
	Acquire(ctx context.Context, gameID string) (release func(), ok bool, err error)
}

// RewardBoard tracks reward totals per wallet
type RewardBoard interface {
	AddReward(ctx context.Context, asset, walletAddress string, amount decimal.Decimal) error
	GetTopN(ctx context.Context, asset string, n int) ([]domain.RewardEntry, error)
}

// Broadcaster pushes live updates to connected clients
type Broadcaster interface {
	BroadcastStats(stats domain.Stats)
	BroadcastPayout(settlement domain.Settlement)
}
