package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rps-rewards/internal/domain"
)

// IdentityRegistry maps wallet addresses to payment-provider users
type IdentityRegistry struct {
	store  WalletStore
	logger *slog.Logger
}

// NewIdentityRegistry creates a new identity registry
func NewIdentityRegistry(store WalletStore, logger *slog.Logger) *IdentityRegistry {
	return &IdentityRegistry{
		store:  store,
		logger: logger,
	}
}

// UpsertWallet maps walletAddress to userID, replacing any earlier user
func (r *IdentityRegistry) UpsertWallet(ctx context.Context, userID int64, walletAddress string) error {
	if walletAddress == "" {
		return domain.Missing("walletAddress")
	}
	if userID <= 0 {
		return &domain.ValidationError{Field: "userId", Reason: "must be positive"}
	}

	if err := r.store.UpsertWallet(ctx, userID, walletAddress); err != nil {
		return fmt.Errorf("upserting wallet: %w", err)
	}

	r.logger.Info("wallet mapped", "wallet_address", walletAddress, "user_id", userID)
	return nil
}

// ResolveUserID returns the provider user for a wallet. There is no fallback
// identity: an unknown wallet is a NotFoundError.
func (r *IdentityRegistry) ResolveUserID(ctx context.Context, walletAddress string) (int64, error) {
	if walletAddress == "" {
		return 0, domain.Missing("walletAddress")
	}
	return r.store.ResolveUserID(ctx, walletAddress)
}
