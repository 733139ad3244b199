package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rcrowley/go-metrics"
	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/domain"
	"github.com/shopspring/decimal"
)

// RewardEngine pays the fixed reward for a winning game at most once.
//
// Per game the flow is Reported -> Skipped for a non-win, or
// Reported -> PayoutRequested -> PayoutConfirmed | PayoutFailed for a win.
// Every transfer carries the spend id game_<gameId>, so a caller retry after
// PayoutFailed reuses the key and the provider will not pay twice.
type RewardEngine struct {
	identity *IdentityRegistry
	provider TransferProvider
	payouts  PayoutStore
	guard    PayoutLocker
	board    RewardBoard
	hub      Broadcaster
	asset    string
	amount   decimal.Decimal
	comment  string
	logger   *slog.Logger

	skipped   metrics.Counter
	requested metrics.Counter
	confirmed metrics.Counter
	failed    metrics.Counter
}

// NewRewardEngine creates a reward engine paying cfg.Amount of cfg.Asset per win
func NewRewardEngine(
	identity *IdentityRegistry,
	provider TransferProvider,
	payouts PayoutStore,
	cfg *config.RewardConfig,
	logger *slog.Logger,
) (*RewardEngine, error) {
	amount, err := decimal.NewFromString(cfg.Amount)
	if err != nil {
		return nil, fmt.Errorf("parsing reward amount: %w", err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("reward amount must be positive, got %s", cfg.Amount)
	}
	if cfg.Asset == "" {
		return nil, fmt.Errorf("reward asset is required")
	}

	return &RewardEngine{
		identity:  identity,
		provider:  provider,
		payouts:   payouts,
		asset:     cfg.Asset,
		amount:    amount,
		comment:   cfg.Comment,
		logger:    logger,
		skipped:   metrics.GetOrRegisterCounter("payouts.skipped", metrics.DefaultRegistry),
		requested: metrics.GetOrRegisterCounter("payouts.requested", metrics.DefaultRegistry),
		confirmed: metrics.GetOrRegisterCounter("payouts.confirmed", metrics.DefaultRegistry),
		failed:    metrics.GetOrRegisterCounter("payouts.failed", metrics.DefaultRegistry),
	}, nil
}

// SetGuard sets the cross-process lock used while a transfer is in flight
func (e *RewardEngine) SetGuard(guard PayoutLocker) {
	e.guard = guard
}

// SetBoard sets the rewards board updated after confirmed payouts
func (e *RewardEngine) SetBoard(board RewardBoard) {
	e.board = board
}

// SetHub sets the broadcaster for payout events
func (e *RewardEngine) SetHub(hub Broadcaster) {
	e.hub = hub
}

// Asset returns the reward asset
func (e *RewardEngine) Asset() string {
	return e.asset
}

// SettleGameReward pays the reward if the result is a win
func (e *RewardEngine) SettleGameReward(ctx context.Context, result domain.GameResult) (*domain.Settlement, error) {
	if result.GameID == "" {
		return nil, domain.Missing("gameId")
	}
	if result.Result == "" {
		return nil, domain.Missing("result")
	}

	if result.Result != domain.ResultWin {
		e.skipped.Inc(1)
		e.logger.Debug("no reward for game", "game_id", result.GameID, "result", result.Result)
		return &domain.Settlement{GameID: result.GameID, Outcome: domain.SettlementSkipped}, nil
	}

	if len(domain.SpendID(result.GameID)) > domain.MaxSpendIDLen {
		return nil, &domain.ValidationError{Field: "gameId", Reason: "too long"}
	}
	if result.PlayerAddress == "" {
		return nil, domain.Missing("playerAddress")
	}

	userID, err := e.identity.ResolveUserID(ctx, result.PlayerAddress)
	if err != nil {
		return nil, err
	}

	if e.guard != nil {
		release, ok, err := e.guard.Acquire(ctx, result.GameID)
		switch {
		case err != nil:
			e.logger.Warn("payout guard unavailable, relying on spend id",
				"game_id", result.GameID,
				"error", err,
			)
		case !ok:
			return nil, &domain.PayoutError{GameID: result.GameID, Err: domain.ErrPayoutInProgress}
		default:
			defer release()
		}
	}

	spendID := domain.SpendID(result.GameID)
	payout := &domain.PayoutRecord{
		GameID:        result.GameID,
		SpendID:       spendID,
		PlayerAddress: result.PlayerAddress,
		UserID:        userID,
		Asset:         e.asset,
		Amount:        e.amount,
	}
	if err := e.payouts.MarkPayoutRequested(ctx, payout); err != nil {
		return nil, fmt.Errorf("recording payout request: %w", err)
	}
	e.requested.Inc(1)

	transfer, err := e.provider.Transfer(ctx, domain.TransferRequest{
		UserID:  userID,
		Asset:   e.asset,
		Amount:  e.amount,
		SpendID: spendID,
		Comment: e.comment,
	})

	// The transfer outcome must be recorded even if the caller went away
	recordCtx := context.WithoutCancel(ctx)

	if err != nil {
		e.failed.Inc(1)
		e.logger.Error("reward transfer failed",
			"game_id", result.GameID,
			"spend_id", spendID,
			"user_id", userID,
			"error", err,
		)
		if markErr := e.payouts.MarkPayoutFailed(recordCtx, result.GameID, err.Error()); markErr != nil {
			e.logger.Error("failed to record payout failure", "game_id", result.GameID, "error", markErr)
		}
		return nil, &domain.PayoutError{GameID: result.GameID, Err: err}
	}

	e.confirmed.Inc(1)
	e.logger.Info("reward sent",
		"game_id", result.GameID,
		"spend_id", spendID,
		"user_id", userID,
		"transfer_id", transfer.TransferID,
		"amount", e.amount.String(),
		"asset", e.asset,
	)

	first, err := e.payouts.MarkPayoutConfirmed(recordCtx, result.GameID, transfer.TransferID)
	if err != nil {
		// Coins are sent; a retry with the same spend id will reconcile the record
		e.logger.Error("failed to record payout confirmation", "game_id", result.GameID, "error", err)
	}

	// The board counts each game once even when the provider replays a transfer
	if first && e.board != nil {
		if err := e.board.AddReward(recordCtx, e.asset, result.PlayerAddress, e.amount); err != nil {
			e.logger.Warn("failed to update rewards board", "game_id", result.GameID, "error", err)
		}
	}

	settlement := &domain.Settlement{
		GameID:   result.GameID,
		Outcome:  domain.SettlementPaid,
		Transfer: transfer,
	}
	if e.hub != nil {
		e.hub.BroadcastPayout(*settlement)
	}
	return settlement, nil
}

// GetPayout returns the local payout record for a game
func (e *RewardEngine) GetPayout(ctx context.Context, gameID string) (*domain.PayoutRecord, error) {
	if gameID == "" {
		return nil, domain.Missing("gameId")
	}
	return e.payouts.GetPayout(ctx, gameID)
}

// TopRewarded returns the wallets with the highest reward totals
func (e *RewardEngine) TopRewarded(ctx context.Context, n int) ([]domain.RewardEntry, error) {
	if e.board == nil {
		return []domain.RewardEntry{}, nil
	}
	if n <= 0 {
		n = 10
	}
	if n > 100 {
		n = 100
	}

	entries, err := e.board.GetTopN(ctx, e.asset, n)
	if err != nil {
		return nil, fmt.Errorf("getting top rewarded: %w", err)
	}
	return entries, nil
}
