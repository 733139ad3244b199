package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/domain"
)

// GameLedger records game outcomes and computes aggregate stats
type GameLedger struct {
	store    GameStore
	labels   domain.ResultLabels
	config   *config.GameConfig
	hub      Broadcaster
	logger   *slog.Logger
	recorded metrics.Counter
}

// NewGameLedger creates a new game ledger
func NewGameLedger(store GameStore, cfg *config.GameConfig, logger *slog.Logger) *GameLedger {
	return &GameLedger{
		store: store,
		labels: domain.ResultLabels{
			Win:  cfg.WinLabel,
			Lose: cfg.LoseLabel,
		},
		config:   cfg,
		logger:   logger,
		recorded: metrics.GetOrRegisterCounter("games.recorded", metrics.DefaultRegistry),
	}
}

// SetHub sets the broadcaster for stats updates
func (l *GameLedger) SetHub(hub Broadcaster) {
	l.hub = hub
}

// RecordGame validates and stores one game
func (l *GameLedger) RecordGame(ctx context.Context, submission domain.GameSubmission) (*domain.GameRecord, error) {
	if err := submission.Validate(); err != nil {
		return nil, err
	}

	game := &domain.GameRecord{
		ID:             uuid.NewString(),
		PlayerChoice:   submission.PlayerChoice,
		ComputerChoice: submission.ComputerChoice,
		Result:         submission.Result,
		Outcome:        l.labels.Classify(submission.Result),
		CreatedAt:      time.Now().UTC(),
	}

	if err := l.store.InsertGame(ctx, game); err != nil {
		return nil, fmt.Errorf("recording game: %w", err)
	}
	l.recorded.Inc(1)

	l.logger.Debug("game recorded",
		"game_id", game.ID,
		"outcome", game.Outcome,
	)

	if l.hub != nil {
		// A failed read here must not fail the already durable insert
		if stats, err := l.store.GetStats(ctx); err == nil {
			l.hub.BroadcastStats(*stats)
		} else {
			l.logger.Warn("failed to load stats for broadcast", "error", err)
		}
	}

	return game, nil
}

// GetStats recomputes the counters from the stored games
func (l *GameLedger) GetStats(ctx context.Context) (*domain.Stats, error) {
	stats, err := l.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return stats, nil
}

// ListGames returns the most recent games
func (l *GameLedger) ListGames(ctx context.Context, limit int) ([]domain.GameRecord, error) {
	// Validate limit
	if limit <= 0 {
		limit = l.config.DefaultLimit
	}
	if limit > l.config.MaxLimit {
		limit = l.config.MaxLimit
	}

	games, err := l.store.ListGames(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	return games, nil
}
