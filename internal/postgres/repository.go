package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/domain"
	"github.com/shopspring/decimal"
)

// DB is the subset of *pgxpool.Pool the repository uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Repository provides PostgreSQL-based data access
type Repository struct {
	db           DB
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewRepository creates a new PostgreSQL repository backed by a connection pool
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryWithDB(pool, cfg.QueryTimeout, logger), nil
}

// NewRepositoryWithDB wraps an existing pool or test double
func NewRepositoryWithDB(db DB, queryTimeout time.Duration, logger *slog.Logger) *Repository {
	return &Repository{
		db:           db,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.db.Close()
}

// Ping checks the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.db.Ping(ctx)
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id UUID PRIMARY KEY,
			player_choice VARCHAR(64) NOT NULL,
			computer_choice VARCHAR(64) NOT NULL,
			result TEXT NOT NULL,
			outcome VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			wallet_address VARCHAR(128) PRIMARY KEY,
			user_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS payouts (
			game_id VARCHAR(128) PRIMARY KEY,
			spend_id VARCHAR(64) NOT NULL UNIQUE,
			player_address VARCHAR(128) NOT NULL,
			user_id BIGINT NOT NULL,
			asset VARCHAR(16) NOT NULL,
			amount NUMERIC(36, 18) NOT NULL,
			state VARCHAR(16) NOT NULL,
			transfer_id BIGINT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_games_created ON games(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_state ON payouts(state, player_address)`,
	}

	for _, migration := range migrations {
		_, err := r.db.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// InsertGame stores one game record. A single INSERT is the durable unit.
func (r *Repository) InsertGame(ctx context.Context, game *domain.GameRecord) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO games (id, player_choice, computer_choice, result, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		game.ID,
		game.PlayerChoice,
		game.ComputerChoice,
		game.Result,
		string(game.Outcome),
		game.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting game: %w", err)
	}
	return nil
}

// GetStats counts outcomes over all games in one statement, so the three
// counters always come from the same snapshot.
func (r *Repository) GetStats(ctx context.Context) (*domain.Stats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT
			COUNT(*) FILTER (WHERE outcome = $1),
			COUNT(*) FILTER (WHERE outcome = $2),
			COUNT(*)
		FROM games
	`
	var stats domain.Stats
	err := r.db.QueryRow(ctx, query,
		string(domain.OutcomePlayerWin),
		string(domain.OutcomeComputerWin),
	).Scan(&stats.PlayerScore, &stats.ComputerScore, &stats.TotalGames)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return &stats, nil
}

// ListGames returns the most recent games first
func (r *Repository) ListGames(ctx context.Context, limit int) ([]domain.GameRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id::text, player_choice, computer_choice, result, outcome, created_at
		FROM games
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	defer rows.Close()

	games := make([]domain.GameRecord, 0, limit)
	for rows.Next() {
		var game domain.GameRecord
		var outcome string
		err := rows.Scan(
			&game.ID,
			&game.PlayerChoice,
			&game.ComputerChoice,
			&game.Result,
			&outcome,
			&game.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		game.Outcome = domain.Outcome(outcome)
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	return games, nil
}

// UpsertWallet maps a wallet address to a provider user, replacing any previous user
func (r *Repository) UpsertWallet(ctx context.Context, userID int64, walletAddress string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO wallets (wallet_address, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (wallet_address)
		DO UPDATE SET user_id = EXCLUDED.user_id, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query, walletAddress, userID, time.Now())
	if err != nil {
		return fmt.Errorf("upserting wallet: %w", err)
	}
	return nil
}

// ResolveUserID returns the provider user mapped to a wallet address
func (r *Repository) ResolveUserID(ctx context.Context, walletAddress string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT user_id FROM wallets WHERE wallet_address = $1`
	var userID int64
	err := r.db.QueryRow(ctx, query, walletAddress).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &domain.NotFoundError{Kind: "wallet", Key: walletAddress}
		}
		return 0, fmt.Errorf("resolving wallet: %w", err)
	}
	return userID, nil
}

// MarkPayoutRequested records that a transfer is about to be sent.
// A confirmed payout is never moved back to requested.
func (r *Repository) MarkPayoutRequested(ctx context.Context, payout *domain.PayoutRecord) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO payouts (game_id, spend_id, player_address, user_id, asset, amount, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $8)
		ON CONFLICT (game_id)
		DO UPDATE SET
			state = EXCLUDED.state,
			player_address = EXCLUDED.player_address,
			user_id = EXCLUDED.user_id,
			error = NULL,
			updated_at = EXCLUDED.updated_at
		WHERE payouts.state <> 'confirmed'
	`
	_, err := r.db.Exec(ctx, query,
		payout.GameID,
		payout.SpendID,
		payout.PlayerAddress,
		payout.UserID,
		payout.Asset,
		payout.Amount.String(),
		string(domain.PayoutStateRequested),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("marking payout requested: %w", err)
	}
	return nil
}

// MarkPayoutConfirmed stores the provider transfer id for a game.
// first is false when the payout was already confirmed by an earlier call.
func (r *Repository) MarkPayoutConfirmed(ctx context.Context, gameID string, transferID int64) (first bool, err error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE payouts
		SET state = $2, transfer_id = $3, error = NULL, updated_at = $4
		WHERE game_id = $1 AND state <> 'confirmed'
	`
	result, err := r.db.Exec(ctx, query, gameID, string(domain.PayoutStateConfirmed), transferID, time.Now())
	if err != nil {
		return false, fmt.Errorf("marking payout confirmed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkPayoutFailed records a failed transfer attempt
func (r *Repository) MarkPayoutFailed(ctx context.Context, gameID, reason string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE payouts
		SET state = $2, error = $3, updated_at = $4
		WHERE game_id = $1 AND state <> 'confirmed'
	`
	_, err := r.db.Exec(ctx, query, gameID, string(domain.PayoutStateFailed), reason, time.Now())
	if err != nil {
		return fmt.Errorf("marking payout failed: %w", err)
	}
	return nil
}

// GetPayout retrieves the payout record for a game
func (r *Repository) GetPayout(ctx context.Context, gameID string) (*domain.PayoutRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT game_id, spend_id, player_address, user_id, asset, amount::text, state,
			COALESCE(transfer_id, 0), COALESCE(error, ''), created_at, updated_at
		FROM payouts
		WHERE game_id = $1
	`
	var payout domain.PayoutRecord
	var amount, state string
	err := r.db.QueryRow(ctx, query, gameID).Scan(
		&payout.GameID,
		&payout.SpendID,
		&payout.PlayerAddress,
		&payout.UserID,
		&payout.Asset,
		&amount,
		&state,
		&payout.TransferID,
		&payout.Error,
		&payout.CreatedAt,
		&payout.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "payout", Key: gameID}
		}
		return nil, fmt.Errorf("getting payout: %w", err)
	}

	payout.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing payout amount: %w", err)
	}
	payout.State = domain.PayoutState(state)
	return &payout, nil
}

// GetRewardTotals sums confirmed payouts per wallet for one asset (for sync)
func (r *Repository) GetRewardTotals(ctx context.Context, asset string) (map[string]decimal.Decimal, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT player_address, SUM(amount)::text
		FROM payouts
		WHERE state = $1 AND asset = $2
		GROUP BY player_address
	`
	rows, err := r.db.Query(ctx, query, string(domain.PayoutStateConfirmed), asset)
	if err != nil {
		return nil, fmt.Errorf("getting reward totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var address, sum string
		if err := rows.Scan(&address, &sum); err != nil {
			return nil, fmt.Errorf("scanning reward total: %w", err)
		}
		total, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, fmt.Errorf("parsing reward total: %w", err)
		}
		totals[address] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting reward totals: %w", err)
	}
	return totals, nil
}
