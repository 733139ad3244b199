package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rps-rewards/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRepositoryWithDB(mock, time.Second, logger), mock
}

func TestInsertGame(t *testing.T) {
	repo, mock := newMockRepository(t)

	game := &domain.GameRecord{
		ID:             "3c1e4b0a-7f7e-4a57-9a40-0d9b5d0c2f11",
		PlayerChoice:   "rock",
		ComputerChoice: "scissors",
		Result:         "Ты выиграл!",
		Outcome:        domain.OutcomePlayerWin,
		CreatedAt:      time.Now(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO games")).
		WithArgs(game.ID, "rock", "scissors", "Ты выиграл!", "player_win", game.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.InsertGame(context.Background(), game))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertGameError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO games")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := repo.InsertGame(context.Background(), &domain.GameRecord{ID: "x", Outcome: domain.OutcomeDraw})
	assert.ErrorContains(t, err, "inserting game")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStats(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM games")).
		WithArgs("player_win", "computer_win").
		WillReturnRows(pgxmock.NewRows([]string{"player", "computer", "total"}).
			AddRow(int64(1), int64(1), int64(3)))

	stats, err := repo.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &domain.Stats{PlayerScore: 1, ComputerScore: 1, TotalGames: 3}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListGames(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "player_choice", "computer_choice", "result", "outcome", "created_at"}).
			AddRow("g2", "paper", "rock", "Компьютер выиграл!", "computer_win", now).
			AddRow("g1", "rock", "scissors", "Ты выиграл!", "player_win", now.Add(-time.Minute)))

	games, err := repo.ListGames(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "g2", games[0].ID)
	assert.Equal(t, domain.OutcomeComputerWin, games[0].Outcome)
	assert.Equal(t, domain.OutcomePlayerWin, games[1].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWallet(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (wallet_address)")).
		WithArgs("EQD-wallet", int64(42), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertWallet(context.Background(), 42, "EQD-wallet"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveUserID(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM wallets")).
		WithArgs("EQD-wallet").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(int64(42)))

	userID, err := repo.ResolveUserID(context.Background(), "EQD-wallet")
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveUserIDNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM wallets")).
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.ResolveUserID(context.Background(), "unknown")
	assert.True(t, domain.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutLifecycle(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	payout := &domain.PayoutRecord{
		GameID:        "42",
		SpendID:       domain.SpendID("42"),
		PlayerAddress: "EQD-wallet",
		UserID:        7,
		Asset:         "TON",
		Amount:        decimal.RequireFromString("0.015"),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts")).
		WithArgs("42", "game_42", "EQD-wallet", int64(7), "TON", "0.015", "requested", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts")).
		WithArgs("42", "confirmed", int64(900), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.MarkPayoutRequested(ctx, payout))
	first, err := repo.MarkPayoutConfirmed(ctx, "42", 900)
	require.NoError(t, err)
	assert.True(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPayoutConfirmedAlreadyConfirmed(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payouts")).
		WithArgs("42", "confirmed", int64(900), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	first, err := repo.MarkPayoutConfirmed(context.Background(), "42", 900)
	require.NoError(t, err)
	assert.False(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPayout(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM payouts")).
		WithArgs("42").
		WillReturnRows(pgxmock.NewRows([]string{
			"game_id", "spend_id", "player_address", "user_id", "asset", "amount", "state",
			"transfer_id", "error", "created_at", "updated_at",
		}).AddRow("42", "game_42", "EQD-wallet", int64(7), "TON", "0.015000000000000000", "confirmed",
			int64(900), "", now, now))

	payout, err := repo.GetPayout(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStateConfirmed, payout.State)
	assert.True(t, payout.Amount.Equal(decimal.RequireFromString("0.015")))
	assert.Equal(t, int64(900), payout.TransferID)
}

func TestGetRewardTotals(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY player_address")).
		WithArgs("confirmed", "TON").
		WillReturnRows(pgxmock.NewRows([]string{"player_address", "sum"}).
			AddRow("a", "0.030").
			AddRow("b", "0.015"))

	totals, err := repo.GetRewardTotals(context.Background(), "TON")
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.True(t, totals["a"].Equal(decimal.RequireFromString("0.03")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
