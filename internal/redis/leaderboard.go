package redis

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/redis/go-redis/v9"
	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/domain"
	"github.com/shopspring/decimal"
)

// scoreScale is the number of decimal places kept in board scores. Scores are
// stored as integer minor units so float64 holds them exactly up to 2^53.
const scoreScale = 9

func toScore(amount decimal.Decimal) float64 {
	return float64(amount.Shift(scoreScale).IntPart())
}

func fromScore(score float64) decimal.Decimal {
	return decimal.NewFromInt(int64(math.Round(score))).Shift(-scoreScale)
}

// RewardBoard keeps running reward totals per wallet in a sorted set
type RewardBoard struct {
	client *redis.Client
	logger *slog.Logger
}

// NewClient creates and pings a Redis client
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewRewardBoard creates a rewards board on an existing client
func NewRewardBoard(client *redis.Client, logger *slog.Logger) *RewardBoard {
	return &RewardBoard{
		client: client,
		logger: logger,
	}
}

// boardKey returns the Redis key for an asset's rewards board
func (b *RewardBoard) boardKey(asset string) string {
	return fmt.Sprintf("rewards:%s:board", asset)
}

// AddReward adds a paid amount to a wallet's total
func (b *RewardBoard) AddReward(ctx context.Context, asset, walletAddress string, amount decimal.Decimal) error {
	if err := b.client.ZIncrBy(ctx, b.boardKey(asset), toScore(amount), walletAddress).Err(); err != nil {
		return fmt.Errorf("adding reward: %w", err)
	}
	return nil
}

// GetTopN returns the N wallets with the highest totals (descending order)
func (b *RewardBoard) GetTopN(ctx context.Context, asset string, n int) ([]domain.RewardEntry, error) {
	results, err := b.client.ZRevRangeWithScores(ctx, b.boardKey(asset), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.RewardEntry, len(results))
	for i, result := range results {
		entries[i] = domain.RewardEntry{
			Rank:          int64(i + 1),
			WalletAddress: result.Member.(string),
			Total:         fromScore(result.Score),
		}
	}
	return entries, nil
}

// ReplaceAll swaps the board contents for the given totals in one transaction
func (b *RewardBoard) ReplaceAll(ctx context.Context, asset string, totals map[string]decimal.Decimal) error {
	key := b.boardKey(asset)
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, key)

	for wallet, total := range totals {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  toScore(total),
			Member: wallet,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing rewards board: %w", err)
	}
	return nil
}
