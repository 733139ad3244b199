package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PayoutGuard serializes settle calls for the same game across processes.
// It narrows the window for concurrent transfers; the provider spend id
// stays the authority on duplicates.
type PayoutGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewPayoutGuard creates a guard whose locks expire after ttl
func NewPayoutGuard(client *redis.Client, ttl time.Duration, logger *slog.Logger) *PayoutGuard {
	return &PayoutGuard{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (g *PayoutGuard) lockKey(gameID string) string {
	return fmt.Sprintf("payout:%s:lock", gameID)
}

// Acquire takes the lock for a game. ok is false if another holder has it.
// The returned release func is safe to call once the settle call finishes.
func (g *PayoutGuard) Acquire(ctx context.Context, gameID string) (release func(), ok bool, err error) {
	key := g.lockKey(gameID)
	token := uuid.NewString()

	ok, err = g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring payout lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// Detached from the request so a cancelled caller still frees the lock
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); err != nil {
			// The lock stays held until the TTL runs out
			g.logger.Warn("failed to release payout lock",
				"game_id", gameID,
				"ttl", g.ttl,
				"error", err,
			)
		}
	}
	return release, true, nil
}
