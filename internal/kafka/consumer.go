package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rcrowley/go-metrics"
	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/domain"
)

// Settler settles the reward for a reported game result
type Settler interface {
	SettleGameReward(ctx context.Context, result domain.GameResult) (*domain.Settlement, error)
}

// Consumer feeds game results from Kafka into reward settlement.
// Every message is committed after one settle attempt; failed payouts stay
// in the payout audit trail and are retried by re-reporting the game.
type Consumer struct {
	config        *config.KafkaConfig
	settler       Settler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool

	consumed metrics.Meter
	rejected metrics.Counter
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, settler Settler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(cfg, settler, consumerGroup, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, settler Settler, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		settler:       settler,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
		consumed:      metrics.GetOrRegisterMeter("kafka.game_results", metrics.DefaultRegistry),
		rejected:      metrics.GetOrRegisterCounter("kafka.game_results.rejected", metrics.DefaultRegistry),
	}
}

// Start begins consuming and returns once the first session is set up
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// handleMessage decodes one game result and settles it.
// It returns false when the message was rejected as malformed or unresolvable.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) bool {
	c.consumed.Mark(1)

	var result domain.GameResult
	if err := json.Unmarshal(message.Value, &result); err != nil {
		c.rejected.Inc(1)
		c.logger.Warn("failed to unmarshal game result",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.MessageTimeout)
	defer cancel()

	settlement, err := c.settler.SettleGameReward(ctx, result)
	switch {
	case err == nil:
		c.logger.Debug("game result settled",
			"game_id", settlement.GameID,
			"outcome", settlement.Outcome,
		)
		return true
	case domain.IsValidationError(err), domain.IsNotFoundError(err):
		c.rejected.Inc(1)
		c.logger.Warn("game result rejected",
			"game_id", result.GameID,
			"offset", message.Offset,
			"error", err,
		)
		return false
	default:
		c.logger.Error("game result settlement failed",
			"game_id", result.GameID,
			"offset", message.Offset,
			"error", err,
		)
		return true
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim settles messages from one partition in order
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			start := time.Now()
			h.consumer.handleMessage(session.Context(), message)
			session.MarkMessage(message, "")
			h.consumer.logger.Debug("message processed",
				"partition", message.Partition,
				"offset", message.Offset,
				"duration", time.Since(start),
			)
		}
	}
}
