package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rps-rewards/internal/config"
	"github.com/rps-rewards/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSettler struct {
	results []domain.GameResult
	err     error
}

func (s *stubSettler) SettleGameReward(ctx context.Context, result domain.GameResult) (*domain.Settlement, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("settle called without deadline")
	}
	s.results = append(s.results, result)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Settlement{GameID: result.GameID, Outcome: domain.SettlementSkipped}, nil
}

func newTestConsumer(settler Settler) *Consumer {
	cfg := &config.KafkaConfig{Topic: "game-results", MessageTimeout: time.Second}
	return newConsumer(cfg, settler, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleMessage(t *testing.T) {
	settler := &stubSettler{}
	consumer := newTestConsumer(settler)

	ok := consumer.handleMessage(context.Background(), &sarama.ConsumerMessage{
		Value: []byte(`{"playerAddress":"EQabc","result":"win","gameId":"g1"}`),
	})
	require.True(t, ok)
	require.Len(t, settler.results, 1)
	assert.Equal(t, domain.GameResult{PlayerAddress: "EQabc", Result: "win", GameID: "g1"}, settler.results[0])
}

func TestHandleMessageMalformed(t *testing.T) {
	settler := &stubSettler{}
	consumer := newTestConsumer(settler)

	ok := consumer.handleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{not json`)})
	assert.False(t, ok)
	assert.Empty(t, settler.results)
}

func TestHandleMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", domain.Missing("gameId"), false},
		{"unknown wallet", &domain.NotFoundError{Kind: "wallet", Key: "EQabc"}, false},
		{"payout failure", &domain.PayoutError{GameID: "g1", Err: errors.New("boom")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer := newTestConsumer(&stubSettler{err: tt.err})
			ok := consumer.handleMessage(context.Background(), &sarama.ConsumerMessage{
				Value: []byte(`{"playerAddress":"EQabc","result":"win","gameId":"g1"}`),
			})
			assert.Equal(t, tt.want, ok)
		})
	}
}
