package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rps-rewards/internal/config"
	"github.com/shopspring/decimal"
)

// TotalsSource reads confirmed reward totals per wallet
type TotalsSource interface {
	GetRewardTotals(ctx context.Context, asset string) (map[string]decimal.Decimal, error)
}

// BoardWriter replaces a rewards board wholesale
type BoardWriter interface {
	ReplaceAll(ctx context.Context, asset string, totals map[string]decimal.Decimal) error
}

// SyncWorker rebuilds the Redis rewards board from the payout records in
// PostgreSQL, which are the durable source of truth.
type SyncWorker struct {
	source  TotalsSource
	board   BoardWriter
	asset   string
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker for one reward asset
func NewSyncWorker(
	source TotalsSource,
	board BoardWriter,
	asset string,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		source: source,
		board:  board,
		asset:  asset,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins periodic rebuilds
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval, "asset", w.asset)

	go w.run(ctx)
	return nil
}

// Stop stops periodic rebuilds and waits for the loop to exit
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.RebuildBoard(ctx); err != nil {
				w.logger.Error("rewards board rebuild failed", "error", err)
			}
		}
	}
}

// RebuildBoard replaces the rewards board with totals from confirmed payouts
func (w *SyncWorker) RebuildBoard(ctx context.Context) error {
	startTime := time.Now()

	totals, err := w.source.GetRewardTotals(ctx, w.asset)
	if err != nil {
		return fmt.Errorf("loading reward totals: %w", err)
	}

	if err := w.board.ReplaceAll(ctx, w.asset, totals); err != nil {
		return fmt.Errorf("replacing rewards board: %w", err)
	}

	w.logger.Info("rewards board rebuilt",
		"asset", w.asset,
		"wallets", len(totals),
		"duration", time.Since(startTime),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
