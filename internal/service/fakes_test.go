package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rps-rewards/internal/domain"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory GameStore, WalletStore and PayoutStore
type memStore struct {
	mu      sync.Mutex
	games   []domain.GameRecord
	wallets map[string]int64
	payouts map[string]*domain.PayoutRecord
	failOn  string
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[string]int64),
		payouts: make(map[string]*domain.PayoutRecord),
	}
}

var errStore = errors.New("store unavailable")

func (s *memStore) fail(op string) error {
	if s.failOn == op {
		return errStore
	}
	return nil
}

func (s *memStore) InsertGame(_ context.Context, game *domain.GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertGame"); err != nil {
		return err
	}
	s.games = append(s.games, *game)
	return nil
}

func (s *memStore) GetStats(_ context.Context) (*domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetStats"); err != nil {
		return nil, err
	}
	stats := &domain.Stats{TotalGames: int64(len(s.games))}
	for _, g := range s.games {
		switch g.Outcome {
		case domain.OutcomePlayerWin:
			stats.PlayerScore++
		case domain.OutcomeComputerWin:
			stats.ComputerScore++
		}
	}
	return stats, nil
}

func (s *memStore) ListGames(_ context.Context, limit int) ([]domain.GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.GameRecord, len(s.games))
	copy(out, s.games)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpsertWallet(_ context.Context, userID int64, walletAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertWallet"); err != nil {
		return err
	}
	s.wallets[walletAddress] = userID
	return nil
}

func (s *memStore) ResolveUserID(_ context.Context, walletAddress string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.wallets[walletAddress]
	if !ok {
		return 0, &domain.NotFoundError{Kind: "wallet", Key: walletAddress}
	}
	return userID, nil
}

func (s *memStore) MarkPayoutRequested(_ context.Context, payout *domain.PayoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkPayoutRequested"); err != nil {
		return err
	}
	if existing, ok := s.payouts[payout.GameID]; ok && existing.State == domain.PayoutStateConfirmed {
		return nil
	}
	record := *payout
	record.State = domain.PayoutStateRequested
	record.Error = ""
	s.payouts[payout.GameID] = &record
	return nil
}

func (s *memStore) MarkPayoutConfirmed(_ context.Context, gameID string, transferID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.payouts[gameID]
	if !ok || record.State == domain.PayoutStateConfirmed {
		return false, nil
	}
	record.State = domain.PayoutStateConfirmed
	record.TransferID = transferID
	return true, nil
}

func (s *memStore) MarkPayoutFailed(_ context.Context, gameID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.payouts[gameID]
	if !ok || record.State == domain.PayoutStateConfirmed {
		return nil
	}
	record.State = domain.PayoutStateFailed
	record.Error = reason
	return nil
}

func (s *memStore) GetPayout(_ context.Context, gameID string) (*domain.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.payouts[gameID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "payout", Key: gameID}
	}
	out := *record
	return &out, nil
}

// fakeProvider honors spend ids the way the real provider does: a repeated
// spend id never produces a second transfer.
type fakeProvider struct {
	mu        sync.Mutex
	calls     []domain.TransferRequest
	transfers map[string]*domain.Transfer
	nextID    int64
	err       error
	invoices  map[int64]*domain.Invoice
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		transfers: make(map[string]*domain.Transfer),
		invoices:  make(map[int64]*domain.Invoice),
	}
}

func (p *fakeProvider) Transfer(_ context.Context, req domain.TransferRequest) (*domain.Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	if existing, ok := p.transfers[req.SpendID]; ok {
		return existing, nil
	}
	p.nextID++
	transfer := &domain.Transfer{
		TransferID:  p.nextID,
		UserID:      req.UserID,
		Asset:       req.Asset,
		Amount:      req.Amount,
		SpendID:     req.SpendID,
		Status:      "completed",
		CompletedAt: time.Now().UTC(),
	}
	p.transfers[req.SpendID] = transfer
	return transfer, nil
}

func (p *fakeProvider) CreateInvoice(_ context.Context, asset string, amount decimal.Decimal, description string) (*domain.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.nextID++
	invoice := &domain.Invoice{
		InvoiceID:   p.nextID,
		Asset:       asset,
		Amount:      amount,
		Description: description,
		Status:      domain.InvoiceStatusPending,
		PayURL:      "https://t.me/CryptoBot?start=invoice",
	}
	p.invoices[invoice.InvoiceID] = invoice
	return invoice, nil
}

func (p *fakeProvider) GetInvoice(_ context.Context, invoiceID int64) (*domain.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	invoice, ok := p.invoices[invoiceID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "invoice", Key: "missing"}
	}
	return invoice, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) distinctTransfers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transfers)
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) Acquire(_ context.Context, _ string) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

type fakeBoard struct {
	totals map[string]decimal.Decimal
}

func (b *fakeBoard) AddReward(_ context.Context, _, walletAddress string, amount decimal.Decimal) error {
	if b.totals == nil {
		b.totals = make(map[string]decimal.Decimal)
	}
	b.totals[walletAddress] = b.totals[walletAddress].Add(amount)
	return nil
}

func (b *fakeBoard) GetTopN(_ context.Context, _ string, n int) ([]domain.RewardEntry, error) {
	entries := make([]domain.RewardEntry, 0, len(b.totals))
	for wallet, total := range b.totals {
		entries = append(entries, domain.RewardEntry{WalletAddress: wallet, Total: total})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Total.GreaterThan(entries[j].Total) })
	if len(entries) > n {
		entries = entries[:n]
	}
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries, nil
}

type recordingHub struct {
	mu          sync.Mutex
	stats       []domain.Stats
	settlements []domain.Settlement
}

func (h *recordingHub) BroadcastStats(stats domain.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = append(h.stats, stats)
}

func (h *recordingHub) BroadcastPayout(settlement domain.Settlement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settlements = append(h.settlements, settlement)
}
