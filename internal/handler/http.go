package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rcrowley/go-metrics"
	"github.com/rps-rewards/internal/domain"
	"github.com/rps-rewards/internal/websocket"
	"github.com/rs/cors"
)

const maxBodyBytes = 1 << 20

// User-facing messages
const (
	msgGameSaved    = "Результат сохранен"
	msgNotEnough    = "Недостаточно данных"
	msgRewardSent   = "Reward sent"
	msgNoReward     = "No reward for this result"
	msgPayoutFailed = "Failed to send reward"
	msgInProgress   = "Reward payout already in progress"
	msgCheckFailed  = "Failed to check invoice"
)

// Ledger records games and reports stats
type Ledger interface {
	RecordGame(ctx context.Context, submission domain.GameSubmission) (*domain.GameRecord, error)
	GetStats(ctx context.Context) (*domain.Stats, error)
	ListGames(ctx context.Context, limit int) ([]domain.GameRecord, error)
}

// Invoices creates and checks deposit invoices
type Invoices interface {
	CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.Invoice, error)
	GetInvoiceStatus(ctx context.Context, invoiceID int64) (domain.InvoiceStatus, error)
}

// Rewards settles game rewards and reports on them
type Rewards interface {
	SettleGameReward(ctx context.Context, result domain.GameResult) (*domain.Settlement, error)
	GetPayout(ctx context.Context, gameID string) (*domain.PayoutRecord, error)
	TopRewarded(ctx context.Context, n int) ([]domain.RewardEntry, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the game and rewards API
type Handler struct {
	ledger   Ledger
	invoices Invoices
	rewards  Rewards
	store    Pinger
	hub      *websocket.Hub
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. hub may be nil.
func NewHandler(ledger Ledger, invoices Invoices, rewards Rewards, store Pinger, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		ledger:   ledger,
		invoices: invoices,
		rewards:  rewards,
		store:    store,
		hub:      hub,
		logger:   logger,
	}
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Get("/metrics", h.Metrics)
	r.Get("/ws", h.HandleWebSocket)

	r.Get("/stats", h.GetStats)
	r.Post("/game", h.RecordGame)
	r.Get("/games", h.ListGames)

	r.Post("/create-invoice", h.CreateInvoice)
	r.Post("/check-invoice", h.CheckInvoice)

	r.Post("/game-result", h.GameResult)
	r.Get("/payouts/{gameID}", h.GetPayout)
	r.Get("/rewards/top", h.TopRewarded)

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeError writes {"error": msg}
func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps a domain error onto a status code. Provider and store
// details are logged and replaced with a generic message.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *domain.ValidationError
	var nerr *domain.NotFoundError

	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &nerr):
		h.writeError(w, http.StatusNotFound, nerr.Error())
	case errors.Is(err, domain.ErrPayoutInProgress):
		h.writeError(w, http.StatusConflict, msgInProgress)
	case errors.Is(err, domain.ErrPayout):
		h.logger.Error(op+" failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		h.writeError(w, http.StatusInternalServerError, msgPayoutFailed)
	default:
		h.logger.Error(op+" failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError.Error())
	}
}

// writeUpstreamFailure is writeFailure for routes where a missing invoice or
// wallet is a server-side failure rather than a 404.
func (h *Handler) writeUpstreamFailure(w http.ResponseWriter, r *http.Request, op, msg string, err error) {
	if domain.IsNotFoundError(err) {
		h.logger.Error(op+" failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		h.writeError(w, http.StatusInternalServerError, msg)
		return
	}
	h.writeFailure(w, r, op, err)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	h.logger.Debug("request received",
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"body", dst,
	)
	return nil
}

func queryLimit(r *http.Request) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.writeError(w, http.StatusServiceUnavailable, "live updates disabled")
		return
	}
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the game store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Metrics dumps the metrics registry as JSON
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	metrics.WriteJSONOnce(metrics.DefaultRegistry, w)
}

// GetStats returns the aggregate game counters
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.GetStats(r.Context())
	if err != nil {
		h.writeFailure(w, r, "get stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// RecordGame stores one game and returns the updated scores
func (h *Handler) RecordGame(w http.ResponseWriter, r *http.Request) {
	var submission domain.GameSubmission
	if err := h.decode(w, r, &submission); err != nil {
		h.writeError(w, http.StatusBadRequest, msgNotEnough)
		return
	}

	if _, err := h.ledger.RecordGame(r.Context(), submission); err != nil {
		if domain.IsValidationError(err) {
			h.writeError(w, http.StatusBadRequest, msgNotEnough)
			return
		}
		h.writeFailure(w, r, "record game", err)
		return
	}

	stats, err := h.ledger.GetStats(r.Context())
	if err != nil {
		h.writeFailure(w, r, "get stats", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": msgGameSaved,
		"stats": map[string]int64{
			"playerScore":   stats.PlayerScore,
			"computerScore": stats.ComputerScore,
		},
	})
}

// ListGames returns the most recent games
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.ledger.ListGames(r.Context(), queryLimit(r))
	if err != nil {
		h.writeFailure(w, r, "list games", err)
		return
	}
	if games == nil {
		games = []domain.GameRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"games": games})
}

// CreateInvoice opens a deposit invoice at the payment provider
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateInvoiceRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrValidation.Error())
		return
	}

	invoice, err := h.invoices.CreateInvoice(r.Context(), req)
	if err != nil {
		h.writeFailure(w, r, "create invoice", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"invoiceId": invoice.InvoiceID,
		"payUrl":    invoice.PayURL,
	})
}

type checkInvoiceRequest struct {
	InvoiceID int64 `json:"invoiceId"`
}

// CheckInvoice polls the provider once for an invoice's status
func (h *Handler) CheckInvoice(w http.ResponseWriter, r *http.Request) {
	var req checkInvoiceRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrValidation.Error())
		return
	}

	status, err := h.invoices.GetInvoiceStatus(r.Context(), req.InvoiceID)
	if err != nil {
		h.writeUpstreamFailure(w, r, "check invoice", msgCheckFailed, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]domain.InvoiceStatus{"status": status})
}

// GameResult settles the reward for a finished game
func (h *Handler) GameResult(w http.ResponseWriter, r *http.Request) {
	var result domain.GameResult
	if err := h.decode(w, r, &result); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrValidation.Error())
		return
	}

	settlement, err := h.rewards.SettleGameReward(r.Context(), result)
	if err != nil {
		h.writeUpstreamFailure(w, r, "settle game reward", msgPayoutFailed, err)
		return
	}

	if settlement.Outcome != domain.SettlementPaid {
		h.writeJSON(w, http.StatusOK, map[string]string{"message": msgNoReward})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    msgRewardSent,
		"transferId": settlement.Transfer.TransferID,
	})
}

// GetPayout returns the local payout record for a game
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.rewards.GetPayout(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeFailure(w, r, "get payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// TopRewarded returns the wallets with the highest reward totals
func (h *Handler) TopRewarded(w http.ResponseWriter, r *http.Request) {
	entries, err := h.rewards.TopRewarded(r.Context(), queryLimit(r))
	if err != nil {
		h.writeFailure(w, r, "top rewarded", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
