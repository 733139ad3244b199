package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResultWin is the game-result value that triggers a reward
const ResultWin = "win"

// PayoutState tracks a reward transfer for one game
type PayoutState string

const (
	PayoutStateRequested PayoutState = "requested"
	PayoutStateConfirmed PayoutState = "confirmed"
	PayoutStateFailed    PayoutState = "failed"
)

// SettlementOutcome is the terminal result of a settle call
type SettlementOutcome string

const (
	SettlementSkipped SettlementOutcome = "skipped"
	SettlementPaid    SettlementOutcome = "paid"
)

// MaxSpendIDLen is the longest spend id the provider accepts
const MaxSpendIDLen = 64

// SpendID returns the provider idempotency key for a game
func SpendID(gameID string) string {
	return "game_" + gameID
}

// Transfer is the provider's confirmation of a sent reward
type Transfer struct {
	TransferID  int64           `json:"transferId"`
	UserID      int64           `json:"userId"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	SpendID     string          `json:"spendId"`
	Status      string          `json:"status"`
	CompletedAt time.Time       `json:"completedAt"`
}

// TransferRequest is what the engine asks the provider to send
type TransferRequest struct {
	UserID  int64
	Asset   string
	Amount  decimal.Decimal
	SpendID string
	Comment string
}

// PayoutRecord is the local audit trail of a reward transfer.
// The provider remains the authority on whether a spend id was already paid.
type PayoutRecord struct {
	GameID        string          `json:"gameId"`
	SpendID       string          `json:"spendId"`
	PlayerAddress string          `json:"playerAddress"`
	UserID        int64           `json:"userId"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	State         PayoutState     `json:"state"`
	TransferID    int64           `json:"transferId,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// GameResult is a finished game reported for reward settlement
type GameResult struct {
	PlayerAddress string `json:"playerAddress"`
	Result        string `json:"result"`
	GameID        string `json:"gameId"`
}

// Settlement describes what SettleGameReward did
type Settlement struct {
	GameID   string            `json:"gameId"`
	Outcome  SettlementOutcome `json:"outcome"`
	Transfer *Transfer         `json:"transfer,omitempty"`
}
