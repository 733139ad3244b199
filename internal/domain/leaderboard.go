package domain

import "github.com/shopspring/decimal"

// RewardEntry is one wallet on the rewards board
type RewardEntry struct {
	Rank          int64           `json:"rank"`
	WalletAddress string          `json:"walletAddress"`
	Total         decimal.Decimal `json:"total"`
}
