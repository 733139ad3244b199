package domain

import "time"

// Outcome is the classified result of a game
type Outcome string

const (
	OutcomePlayerWin   Outcome = "player_win"
	OutcomeComputerWin Outcome = "computer_win"
	OutcomeDraw        Outcome = "draw"
)

// GameRecord is one reported game. Records are immutable once stored.
type GameRecord struct {
	ID             string    `json:"id"`
	PlayerChoice   string    `json:"playerChoice"`
	ComputerChoice string    `json:"computerChoice"`
	Result         string    `json:"result"`
	Outcome        Outcome   `json:"outcome"`
	CreatedAt      time.Time `json:"timestamp"`
}

// Stats are derived from the full set of game records
type Stats struct {
	PlayerScore   int64 `json:"playerScore"`
	ComputerScore int64 `json:"computerScore"`
	TotalGames    int64 `json:"totalGames"`
}

// ResultLabels holds the two result texts that count as a win for either side
type ResultLabels struct {
	Win  string
	Lose string
}

// Classify maps a result text onto an Outcome by exact comparison.
// Any text other than the two labels is a draw.
func (l ResultLabels) Classify(result string) Outcome {
	switch result {
	case l.Win:
		return OutcomePlayerWin
	case l.Lose:
		return OutcomeComputerWin
	default:
		return OutcomeDraw
	}
}

// GameSubmission represents a request to record a game
type GameSubmission struct {
	PlayerChoice   string `json:"playerChoice"`
	ComputerChoice string `json:"computerChoice"`
	Result         string `json:"result"`
}

// Validate checks that all three fields are present
func (s GameSubmission) Validate() error {
	switch {
	case s.PlayerChoice == "":
		return Missing("playerChoice")
	case s.ComputerChoice == "":
		return Missing("computerChoice")
	case s.Result == "":
		return Missing("result")
	}
	return nil
}
