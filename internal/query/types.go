package query

import (
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"

	"github.com/google/uuid"
)

// WeekResponse is the engine's position in time and in the log.
type WeekResponse struct {
	Week         int64  `json:"week"`
	NextSequence int64  `json:"next_sequence"`
	StateHash    string `json:"state_hash"`
}

// CapacityResponse is how much more coverage a policy can sell in a week.
type CapacityResponse struct {
	PolicyID  int64         `json:"policy_id"`
	Week      int64         `json:"week"`
	Covered   fpmath.Amount `json:"covered"`
	Available fpmath.Amount `json:"available"`
}

// CoverageResponse is one buyer's record for (policy, week).
type CoverageResponse struct {
	PolicyID int64 `json:"policy_id"`
	Week     int64 `json:"week"`
	state.CoverageRecord
}

// BonusShare is one provider's part of a bonus split.
type BonusShare struct {
	Provider uuid.UUID     `json:"provider"`
	Amount   fpmath.Amount `json:"amount"`
}

// BonusResponse is a pro-rata split of a bonus by share balance.
type BonusResponse struct {
	Total       fpmath.Amount `json:"total"`
	TotalShares fpmath.Amount `json:"total_shares"`
	Shares      []BonusShare  `json:"shares"`
	Residual    fpmath.Amount `json:"residual"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Week          int64  `json:"week"`
}

// JournalPage is one page of journal history, newest first.
type JournalPage struct {
	Account      string                `json:"account"`
	Entries      []JournalHistoryEntry `json:"entries"`
	AsOfSequence int64                 `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Sum of all projected balances; zero when the journal is balanced.
	Imbalance string `json:"imbalance,omitempty"`
}
