package ledger

import (
	fpmath "CoverPool/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawalPayout
	JournalTypePremiumPaid
	JournalTypePremiumAccrued
	JournalTypeManagementFee1
	JournalTypeManagementFee2
	JournalTypeRefundReserved
	JournalTypeRefundPaid
	JournalTypeClaimPayout
)

var journalTypeNames = [...]string{
	"deposit",
	"withdrawal_payout",
	"premium_paid",
	"premium_accrued",
	"management_fee1",
	"management_fee2",
	"refund_reserved",
	"refund_paid",
	"claim_payout",
}

func (t JournalType) String() string {
	if t >= 0 && int(t) < len(journalTypeNames) {
		return journalTypeNames[t]
	}
	return fmt.Sprintf("JournalType(%d)", int32(t))
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID     // Unique identifier
	BatchID       uuid.UUID     // Groups balanced entries
	EventRef      string        // Idempotency key of source command
	Sequence      int64         // Global command sequence
	DebitAccount  AccountKey    // Account receiving debit (balance increases)
	CreditAccount AccountKey    // Account receiving credit (balance decreases)
	Amount        fpmath.Amount // ALWAYS positive
	JournalType   JournalType
	Week          int64 // Versioned input week
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID  uuid.UUID
	EventRef string
	Sequence int64
	Week     int64
	Journals []Journal
}

// Validate ensures the batch is well-formed. Each journal moves one
// positive amount from credit to debit, so every entry is balanced on
// its own and a batch is balanced when every entry is.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %s", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}

// Total sums journal amounts of the given type.
func (b *Batch) Total(jt JournalType) fpmath.Amount {
	total := fpmath.Zero()
	for _, j := range b.Journals {
		if j.JournalType == jt {
			total = total.Add(j.Amount)
		}
	}
	return total
}
