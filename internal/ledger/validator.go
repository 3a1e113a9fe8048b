package ledger

import (
	fpmath "CoverPool/internal/math"
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); !total.IsZero() {
		return fmt.Errorf("global balance is non-zero: %s", total)
	}
	return nil
}

// ValidateSystemAccount checks that a pool account holds exactly the
// amount the pool state says it should.
func (v *InvariantValidator) ValidateSystemAccount(key AccountKey, expected fpmath.Amount) error {
	if got := v.tracker.GetBalance(key); !got.Equal(expected) {
		return fmt.Errorf("account %s holds %s, state expects %s", key.AccountPath(), got, expected)
	}
	return nil
}

// ValidateSystemNonNegative checks every pool account is >= 0
func (v *InvariantValidator) ValidateSystemNonNegative() error {
	for _, key := range []AccountKey{CapitalAccount, PremiumEscrowAccount, RefundReserveAccount} {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}
