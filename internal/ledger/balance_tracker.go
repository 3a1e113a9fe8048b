package ledger

import (
	fpmath "CoverPool/internal/math"
	"fmt"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]fpmath.Amount
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]fpmath.Amount),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] = bt.balances[j.DebitAccount].Add(j.Amount)
	bt.balances[j.CreditAccount] = bt.balances[j.CreditAccount].Sub(j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) fpmath.Amount {
	return bt.balances[key]
}

// ComputeGlobalBalance sums all account balances (zero for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() fpmath.Amount {
	total := fpmath.Zero()
	for _, balance := range bt.balances {
		total = total.Add(balance)
	}
	return total
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.IsNegative() {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]fpmath.Amount {
	snapshot := make(map[AccountKey]fpmath.Amount, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances (snapshot recovery)
func (bt *BalanceTracker) Restore(balances map[AccountKey]fpmath.Amount) {
	bt.balances = make(map[AccountKey]fpmath.Amount, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
