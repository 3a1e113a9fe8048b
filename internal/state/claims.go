package state

import (
	fpmath "CoverPool/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// ClaimAndRefundEngine pays approved losses out of the pool and returns
// held-back premium to buyers of over-capacity weeks.
type ClaimAndRefundEngine struct {
	capital *CapitalLedger
	book    *PolicyBook
}

func NewClaimAndRefundEngine(capital *CapitalLedger, book *PolicyBook) *ClaimAndRefundEngine {
	return &ClaimAndRefundEngine{capital: capital, book: book}
}

// CheckClaim verifies the pool can pay amount.
func (e *ClaimAndRefundEngine) CheckClaim(amount fpmath.Amount) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(e.capital.TotalBaseValue()) {
		return fmt.Errorf("%w: claim %s exceeds collateral %s", ErrInsufficientCapacity, amount, e.capital.TotalBaseValue())
	}
	return nil
}

// PayClaim lowers the base value by amount. Every provider, including
// those with held withdrawal shares, absorbs the loss pro rata.
func (e *ClaimAndRefundEngine) PayClaim(amount fpmath.Amount) error {
	if err := e.CheckClaim(amount); err != nil {
		return err
	}
	return e.capital.RemoveValue(amount)
}

// QuoteRefund returns what buyer is owed for (policy, week). The week
// must already be accrued, since accrual fixes the shortfall.
func (e *ClaimAndRefundEngine) QuoteRefund(policyID, week int64, buyer uuid.UUID) (fpmath.Amount, error) {
	p, err := e.book.Policy(policyID)
	if err != nil {
		return fpmath.Zero(), err
	}
	if week > p.PremiumAccruedThroughWeek {
		return fpmath.Zero(), fmt.Errorf("%w: week %d, accrued through %d", ErrNotReadyToRefund, week, p.PremiumAccruedThroughWeek)
	}
	wb := e.book.Week(policyID, week)
	if wb == nil {
		return fpmath.Zero(), ErrNoCoverage
	}
	rec, ok := wb.records[buyer]
	if !ok {
		return fpmath.Zero(), ErrNoCoverage
	}
	if rec.Refunded {
		return fpmath.Zero(), ErrAlreadyRefunded
	}
	if wb.RefundTotal.IsZero() || wb.Covered.IsZero() {
		return fpmath.Zero(), nil
	}

	// The last open record takes the remainder, so the week's refunds sum
	// to RefundTotal exactly and nothing is stranded in the reserve.
	open, paid := 0, fpmath.Zero()
	for _, r := range wb.records {
		if r.Refunded {
			paid = paid.Add(r.Refund)
		} else {
			open++
		}
	}
	if open == 1 {
		return wb.RefundTotal.Sub(paid), nil
	}
	return wb.RefundTotal.MulDiv(rec.Amount, wb.Covered), nil
}

// CommitRefund marks the record refunded. A zero refund still closes it.
func (e *ClaimAndRefundEngine) CommitRefund(policyID, week int64, buyer uuid.UUID, amount fpmath.Amount) {
	rec, ok := e.book.Coverage(policyID, week, buyer)
	if !ok {
		panic(fmt.Sprintf("FATAL: commit refund without coverage: policy %d week %d", policyID, week))
	}
	rec.Refunded = true
	rec.Refund = amount
}

// OutstandingRefunds sums premium held back at accrual and not yet
// returned to buyers.
func (e *ClaimAndRefundEngine) OutstandingRefunds() fpmath.Amount {
	total := fpmath.Zero()
	for _, wb := range e.book.weeks {
		if wb.RefundTotal.IsZero() {
			continue
		}
		total = total.Add(wb.RefundTotal)
		for _, r := range wb.records {
			if r.Refunded {
				total = total.Sub(r.Refund)
			}
		}
	}
	return total
}
