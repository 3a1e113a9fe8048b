package state

import (
	fpmath "CoverPool/internal/math"
	"fmt"
)

// CapacityCalculator derives how much coverage the pool can still sell.
// Collateral is the full base value, which includes the manager's
// fee1 shares but not fee2 (already paid out).
type CapacityCalculator struct {
	capital *CapitalLedger
	book    *PolicyBook
}

func NewCapacityCalculator(capital *CapitalLedger, book *PolicyBook) *CapacityCalculator {
	return &CapacityCalculator{capital: capital, book: book}
}

// MaxCoverage returns collateral / collateralRatio.
func MaxCoverage(collateral fpmath.Amount, p *Policy) fpmath.Amount {
	return collateral.DivRate(p.CollateralRatio)
}

// Available is MaxCoverage minus coverage already sold for week,
// floored at zero.
func (cc *CapacityCalculator) Available(p *Policy, week int64) fpmath.Amount {
	limit := MaxCoverage(cc.capital.TotalBaseValue(), p)
	covered := cc.book.CoveredAmount(p.ID, week)
	if covered.Cmp(limit) >= 0 {
		return fpmath.Zero()
	}
	return limit.Sub(covered)
}

// CheckPurchase verifies that every week in [start, end) can absorb
// amount more coverage at the current collateral level.
func (cc *CapacityCalculator) CheckPurchase(p *Policy, amount fpmath.Amount, start, end int64) error {
	limit := MaxCoverage(cc.capital.TotalBaseValue(), p)
	for w := start; w < end; w++ {
		after := cc.book.CoveredAmount(p.ID, w).Add(amount)
		if after.GreaterThan(limit) {
			return fmt.Errorf("%w: week %d would cover %s, limit %s", ErrInsufficientCapacity, w, after, limit)
		}
	}
	return nil
}
