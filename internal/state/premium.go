package state

import (
	fpmath "CoverPool/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// WeekAccrual is the recognized premium of one (policy, week).
type WeekAccrual struct {
	Week        int64         `json:"week"`
	Covered     fpmath.Amount `json:"covered"`
	MaxCoverage fpmath.Amount `json:"max_coverage"`
	Premium     fpmath.Amount `json:"premium"`
	Refund      fpmath.Amount `json:"refund"` // held back for buyers
	PoolShare   fpmath.Amount `json:"pool_share"`
	Fee1        fpmath.Amount `json:"fee1"`
	Fee2        fpmath.Amount `json:"fee2"`
	Fee1Shares  fpmath.Amount `json:"fee1_shares"` // set by Apply
}

// AccrualPlan is the computed, not yet applied, accrual of one policy
// from its watermark through a target week.
type AccrualPlan struct {
	PolicyID    int64         `json:"policy_id"`
	FromWeek    int64         `json:"from_week"` // exclusive
	ThroughWeek int64         `json:"through_week"`
	Weeks       []WeekAccrual `json:"weeks"`

	TotalPremium fpmath.Amount `json:"total_premium"`
	TotalRefund  fpmath.Amount `json:"total_refund"`
	TotalPool    fpmath.Amount `json:"total_pool"`
	TotalFee1    fpmath.Amount `json:"total_fee1"`
	TotalFee2    fpmath.Amount `json:"total_fee2"`
}

// Empty reports whether applying the plan would only move the watermark.
func (ap *AccrualPlan) Empty() bool { return len(ap.Weeks) == 0 }

// SplitPremium divides net premium into the pool part and the two
// management fees. The parts always sum to net.
func SplitPremium(net fpmath.Amount, fee1, fee2 fpmath.Rate) (pool, f1, f2 fpmath.Amount) {
	f1 = net.MulRate(fee1)
	f2 = net.MulRate(fee2)
	pool = net.Sub(f1).Sub(f2)
	return pool, f1, f2
}

// PremiumAccrual recognizes escrowed premium week by week.
type PremiumAccrual struct {
	capital *CapitalLedger
	book    *PolicyBook
}

func NewPremiumAccrual(capital *CapitalLedger, book *PolicyBook) *PremiumAccrual {
	return &PremiumAccrual{capital: capital, book: book}
}

// Plan computes the accrual of policyID for every week in
// (watermark, currentWeek]. Each week's shortfall test uses the
// collateral as it stands before that week's premium, including the
// premium of earlier weeks in the same plan.
func (pa *PremiumAccrual) Plan(policyID, currentWeek int64, params *PoolParams) (*AccrualPlan, error) {
	p, err := pa.book.Policy(policyID)
	if err != nil {
		return nil, err
	}

	plan := &AccrualPlan{
		PolicyID:    policyID,
		FromWeek:    p.PremiumAccruedThroughWeek,
		ThroughWeek: p.PremiumAccruedThroughWeek,
	}
	if currentWeek <= p.PremiumAccruedThroughWeek {
		return plan, nil
	}
	plan.ThroughWeek = currentWeek

	collateral := pa.capital.TotalBaseValue()
	for w := p.PremiumAccruedThroughWeek + 1; w <= currentWeek; w++ {
		wb := pa.book.Week(policyID, w)
		if wb == nil || wb.Covered.IsZero() {
			continue
		}

		wa := WeekAccrual{
			Week:        w,
			Covered:     wb.Covered,
			MaxCoverage: MaxCoverage(collateral, p),
			Premium:     wb.Premium,
			Refund:      fpmath.Zero(),
		}
		if wa.Covered.GreaterThan(wa.MaxCoverage) {
			shortfall := wa.Covered.Sub(wa.MaxCoverage)
			wa.Refund = wa.Premium.MulDiv(shortfall, wa.Covered)
		}
		wa.PoolShare, wa.Fee1, wa.Fee2 = SplitPremium(wa.Premium.Sub(wa.Refund), params.ManagementFee1, params.ManagementFee2)

		collateral = collateral.Add(wa.PoolShare).Add(wa.Fee1)

		plan.TotalPremium = plan.TotalPremium.Add(wa.Premium)
		plan.TotalRefund = plan.TotalRefund.Add(wa.Refund)
		plan.TotalPool = plan.TotalPool.Add(wa.PoolShare)
		plan.TotalFee1 = plan.TotalFee1.Add(wa.Fee1)
		plan.TotalFee2 = plan.TotalFee2.Add(wa.Fee2)
		plan.Weeks = append(plan.Weeks, wa)
	}
	return plan, nil
}

// Apply commits a plan produced by Plan against unchanged state. The
// pool share raises the price of existing shares, fee1 is minted to
// manager at the resulting price. A fee1 too small to buy a share unit
// stays in the pool.
func (pa *PremiumAccrual) Apply(plan *AccrualPlan, manager uuid.UUID) {
	p, err := pa.book.Policy(plan.PolicyID)
	if err != nil {
		panic(fmt.Sprintf("FATAL: apply accrual for unknown policy %d", plan.PolicyID))
	}
	if p.PremiumAccruedThroughWeek != plan.FromWeek {
		panic(fmt.Sprintf("FATAL: stale accrual plan for policy %d: from %d, watermark %d",
			plan.PolicyID, plan.FromWeek, p.PremiumAccruedThroughWeek))
	}

	for i := range plan.Weeks {
		wa := &plan.Weeks[i]
		pa.capital.AddValue(wa.PoolShare)
		if wa.Fee1.Sign() > 0 {
			shares, err := pa.capital.Mint(manager, wa.Fee1)
			if err != nil {
				pa.capital.AddValue(wa.Fee1)
				shares = fpmath.Zero()
			}
			wa.Fee1Shares = shares
		}

		wb := pa.book.Week(plan.PolicyID, wa.Week)
		wb.Accrued = true
		wb.RefundTotal = wa.Refund
	}
	p.PremiumAccruedThroughWeek = plan.ThroughWeek
}
