package state

import (
	fpmath "CoverPool/internal/math"
)

// BonusAllocation splits an external bonus across providers by share
// balance, held withdrawal shares included. It reads state only.
func (cl *CapitalLedger) BonusAllocation(total fpmath.Amount) *fpmath.ProRataSplit {
	holders := make([]fpmath.Holder, 0, len(cl.providers))
	for _, p := range cl.Providers() {
		holders = append(holders, fpmath.Holder{ID: p.ID, Weight: p.TotalShares()})
	}
	return fpmath.SplitProRata(total, holders)
}
