package math

import (
	"bytes"
	"sort"
)

// Holder is one participant in a pro-rata split.
type Holder struct {
	ID     [16]byte // UUID binary
	Weight Amount
}

type Allocation struct {
	ID     [16]byte
	Amount Amount
}

// ProRataSplit is the result of dividing Total across holders by weight.
type ProRataSplit struct {
	Total       Amount
	TotalWeight Amount
	Allocations []Allocation
	Residual    Amount // Total minus the sum of truncated allocations
}

// SplitProRata divides total across holders proportionally to weight,
// truncating each share. Holders with zero weight are skipped. Output is
// ordered by ID so that the result does not depend on input order.
func SplitProRata(total Amount, holders []Holder) *ProRataSplit {
	sorted := make([]Holder, len(holders))
	copy(sorted, holders)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})

	totalWeight := Zero()
	for _, h := range sorted {
		if h.Weight.Sign() > 0 {
			totalWeight = totalWeight.Add(h.Weight)
		}
	}

	split := &ProRataSplit{
		Total:       total,
		TotalWeight: totalWeight,
		Allocations: make([]Allocation, 0, len(sorted)),
		Residual:    total,
	}
	if totalWeight.IsZero() || total.Sign() <= 0 {
		return split
	}

	distributed := Zero()
	for _, h := range sorted {
		if h.Weight.Sign() <= 0 {
			continue
		}
		share := total.MulDiv(h.Weight, totalWeight)
		split.Allocations = append(split.Allocations, Allocation{ID: h.ID, Amount: share})
		distributed = distributed.Add(share)
	}
	split.Residual = total.Sub(distributed)

	return split
}
