package state

import (
	fpmath "CoverPool/internal/math"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Policy is one insurable product in the catalog.
type Policy struct {
	ID              int64       `json:"id"`
	CollateralRatio fpmath.Rate `json:"collateral_ratio"` // 500_000 = $1 backs $2
	WeeklyPremium   fpmath.Rate `json:"weekly_premium"`   // charged per week on the covered amount
	Name            string      `json:"name"`
	Terms           string      `json:"terms"`
	CreatedWeek     int64       `json:"created_week"`

	// Premium for every week <= this watermark has been recognized.
	PremiumAccruedThroughWeek int64 `json:"premium_accrued_through_week"`
}

// ValidatePolicy checks a catalog entry's rates.
func ValidatePolicy(ratio, premium fpmath.Rate) error {
	if ratio <= 0 || ratio > fpmath.RateOne {
		return fmt.Errorf("%w: collateral ratio must be in (0, 100%%], got %d", ErrInvalidParameter, ratio)
	}
	if premium <= 0 || premium > fpmath.RateOne {
		return fmt.Errorf("%w: weekly premium must be in (0, 100%%], got %d", ErrInvalidParameter, premium)
	}
	return nil
}

// CoverageRecord is one buyer's coverage of a policy for a single week.
type CoverageRecord struct {
	Buyer    uuid.UUID     `json:"buyer"`
	Amount   fpmath.Amount `json:"amount"`
	Premium  fpmath.Amount `json:"premium"`
	Refunded bool          `json:"refunded"`
	Refund   fpmath.Amount `json:"refund"`
}

// WeekBook aggregates coverage for one (policy, week).
type WeekBook struct {
	PolicyID int64         `json:"policy_id"`
	Week     int64         `json:"week"`
	Covered  fpmath.Amount `json:"covered"`
	Premium  fpmath.Amount `json:"premium"`
	Accrued  bool          `json:"accrued"`
	// Premium held back at accrual because coverage exceeded capacity.
	RefundTotal fpmath.Amount `json:"refund_total"`

	records map[uuid.UUID]*CoverageRecord
}

// Records returns coverage records ordered by buyer.
func (wb *WeekBook) Records() []*CoverageRecord {
	out := make([]*CoverageRecord, 0, len(wb.records))
	for _, r := range wb.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Buyer[:], out[j].Buyer[:]) < 0
	})
	return out
}

type weekKey struct {
	policyID int64
	week     int64
}

// PolicyBook owns the policy catalog and per-week coverage.
type PolicyBook struct {
	policies []*Policy
	weeks    map[weekKey]*WeekBook
}

func NewPolicyBook() *PolicyBook {
	return &PolicyBook{
		weeks: make(map[weekKey]*WeekBook),
	}
}

// AddPolicy appends a policy. IDs are assigned densely from 0.
func (pb *PolicyBook) AddPolicy(ratio, premium fpmath.Rate, name, terms string, week int64) (*Policy, error) {
	if err := ValidatePolicy(ratio, premium); err != nil {
		return nil, err
	}
	p := &Policy{
		ID:                        int64(len(pb.policies)),
		CollateralRatio:           ratio,
		WeeklyPremium:             premium,
		Name:                      name,
		Terms:                     terms,
		CreatedWeek:               week,
		PremiumAccruedThroughWeek: week,
	}
	pb.policies = append(pb.policies, p)
	return p, nil
}

// UpdatePolicy replaces the rates and metadata of an existing policy.
// Coverage already sold keeps the premium it was priced at.
func (pb *PolicyBook) UpdatePolicy(id int64, ratio, premium fpmath.Rate, name, terms string) error {
	p, err := pb.Policy(id)
	if err != nil {
		return err
	}
	if err := ValidatePolicy(ratio, premium); err != nil {
		return err
	}
	p.CollateralRatio = ratio
	p.WeeklyPremium = premium
	p.Name = name
	p.Terms = terms
	return nil
}

func (pb *PolicyBook) Policy(id int64) (*Policy, error) {
	if id < 0 || id >= int64(len(pb.policies)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, id)
	}
	return pb.policies[id], nil
}

func (pb *PolicyBook) Policies() []*Policy {
	return pb.policies
}

// Week returns the book for (policy, week) or nil when nothing was sold.
func (pb *PolicyBook) Week(policyID, week int64) *WeekBook {
	return pb.weeks[weekKey{policyID, week}]
}

func (pb *PolicyBook) weekOrCreate(policyID, week int64) *WeekBook {
	k := weekKey{policyID, week}
	wb := pb.weeks[k]
	if wb == nil {
		wb = &WeekBook{
			PolicyID: policyID,
			Week:     week,
			records:  make(map[uuid.UUID]*CoverageRecord),
		}
		pb.weeks[k] = wb
	}
	return wb
}

// CoveredAmount is the aggregate coverage sold for (policy, week).
func (pb *PolicyBook) CoveredAmount(policyID, week int64) fpmath.Amount {
	if wb := pb.Week(policyID, week); wb != nil {
		return wb.Covered
	}
	return fpmath.Zero()
}

// Coverage returns the buyer's record for (policy, week).
func (pb *PolicyBook) Coverage(policyID, week int64, buyer uuid.UUID) (*CoverageRecord, bool) {
	wb := pb.Week(policyID, week)
	if wb == nil {
		return nil, false
	}
	r, ok := wb.records[buyer]
	return r, ok
}

// EscrowedPremium sums premium paid for weeks not yet accrued.
func (pb *PolicyBook) EscrowedPremium() fpmath.Amount {
	total := fpmath.Zero()
	for _, wb := range pb.weeks {
		if !wb.Accrued {
			total = total.Add(wb.Premium)
		}
	}
	return total
}

// WeeklyPremium is the premium charged for one week of amount.
func WeeklyPremium(p *Policy, amount fpmath.Amount) fpmath.Amount {
	return amount.MulRate(p.WeeklyPremium)
}

// QuotePremium is the total premium for [start, end).
func (pb *PolicyBook) QuotePremium(p *Policy, amount fpmath.Amount, start, end int64) fpmath.Amount {
	return WeeklyPremium(p, amount).MulInt(end - start)
}

// Record creates or extends the buyer's coverage for every week in
// [start, end). Callers validate range and capacity first.
func (pb *PolicyBook) Record(policyID int64, buyer uuid.UUID, amount fpmath.Amount, start, end int64) error {
	p, err := pb.Policy(policyID)
	if err != nil {
		return err
	}
	perWeek := WeeklyPremium(p, amount)
	for w := start; w < end; w++ {
		wb := pb.weekOrCreate(policyID, w)
		if wb.Accrued {
			panic(fmt.Sprintf("FATAL: coverage recorded for accrued week %d of policy %d", w, policyID))
		}
		wb.Covered = wb.Covered.Add(amount)
		wb.Premium = wb.Premium.Add(perWeek)
		r := wb.records[buyer]
		if r == nil {
			r = &CoverageRecord{Buyer: buyer}
			wb.records[buyer] = r
		}
		r.Amount = r.Amount.Add(amount)
		r.Premium = r.Premium.Add(perWeek)
	}
	return nil
}

// PolicyBookSnapshot is the serializable form of a PolicyBook.
type PolicyBookSnapshot struct {
	Policies []Policy           `json:"policies"`
	Weeks    []WeekBookSnapshot `json:"weeks"`
}

type WeekBookSnapshot struct {
	WeekBook
	Records []CoverageRecord `json:"records"`
}

func (pb *PolicyBook) Snapshot() PolicyBookSnapshot {
	snap := PolicyBookSnapshot{
		Policies: make([]Policy, 0, len(pb.policies)),
		Weeks:    make([]WeekBookSnapshot, 0, len(pb.weeks)),
	}
	for _, p := range pb.policies {
		snap.Policies = append(snap.Policies, *p)
	}
	for _, wb := range pb.weeks {
		ws := WeekBookSnapshot{WeekBook: *wb}
		ws.records = nil
		for _, r := range wb.Records() {
			ws.Records = append(ws.Records, *r)
		}
		snap.Weeks = append(snap.Weeks, ws)
	}
	sort.Slice(snap.Weeks, func(i, j int) bool {
		if snap.Weeks[i].PolicyID != snap.Weeks[j].PolicyID {
			return snap.Weeks[i].PolicyID < snap.Weeks[j].PolicyID
		}
		return snap.Weeks[i].Week < snap.Weeks[j].Week
	})
	return snap
}

func (pb *PolicyBook) Restore(snap PolicyBookSnapshot) {
	pb.policies = make([]*Policy, 0, len(snap.Policies))
	for i := range snap.Policies {
		p := snap.Policies[i]
		pb.policies = append(pb.policies, &p)
	}
	pb.weeks = make(map[weekKey]*WeekBook, len(snap.Weeks))
	for i := range snap.Weeks {
		wb := snap.Weeks[i].WeekBook
		wb.records = make(map[uuid.UUID]*CoverageRecord, len(snap.Weeks[i].Records))
		for j := range snap.Weeks[i].Records {
			r := snap.Weeks[i].Records[j]
			wb.records[r.Buyer] = &r
		}
		pb.weeks[weekKey{wb.PolicyID, wb.Week}] = &wb
	}
}
