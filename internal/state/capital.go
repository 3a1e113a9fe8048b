package state

import (
	fpmath "CoverPool/internal/math"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Provider is a capital provider's share position. Shares locked by a
// withdrawal request move to HeldShares but still count toward the pool
// total and keep earning until the payout.
type Provider struct {
	ID         uuid.UUID     `json:"id"`
	Shares     fpmath.Amount `json:"shares"`
	HeldShares fpmath.Amount `json:"held_shares"`
}

func (p *Provider) TotalShares() fpmath.Amount {
	return p.Shares.Add(p.HeldShares)
}

// CapitalLedger tracks pool shares and the base value backing them.
// amountPerShare is always derived as totalBase / totalShares so that
// per-provider values cannot drift from the pool totals.
type CapitalLedger struct {
	totalShares fpmath.Amount
	totalBase   fpmath.Amount
	providers   map[uuid.UUID]*Provider
}

func NewCapitalLedger() *CapitalLedger {
	return &CapitalLedger{
		providers: make(map[uuid.UUID]*Provider),
	}
}

func (cl *CapitalLedger) TotalShares() fpmath.Amount    { return cl.totalShares }
func (cl *CapitalLedger) TotalBaseValue() fpmath.Amount { return cl.totalBase }

// AmountPerShare returns base value per whole share. An empty pool
// prices shares 1:1.
func (cl *CapitalLedger) AmountPerShare() fpmath.Amount {
	if cl.totalShares.IsZero() {
		return fpmath.NewAmount(1)
	}
	return cl.totalBase.MulDiv(fpmath.NewAmount(1), cl.totalShares)
}

// SharesFor returns the shares minted for amount at the current price.
func (cl *CapitalLedger) SharesFor(amount fpmath.Amount) (fpmath.Amount, error) {
	if amount.Sign() <= 0 {
		return fpmath.Zero(), ErrInvalidAmount
	}
	if cl.totalShares.IsZero() {
		return amount, nil
	}
	if cl.totalBase.IsZero() {
		// Outstanding shares backed by nothing; any price would be wrong.
		return fpmath.Zero(), ErrPoolDepleted
	}
	shares := amount.MulDiv(cl.totalShares, cl.totalBase)
	if shares.IsZero() {
		return fpmath.Zero(), fmt.Errorf("%w: %s buys zero shares", ErrInvalidAmount, amount)
	}
	return shares, nil
}

// ValueOf converts shares to base value, truncating.
func (cl *CapitalLedger) ValueOf(shares fpmath.Amount) fpmath.Amount {
	if cl.totalShares.IsZero() {
		return fpmath.Zero()
	}
	return shares.MulDiv(cl.totalBase, cl.totalShares)
}

// Provider returns the provider record or nil.
func (cl *CapitalLedger) Provider(id uuid.UUID) *Provider {
	return cl.providers[id]
}

// ProviderShares returns liquid + held shares for id.
func (cl *CapitalLedger) ProviderShares(id uuid.UUID) fpmath.Amount {
	p := cl.providers[id]
	if p == nil {
		return fpmath.Zero()
	}
	return p.TotalShares()
}

// ProviderBaseAmount is the provider's share of the base value,
// including shares held by a pending withdrawal.
func (cl *CapitalLedger) ProviderBaseAmount(id uuid.UUID) fpmath.Amount {
	return cl.ValueOf(cl.ProviderShares(id))
}

// Providers returns all providers ordered by ID.
func (cl *CapitalLedger) Providers() []*Provider {
	out := make([]*Provider, 0, len(cl.providers))
	for _, p := range cl.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Mint adds amount to the base value and credits the matching shares
// to id. Used for deposits and for the share-denominated management fee.
func (cl *CapitalLedger) Mint(id uuid.UUID, amount fpmath.Amount) (fpmath.Amount, error) {
	shares, err := cl.SharesFor(amount)
	if err != nil {
		return fpmath.Zero(), err
	}
	p := cl.providers[id]
	if p == nil {
		p = &Provider{ID: id}
		cl.providers[id] = p
	}
	p.Shares = p.Shares.Add(shares)
	cl.totalShares = cl.totalShares.Add(shares)
	cl.totalBase = cl.totalBase.Add(amount)
	return shares, nil
}

// AddValue raises the base value without minting, which raises the
// price of every outstanding share.
func (cl *CapitalLedger) AddValue(amount fpmath.Amount) {
	if amount.IsNegative() {
		panic(fmt.Sprintf("FATAL: AddValue with negative amount %s", amount))
	}
	cl.totalBase = cl.totalBase.Add(amount)
}

// RemoveValue lowers the base value (claim payouts).
func (cl *CapitalLedger) RemoveValue(amount fpmath.Amount) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(cl.totalBase) {
		return fmt.Errorf("%w: need %s, pool holds %s", ErrInsufficientCapacity, amount, cl.totalBase)
	}
	cl.totalBase = cl.totalBase.Sub(amount)
	return nil
}

// Hold moves shares from liquid to held for a withdrawal request.
func (cl *CapitalLedger) Hold(id uuid.UUID, shares fpmath.Amount) error {
	if shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p := cl.providers[id]
	if p == nil || p.Shares.LessThan(shares) {
		return ErrInsufficientShares
	}
	p.Shares = p.Shares.Sub(shares)
	p.HeldShares = p.HeldShares.Add(shares)
	return nil
}

// Redeem burns held shares and removes payout from the base value. Any
// difference between the shares' value and payout stays with the pool.
func (cl *CapitalLedger) Redeem(id uuid.UUID, shares, payout fpmath.Amount) error {
	p := cl.providers[id]
	if p == nil || p.HeldShares.LessThan(shares) {
		return ErrInsufficientShares
	}
	if payout.GreaterThan(cl.totalBase) {
		return fmt.Errorf("%w: payout %s exceeds pool %s", ErrInsufficientCapacity, payout, cl.totalBase)
	}
	p.HeldShares = p.HeldShares.Sub(shares)
	cl.totalShares = cl.totalShares.Sub(shares)
	cl.totalBase = cl.totalBase.Sub(payout)
	return nil
}

// CapitalSnapshot is the serializable form of a CapitalLedger.
type CapitalSnapshot struct {
	TotalShares fpmath.Amount `json:"total_shares"`
	TotalBase   fpmath.Amount `json:"total_base"`
	Providers   []Provider    `json:"providers"`
}

func (cl *CapitalLedger) Snapshot() CapitalSnapshot {
	snap := CapitalSnapshot{
		TotalShares: cl.totalShares,
		TotalBase:   cl.totalBase,
		Providers:   make([]Provider, 0, len(cl.providers)),
	}
	for _, p := range cl.Providers() {
		snap.Providers = append(snap.Providers, *p)
	}
	return snap
}

func (cl *CapitalLedger) Restore(snap CapitalSnapshot) {
	cl.totalShares = snap.TotalShares
	cl.totalBase = snap.TotalBase
	cl.providers = make(map[uuid.UUID]*Provider, len(snap.Providers))
	for i := range snap.Providers {
		p := snap.Providers[i]
		cl.providers[p.ID] = &p
	}
}
