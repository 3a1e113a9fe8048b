package core

import (
	"CoverPool/internal/ledger"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/state"
	"encoding/hex"

	"github.com/google/uuid"
)

// Read-only views. Every query takes the engine lock and returns copies,
// so callers never observe a command half applied.

// PoolSummary is the pool-wide view.
type PoolSummary struct {
	Name               string           `json:"name"`
	Configured         bool             `json:"configured"`
	Params             state.PoolParams `json:"params"`
	CurrentWeek        int64            `json:"current_week"`
	LastAppliedWeek    int64            `json:"last_applied_week"`
	NextSequence       int64            `json:"next_sequence"`
	StateHash          string           `json:"state_hash"`
	TotalShares        fpmath.Amount    `json:"total_shares"`
	Collateral         fpmath.Amount    `json:"collateral"`
	AmountPerShare     fpmath.Amount    `json:"amount_per_share"`
	EscrowedPremium    fpmath.Amount    `json:"escrowed_premium"`
	OutstandingRefunds fpmath.Amount    `json:"outstanding_refunds"`
	Providers          int              `json:"providers"`
	Policies           int              `json:"policies"`
	GovernanceRequests int              `json:"governance_requests"`
}

// ProviderView is one capital provider's position.
type ProviderView struct {
	ID         uuid.UUID                `json:"id"`
	Shares     fpmath.Amount            `json:"shares"`
	HeldShares fpmath.Amount            `json:"held_shares"`
	BaseAmount fpmath.Amount            `json:"base_amount"`
	Withdrawal *state.WithdrawalRequest `json:"withdrawal,omitempty"`
}

// PolicyView is a policy plus its capacity for the current week.
type PolicyView struct {
	state.Policy
	AvailableCapacity fpmath.Amount `json:"available_capacity"`
}

// RequestView is a governance request with its tally.
type RequestView struct {
	ID           int64              `json:"id"`
	Kind         string             `json:"kind"`
	Proposer     uuid.UUID          `json:"proposer"`
	Payload      state.Payload      `json:"payload"`
	Votes        map[uuid.UUID]bool `json:"votes"`
	Support      int                `json:"support"`
	Threshold    int                `json:"threshold"`
	CreatedWeek  int64              `json:"created_week"`
	Executed     bool               `json:"executed"`
	ExecutedWeek int64              `json:"executed_week,omitempty"`
}

// CommitteeView is the current governance body.
type CommitteeView struct {
	Manager   uuid.UUID   `json:"manager"`
	Members   []uuid.UUID `json:"members"`
	Threshold int         `json:"threshold"`
}

func (e *Engine) CurrentWeek() int64 {
	return e.clock.CurrentWeek()
}

// queryWeek is the week read-side calculations use: the clock, never
// behind a week the engine already applied.
func (e *Engine) queryWeek() int64 {
	week := e.clock.CurrentWeek()
	if last, ok := e.weeks.LastWeek(); ok && last > week {
		return last
	}
	return week
}

// UserBaseAmount is the provider's share of the pool's base value.
func (e *Engine) UserBaseAmount(provider uuid.UUID) fpmath.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capital.ProviderBaseAmount(provider)
}

// CollateralAmount is the pool's total base value.
func (e *Engine) CollateralAmount() fpmath.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capital.TotalBaseValue()
}

// AvailableCapacity is how much more coverage policyID can sell for the
// current week.
func (e *Engine) AvailableCapacity(policyID int64) (fpmath.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availableCapacity(policyID, e.queryWeek())
}

// AvailableCapacityAt is AvailableCapacity for an arbitrary week.
func (e *Engine) AvailableCapacityAt(policyID, week int64) (fpmath.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availableCapacity(policyID, week)
}

func (e *Engine) availableCapacity(policyID, week int64) (fpmath.Amount, error) {
	p, err := e.book.Policy(policyID)
	if err != nil {
		return fpmath.Zero(), err
	}
	return e.capacity.Available(p, week), nil
}

func (e *Engine) CoverageOf(policyID, week int64, buyer uuid.UUID) (state.CoverageRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.book.Coverage(policyID, week, buyer)
	if !ok {
		return state.CoverageRecord{}, false
	}
	return *r, true
}

func (e *Engine) CoveredAmount(policyID, week int64) fpmath.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.CoveredAmount(policyID, week)
}

// WeekBook returns the aggregate and per-buyer coverage of (policy, week).
func (e *Engine) WeekBook(policyID, week int64) (state.WeekBookSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wb := e.book.Week(policyID, week)
	if wb == nil {
		return state.WeekBookSnapshot{}, false
	}
	out := state.WeekBookSnapshot{WeekBook: *wb}
	for _, r := range wb.Records() {
		out.Records = append(out.Records, *r)
	}
	return out, true
}

// QuotePremium prices coverage without buying it.
func (e *Engine) QuotePremium(policyID int64, amount fpmath.Amount, start, end int64) (fpmath.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.book.Policy(policyID)
	if err != nil {
		return fpmath.Zero(), err
	}
	if end <= start {
		return fpmath.Zero(), state.ErrInvalidRange
	}
	return e.book.QuotePremium(p, amount, start, end), nil
}

func (e *Engine) Policies() []PolicyView {
	e.mu.Lock()
	defer e.mu.Unlock()
	week := e.queryWeek()
	out := make([]PolicyView, 0, len(e.book.Policies()))
	for _, p := range e.book.Policies() {
		out = append(out, PolicyView{Policy: *p, AvailableCapacity: e.capacity.Available(p, week)})
	}
	return out
}

func (e *Engine) Policy(id int64) (PolicyView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.book.Policy(id)
	if err != nil {
		return PolicyView{}, err
	}
	return PolicyView{Policy: *p, AvailableCapacity: e.capacity.Available(p, e.queryWeek())}, nil
}

func (e *Engine) Provider(id uuid.UUID) (ProviderView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.capital.Provider(id)
	if p == nil {
		return ProviderView{}, false
	}
	view := ProviderView{
		ID:         p.ID,
		Shares:     p.Shares,
		HeldShares: p.HeldShares,
		BaseAmount: e.capital.ProviderBaseAmount(id),
	}
	if r, ok := e.withdrawals.Get(id); ok {
		copied := *r
		view.Withdrawal = &copied
	}
	return view, true
}

func (e *Engine) Withdrawals() []state.WithdrawalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdrawals.Snapshot()
}

func (e *Engine) Committee() CommitteeView {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.governance.Committee()
	return CommitteeView{
		Manager:   c.Manager(),
		Members:   c.Members(),
		Threshold: c.Threshold(),
	}
}

// CommitteeIndexPlusOne is the 1-based committee position, 0 if absent.
func (e *Engine) CommitteeIndexPlusOne(id uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.governance.Committee().IndexPlusOne(id)
}

func (e *Engine) GovernanceQueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.governance.Len()
}

func (e *Engine) GovernanceRequests() []RequestView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RequestView, 0, e.governance.Len())
	for _, r := range e.governance.Requests() {
		out = append(out, e.requestView(r))
	}
	return out
}

func (e *Engine) GovernanceRequest(id int64) (RequestView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.governance.Request(id)
	if err != nil {
		return RequestView{}, err
	}
	return e.requestView(r), nil
}

func (e *Engine) requestView(r *state.GovernanceRequest) RequestView {
	votes := make(map[uuid.UUID]bool, len(r.Votes))
	for k, v := range r.Votes {
		votes[k] = v
	}
	return RequestView{
		ID:           r.ID,
		Kind:         r.Kind().String(),
		Proposer:     r.Proposer,
		Payload:      r.Payload,
		Votes:        votes,
		Support:      e.governance.Support(r),
		Threshold:    e.governance.Committee().Threshold(),
		CreatedWeek:  r.CreatedWeek,
		Executed:     r.Executed,
		ExecutedWeek: r.ExecutedWeek,
	}
}

// BonusAllocation splits total across providers by share balance.
func (e *Engine) BonusAllocation(total fpmath.Amount) *fpmath.ProRataSplit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capital.BonusAllocation(total)
}

func (e *Engine) Params() state.PoolParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// Balance returns the journal balance of an account.
func (e *Engine) Balance(key ledger.AccountKey) fpmath.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances.GetBalance(key)
}

func (e *Engine) Pool() PoolSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, _ := e.weeks.LastWeek()
	hash := e.hasher.GetPrevHash()
	return PoolSummary{
		Name:               e.params.Name,
		Configured:         e.configured,
		Params:             e.params,
		CurrentWeek:        e.queryWeek(),
		LastAppliedWeek:    last,
		NextSequence:       e.sequence,
		StateHash:          hex.EncodeToString(hash[:]),
		TotalShares:        e.capital.TotalShares(),
		Collateral:         e.capital.TotalBaseValue(),
		AmountPerShare:     e.capital.AmountPerShare(),
		EscrowedPremium:    e.book.EscrowedPremium(),
		OutstandingRefunds: e.claims.OutstandingRefunds(),
		Providers:          len(e.capital.Providers()),
		Policies:           len(e.book.Policies()),
		GovernanceRequests: e.governance.Len(),
	}
}

// DueWithdrawals lists providers whose request can advance at week.
func (e *Engine) DueWithdrawals(week int64) (pending, ready []uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.withdrawals.All() {
		switch r.Phase {
		case state.WithdrawalRequested:
			if week-r.RequestWeek >= e.params.WithdrawDelayWeeks {
				pending = append(pending, r.Provider)
			}
		case state.WithdrawalPending:
			if week-r.PendingWeek >= e.params.WithdrawReadyWeeks {
				ready = append(ready, r.Provider)
			}
		}
	}
	return pending, ready
}

// GetSequence returns the next sequence to assign.
func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

func (e *Engine) Configured() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configured
}
