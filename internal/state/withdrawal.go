package state

import (
	fpmath "CoverPool/internal/math"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

type WithdrawalPhase int

const (
	WithdrawalRequested WithdrawalPhase = iota
	WithdrawalPending
)

func (p WithdrawalPhase) String() string {
	switch p {
	case WithdrawalRequested:
		return "requested"
	case WithdrawalPending:
		return "pending"
	default:
		return fmt.Sprintf("WithdrawalPhase(%d)", int(p))
	}
}

// WithdrawalRequest is a provider's single in-flight withdrawal. Paid
// requests are removed from the queue.
type WithdrawalRequest struct {
	Provider    uuid.UUID       `json:"provider"`
	Shares      fpmath.Amount   `json:"shares"`
	RequestWeek int64           `json:"request_week"`
	PendingWeek int64           `json:"pending_week"`
	Phase       WithdrawalPhase `json:"phase"`
}

// WithdrawalPayout is the computed result of redeeming a ready request.
type WithdrawalPayout struct {
	Shares fpmath.Amount `json:"shares"`
	Value  fpmath.Amount `json:"value"` // shares at the current price
	Fee    fpmath.Amount `json:"fee"`   // retained by the pool
	Net    fpmath.Amount `json:"net"`   // paid to the provider
}

// WithdrawalQueue runs the two-phase delayed exit:
// requested --(delay weeks)--> pending --(ready weeks)--> paid.
type WithdrawalQueue struct {
	capital  *CapitalLedger
	requests map[uuid.UUID]*WithdrawalRequest
}

func NewWithdrawalQueue(capital *CapitalLedger) *WithdrawalQueue {
	return &WithdrawalQueue{
		capital:  capital,
		requests: make(map[uuid.UUID]*WithdrawalRequest),
	}
}

func (wq *WithdrawalQueue) Get(provider uuid.UUID) (*WithdrawalRequest, bool) {
	r, ok := wq.requests[provider]
	return r, ok
}

// All returns every open request ordered by provider.
func (wq *WithdrawalQueue) All() []*WithdrawalRequest {
	out := make([]*WithdrawalRequest, 0, len(wq.requests))
	for _, r := range wq.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Provider[:], out[j].Provider[:]) < 0
	})
	return out
}

// Request locks shares for withdrawal. Only one request per provider
// may be open at a time. The balance is checked before the open request.
func (wq *WithdrawalQueue) Request(provider uuid.UUID, shares fpmath.Amount, week int64) error {
	if shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p := wq.capital.Provider(provider); p == nil || p.Shares.LessThan(shares) {
		return ErrInsufficientShares
	}
	if _, open := wq.requests[provider]; open {
		return ErrWithdrawalInProgress
	}
	if err := wq.capital.Hold(provider, shares); err != nil {
		return err
	}
	wq.requests[provider] = &WithdrawalRequest{
		Provider:    provider,
		Shares:      shares,
		RequestWeek: week,
		Phase:       WithdrawalRequested,
	}
	return nil
}

// AdvancePending moves a request to pending once delayWeeks have passed
// since the request. Advancing an already pending request is a no-op;
// the returned bool reports whether the phase changed.
func (wq *WithdrawalQueue) AdvancePending(provider uuid.UUID, week, delayWeeks int64) (bool, error) {
	r, ok := wq.requests[provider]
	if !ok {
		return false, ErrNoWithdrawal
	}
	if r.Phase == WithdrawalPending {
		return false, nil
	}
	if week-r.RequestWeek < delayWeeks {
		return false, fmt.Errorf("%w: requested week %d, due week %d", ErrNotReadyYet, r.RequestWeek, r.RequestWeek+delayWeeks)
	}
	r.Phase = WithdrawalPending
	r.PendingWeek = week
	return true, nil
}

// QuoteReady checks that the request is payable at week and computes
// the payout without changing state.
func (wq *WithdrawalQueue) QuoteReady(provider uuid.UUID, week, readyWeeks int64, fee fpmath.Rate) (*WithdrawalPayout, error) {
	r, ok := wq.requests[provider]
	if !ok {
		return nil, ErrNoWithdrawal
	}
	if r.Phase != WithdrawalPending {
		return nil, fmt.Errorf("%w: withdrawal not pending", ErrNotReadyYet)
	}
	if week-r.PendingWeek < readyWeeks {
		return nil, fmt.Errorf("%w: pending week %d, ready week %d", ErrNotReadyYet, r.PendingWeek, r.PendingWeek+readyWeeks)
	}
	// The last shares out take the whole base: a fee would be left with
	// no holder and fall to the next depositor.
	if r.Shares.Equal(wq.capital.TotalShares()) {
		base := wq.capital.TotalBaseValue()
		return &WithdrawalPayout{Shares: r.Shares, Value: base, Fee: fpmath.Zero(), Net: base}, nil
	}
	value := wq.capital.ValueOf(r.Shares)
	net := value.MulRate(fee.Complement())
	return &WithdrawalPayout{
		Shares: r.Shares,
		Value:  value,
		Fee:    value.Sub(net),
		Net:    net,
	}, nil
}

// Complete burns the held shares and closes the request.
func (wq *WithdrawalQueue) Complete(provider uuid.UUID, payout *WithdrawalPayout) error {
	if _, ok := wq.requests[provider]; !ok {
		return ErrNoWithdrawal
	}
	if err := wq.capital.Redeem(provider, payout.Shares, payout.Net); err != nil {
		return err
	}
	delete(wq.requests, provider)
	return nil
}

// PendingShares sums shares held by requests that have reached pending.
func (wq *WithdrawalQueue) PendingShares() fpmath.Amount {
	total := fpmath.Zero()
	for _, r := range wq.requests {
		if r.Phase == WithdrawalPending {
			total = total.Add(r.Shares)
		}
	}
	return total
}

func (wq *WithdrawalQueue) Snapshot() []WithdrawalRequest {
	out := make([]WithdrawalRequest, 0, len(wq.requests))
	for _, r := range wq.All() {
		out = append(out, *r)
	}
	return out
}

func (wq *WithdrawalQueue) Restore(reqs []WithdrawalRequest) {
	wq.requests = make(map[uuid.UUID]*WithdrawalRequest, len(reqs))
	for i := range reqs {
		r := reqs[i]
		wq.requests[r.Provider] = &r
	}
}
